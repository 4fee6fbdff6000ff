// Package appointments keeps the live view of every booking and creates new ones after a conflict check.
package appointments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"healthconnect/backend/internal/domain"
	"healthconnect/backend/internal/security"
	"healthconnect/backend/internal/store"
)

const MaxTitleLength = 200

// ErrBookingConflict is returned when the requested interval overlaps an existing appointment.
var ErrBookingConflict = errors.New("This time slot is already booked. Please choose another time.")

type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func validationError(msg string) error {
	return &ValidationError{msg: msg}
}

// Recorder receives booking and snapshot events. The metrics collector implements it.
type Recorder interface {
	RecordBooking(result string, d time.Duration)
	RecordSnapshot(size int)
}

type Option func(*Store)

// WithSnapshotCache seeds the view from cache until the first live snapshot and saves every live
// snapshot back to it.
func WithSnapshotCache(cache store.SnapshotCache) Option {
	return func(s *Store) { s.cache = cache }
}

// WithSerializedBookings makes the conflict check and the insert one critical section. Collections that
// implement store.AppointmentTransactor serialize in the database, others behind a process-local lock.
func WithSerializedBookings() Option {
	return func(s *Store) { s.serialize = true }
}

func WithRecorder(r Recorder) Option {
	return func(s *Store) { s.recorder = r }
}

func WithLogger(log *slog.Logger) Option {
	return func(s *Store) { s.log = log }
}

type Store struct {
	coll      store.AppointmentCollection
	cache     store.SnapshotCache
	recorder  Recorder
	log       *slog.Logger
	serialize bool
	writeMu   sync.Mutex

	mu          sync.RWMutex
	snapshot    []domain.Appointment
	live        bool
	unsubscribe store.Unsubscribe
}

func NewStore(coll store.AppointmentCollection, opts ...Option) *Store {
	s := &Store{coll: coll, log: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(slog.String("component", "appointment_store"))
	return s
}

// Activate opens the live subscription. It stays open until Deactivate or until ctx is done.
// Activating an active store is a no-op.
func (s *Store) Activate(ctx context.Context) error {
	s.mu.Lock()
	active := s.unsubscribe != nil
	s.mu.Unlock()
	if active {
		return nil
	}

	s.seedFromCache(ctx)

	unsubscribe, err := s.coll.Subscribe(ctx, s.applySnapshot)
	if err != nil {
		return fmt.Errorf("subscribe to appointments: %w", err)
	}

	s.mu.Lock()
	if s.unsubscribe != nil {
		s.mu.Unlock()
		unsubscribe()
		return nil
	}
	s.unsubscribe = unsubscribe
	s.mu.Unlock()
	return nil
}

// Deactivate releases the live subscription. The last snapshot stays readable.
func (s *Store) Deactivate() {
	s.mu.Lock()
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// Appointments returns a copy of the current snapshot, ordered by start.
func (s *Store) Appointments() []domain.Appointment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Appointment, len(s.snapshot))
	copy(out, s.snapshot)
	return out
}

// Live reports whether a snapshot from the collection has been applied.
func (s *Store) Live() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.live
}

func (s *Store) seedFromCache(ctx context.Context) {
	if s.cache == nil {
		return
	}
	appts, err := s.cache.Load(ctx)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.log.Warn("load snapshot cache failed", slog.String("error", err.Error()))
		}
		return
	}

	s.mu.Lock()
	if !s.live {
		s.snapshot = appts
	}
	s.mu.Unlock()
}

func (s *Store) applySnapshot(appts []domain.Appointment) {
	s.mu.Lock()
	s.snapshot = appts
	s.live = true
	s.mu.Unlock()

	if s.recorder != nil {
		s.recorder.RecordSnapshot(len(appts))
	}
	s.log.Debug("snapshot applied", slog.Int("count", len(appts)))

	if s.cache != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.cache.Save(ctx, appts); err != nil {
			s.log.Warn("save snapshot cache failed", slog.String("error", err.Error()))
		}
	}
}

type CreateInput struct {
	Title   string
	Start   time.Time
	End     time.Time
	OwnerID string
}

// Create validates and sanitizes in, checks the collection for an overlapping booking and inserts the
// appointment. It returns ErrBookingConflict without writing when the interval is taken.
func (s *Store) Create(ctx context.Context, in CreateInput) (id uuid.UUID, err error) {
	began := time.Now()
	defer func() {
		if s.recorder != nil {
			s.recorder.RecordBooking(bookingResult(err), time.Since(began))
		}
	}()

	appt, err := newAppointment(in)
	if err != nil {
		return uuid.Nil, err
	}

	if !s.serialize {
		return s.checkAndInsert(ctx, appt)
	}

	if txr, ok := s.coll.(store.AppointmentTransactor); ok {
		err = txr.InTransaction(ctx, func(ctx context.Context, tx store.AppointmentTx) error {
			existing, err := tx.FindOverlapping(ctx, appt.StartTime, appt.EndTime)
			if err != nil {
				return fmt.Errorf("check conflicts: %w", err)
			}
			if len(existing) > 0 {
				return ErrBookingConflict
			}
			created, err := tx.InsertAppointment(ctx, appt)
			if err != nil {
				return fmt.Errorf("insert appointment: %w", err)
			}
			id = created.ID
			return tx.NotifyChanged(ctx, created.ID)
		})
		if err != nil {
			return uuid.Nil, err
		}
		return id, nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.checkAndInsert(ctx, appt)
}

func (s *Store) checkAndInsert(ctx context.Context, appt domain.Appointment) (uuid.UUID, error) {
	conflict, err := s.HasConflict(ctx, appt.StartTime, appt.EndTime)
	if err != nil {
		return uuid.Nil, err
	}
	if conflict {
		return uuid.Nil, ErrBookingConflict
	}

	id, err := s.coll.Insert(ctx, appt)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert appointment: %w", err)
	}
	return id, nil
}

// HasConflict reports whether any stored appointment overlaps [start, end). It queries the collection,
// not the local snapshot.
func (s *Store) HasConflict(ctx context.Context, start, end time.Time) (bool, error) {
	existing, err := s.coll.FindOverlapping(ctx, start.UTC(), end.UTC())
	if err != nil {
		return false, fmt.Errorf("check conflicts: %w", err)
	}
	return len(existing) > 0, nil
}

func newAppointment(in CreateInput) (domain.Appointment, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return domain.Appointment{}, validationError("title is required")
	}
	if strings.TrimSpace(in.OwnerID) == "" {
		return domain.Appointment{}, validationError("owner_id is required")
	}
	if in.Start.IsZero() || in.End.IsZero() {
		return domain.Appointment{}, validationError("start and end are required")
	}

	start := in.Start.UTC()
	end := in.End.UTC()
	if !start.Before(end) {
		return domain.Appointment{}, validationError("end must be after start")
	}

	title = security.SanitizeText(security.TruncateRunes(title, MaxTitleLength))
	if title == "" {
		return domain.Appointment{}, validationError("title is required")
	}

	return domain.Appointment{
		OwnerID:   strings.TrimSpace(in.OwnerID),
		Title:     title,
		StartTime: start,
		EndTime:   end,
	}, nil
}

func bookingResult(err error) string {
	var vErr *ValidationError
	switch {
	case err == nil:
		return "created"
	case errors.Is(err, ErrBookingConflict):
		return "conflict"
	case errors.As(err, &vErr):
		return "invalid"
	default:
		return "error"
	}
}
