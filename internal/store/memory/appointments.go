package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"healthconnect/backend/internal/domain"
	"healthconnect/backend/internal/store"
)

// AppointmentCollection is an in-process appointment collection with live snapshot delivery.
type AppointmentCollection struct {
	mu     sync.RWMutex
	appts  []domain.Appointment
	subs   map[int]*subscriber
	nextID int
}

type subscriber struct {
	fn      func([]domain.Appointment)
	pending chan []domain.Appointment
	done    chan struct{}
}

func NewAppointmentCollection() *AppointmentCollection {
	return &AppointmentCollection{subs: make(map[int]*subscriber)}
}

func (c *AppointmentCollection) Subscribe(ctx context.Context, onSnapshot func([]domain.Appointment)) (store.Unsubscribe, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	sub := &subscriber{
		fn:      onSnapshot,
		pending: make(chan []domain.Appointment, 1),
		done:    make(chan struct{}),
	}

	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = sub
	sub.pending <- c.snapshotLocked()
	c.mu.Unlock()

	go sub.run()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
			close(sub.done)
		})
	}

	go func() {
		select {
		case <-ctx.Done():
			unsubscribe()
		case <-sub.done:
		}
	}()

	return unsubscribe, nil
}

func (s *subscriber) run() {
	for {
		select {
		case <-s.done:
			return
		case snap := <-s.pending:
			select {
			case <-s.done:
				return
			default:
			}
			s.fn(snap)
		}
	}
}

// offer replaces any snapshot the subscriber has not consumed yet. Callers hold the collection lock.
func (s *subscriber) offer(snap []domain.Appointment) {
	select {
	case s.pending <- snap:
	default:
		select {
		case <-s.pending:
		default:
		}
		s.pending <- snap
	}
}

func (c *AppointmentCollection) Insert(ctx context.Context, appt domain.Appointment) (uuid.UUID, error) {
	select {
	case <-ctx.Done():
		return uuid.Nil, ctx.Err()
	default:
	}

	if appt.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return uuid.Nil, err
		}
		appt.ID = id
	}
	if appt.CreatedAt.IsZero() {
		appt.CreatedAt = time.Now().UTC()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, existing := range c.appts {
		if existing.ID == appt.ID {
			return uuid.Nil, store.ErrConflict
		}
	}
	c.appts = append(c.appts, appt)
	sort.SliceStable(c.appts, func(i, j int) bool {
		return c.appts[i].StartTime.Before(c.appts[j].StartTime)
	})

	for _, sub := range c.subs {
		sub.offer(c.snapshotLocked())
	}
	return appt.ID, nil
}

func (c *AppointmentCollection) FindOverlapping(ctx context.Context, start, end time.Time) ([]domain.Appointment, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []domain.Appointment
	for _, a := range c.appts {
		if a.ConflictsWith(start, end) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (c *AppointmentCollection) snapshotLocked() []domain.Appointment {
	out := make([]domain.Appointment, len(c.appts))
	copy(out, c.appts)
	return out
}
