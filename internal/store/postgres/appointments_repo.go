package postgres

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"

	"healthconnect/backend/internal/domain"
	"healthconnect/backend/internal/store"
)

const listenerRetryDelay = 2 * time.Second

type AppointmentRepo struct {
	db          *bun.DB
	databaseURL string
	log         *slog.Logger
}

// NewAppointmentRepo returns the postgres appointment collection. databaseURL is used to open the
// dedicated LISTEN connection of every subscription.
func NewAppointmentRepo(db *bun.DB, databaseURL string, log *slog.Logger) *AppointmentRepo {
	if log == nil {
		log = slog.Default()
	}
	return &AppointmentRepo{
		db:          db,
		databaseURL: databaseURL,
		log:         log.With(slog.String("component", "postgres.appointments")),
	}
}

type appointmentTx struct {
	tx bun.Tx
}

func (r *AppointmentRepo) Insert(ctx context.Context, appt domain.Appointment) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		c := appointmentTx{tx: tx}
		a, err := c.InsertAppointment(ctx, appt)
		if err != nil {
			return err
		}
		id = a.ID
		return c.NotifyChanged(ctx, a.ID)
	})
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

func (r *AppointmentRepo) FindOverlapping(ctx context.Context, start, end time.Time) ([]domain.Appointment, error) {
	return findOverlapping(ctx, r.db, start, end)
}

// InTransaction runs fn in a transaction holding the booking advisory lock, so concurrent bookings
// across processes check and write one at a time.
func (r *AppointmentRepo) InTransaction(ctx context.Context, fn func(ctx context.Context, tx store.AppointmentTx) error) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := lockBookings(ctx, tx); err != nil {
			return err
		}
		return fn(ctx, appointmentTx{tx: tx})
	})
}

func lockBookings(ctx context.Context, tx bun.Tx) error {
	_, err := tx.NewRaw("SELECT pg_advisory_xact_lock(hashtext(?))", store.SnapshotChannel).Exec(ctx)
	return err
}

func (r *AppointmentRepo) Subscribe(ctx context.Context, onSnapshot func([]domain.Appointment)) (store.Unsubscribe, error) {
	conn, err := r.connectListener(ctx)
	if err != nil {
		return nil, err
	}

	snap, err := r.snapshot(ctx)
	if err != nil {
		_ = conn.Close(context.Background())
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	var once sync.Once
	unsubscribe := func() {
		once.Do(cancel)
	}

	go func() {
		onSnapshot(snap)
		r.listen(subCtx, conn, onSnapshot)
	}()

	return unsubscribe, nil
}

func (r *AppointmentRepo) connectListener(ctx context.Context) (*pgx.Conn, error) {
	conn, err := pgx.Connect(ctx, r.databaseURL)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{store.SnapshotChannel}.Sanitize()); err != nil {
		_ = conn.Close(context.Background())
		return nil, err
	}
	return conn, nil
}

func (r *AppointmentRepo) listen(ctx context.Context, conn *pgx.Conn, onSnapshot func([]domain.Appointment)) {
	defer func() {
		if conn != nil {
			_ = conn.Close(context.Background())
		}
	}()

	for {
		_, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.log.Warn("snapshot listener failed; reconnecting", slog.Any("err", err))
			_ = conn.Close(context.Background())
			conn = r.reconnect(ctx)
			if conn == nil {
				return
			}
		}

		snap, err := r.snapshot(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.log.Warn("snapshot load failed", slog.Any("err", err))
			continue
		}
		onSnapshot(snap)
	}
}

func (r *AppointmentRepo) reconnect(ctx context.Context) *pgx.Conn {
	for {
		timer := time.NewTimer(listenerRetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		conn, err := r.connectListener(ctx)
		if err == nil {
			r.log.Info("snapshot listener reconnected")
			return conn
		}
		r.log.Warn("snapshot listener reconnect failed", slog.Any("err", err))
	}
}

func (r *AppointmentRepo) snapshot(ctx context.Context) ([]domain.Appointment, error) {
	var rows []domain.Appointment
	err := r.db.NewSelect().
		Model(&rows).
		OrderExpr("start_time ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r appointmentTx) FindOverlapping(ctx context.Context, start, end time.Time) ([]domain.Appointment, error) {
	return findOverlapping(ctx, r.tx, start, end)
}

func findOverlapping(ctx context.Context, db bun.IDB, start, end time.Time) ([]domain.Appointment, error) {
	var rows []domain.Appointment
	err := db.NewSelect().
		Model(&rows).
		Where("start_time < ?", end.UTC()).
		Where("end_time > ?", start.UTC()).
		OrderExpr("start_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r appointmentTx) InsertAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	m := domain.Appointment{
		ID:        appt.ID,
		OwnerID:   appt.OwnerID,
		Title:     appt.Title,
		StartTime: appt.StartTime.UTC(),
		EndTime:   appt.EndTime.UTC(),
		CreatedAt: appt.CreatedAt,
	}

	if _, err := r.tx.NewInsert().Model(&m).Exec(ctx); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.Appointment{}, store.ErrConflict
		}
		return domain.Appointment{}, err
	}
	return m, nil
}

func (r appointmentTx) NotifyChanged(ctx context.Context, appointmentID uuid.UUID) error {
	_, err := r.tx.NewRaw("SELECT pg_notify(?, ?)", store.SnapshotChannel, appointmentID.String()).Exec(ctx)
	return err
}
