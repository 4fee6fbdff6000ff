package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"healthconnect/backend/internal/domain"
)

// SnapshotChannel is the notification channel raised after every appointment write.
const SnapshotChannel = "appointments_changed"

// Unsubscribe releases a live subscription. Calling it more than once is a no-op.
type Unsubscribe func()

// AppointmentCollection is the system of record for appointments.
//
// Subscribe delivers the full, start-ordered collection once on subscription and again after every
// change. Snapshots for one subscription are delivered sequentially, in the order they were read.
type AppointmentCollection interface {
	Subscribe(ctx context.Context, onSnapshot func([]domain.Appointment)) (Unsubscribe, error)
	Insert(ctx context.Context, appt domain.Appointment) (uuid.UUID, error)
	FindOverlapping(ctx context.Context, start, end time.Time) ([]domain.Appointment, error)
}

// AppointmentTx is the set of collection operations available inside one database transaction.
type AppointmentTx interface {
	FindOverlapping(ctx context.Context, start, end time.Time) ([]domain.Appointment, error)
	InsertAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error)
	NotifyChanged(ctx context.Context, appointmentID uuid.UUID) error
}

// SnapshotCache keeps the last known snapshot outside the process so a fresh subscriber has something
// to show before the live subscription reports in.
type SnapshotCache interface {
	Load(ctx context.Context) ([]domain.Appointment, error)
	Save(ctx context.Context, appts []domain.Appointment) error
}

// AppointmentTransactor is implemented by collections that can run a conflict check and an insert
// atomically with respect to other bookings.
type AppointmentTransactor interface {
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx AppointmentTx) error) error
}
