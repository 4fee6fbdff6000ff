package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Appointment is a reserved, half-open time slot [StartTime, EndTime).
type Appointment struct {
	bun.BaseModel `bun:"table:appointments"`

	ID        uuid.UUID `bun:"id,pk,type:uuid" json:"id"`
	OwnerID   string    `bun:"owner_id,notnull" json:"owner_id"`
	Title     string    `bun:"title,notnull" json:"title"`
	StartTime time.Time `bun:"start_time,notnull" json:"start"`
	EndTime   time.Time `bun:"end_time,notnull" json:"end"`
	CreatedAt time.Time `bun:"created_at,notnull" json:"created_at"`
}

func (a *Appointment) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	if _, ok := query.(*bun.InsertQuery); !ok {
		return nil
	}
	if a.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		a.ID = id
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	return nil
}

// Overlaps reports whether [s1, e1) and [s2, e2) share any instant.
// Back-to-back intervals do not overlap.
func Overlaps(s1, e1, s2, e2 time.Time) bool {
	return s1.Before(e2) && e1.After(s2)
}

// ConflictsWith reports whether the appointment overlaps the candidate interval.
func (a Appointment) ConflictsWith(start, end time.Time) bool {
	return Overlaps(a.StartTime, a.EndTime, start, end)
}
