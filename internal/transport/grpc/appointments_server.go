package grpc

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"healthconnect/backend/internal/domain"
	"healthconnect/backend/internal/guard"
	"healthconnect/backend/internal/service/appointments"
)

// BookingPath is the route whose guard rules protect appointment creation.
const BookingPath = "/booking"

type AppointmentsServer struct {
	store    appointmentStore
	sessions sessionStore
	log      *slog.Logger
}

type appointmentStore interface {
	Create(ctx context.Context, in appointments.CreateInput) (uuid.UUID, error)
	HasConflict(ctx context.Context, start, end time.Time) (bool, error)
	Appointments() []domain.Appointment
	Live() bool
}

func NewAppointmentsServer(store appointmentStore, sessions sessionStore, log *slog.Logger) *AppointmentsServer {
	if log == nil {
		log = slog.Default()
	}
	return &AppointmentsServer{
		store:    store,
		sessions: sessions,
		log:      log.With(slog.String("component", "grpc.appointments")),
	}
}

func (s *AppointmentsServer) CreateAppointment(ctx context.Context, req *CreateAppointmentRequest) (*CreateAppointmentResponse, error) {
	log := s.log.With(slog.String("rpc", "CreateAppointment"))

	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	if !validTimestamp(req.Start) || !validTimestamp(req.End) {
		log.Warn("invalid request", slog.String("reason", "missing_times"))
		return nil, status.Error(codes.InvalidArgument, "start and end are required")
	}

	sess, err := sessionFromContext(ctx, s.sessions)
	if err != nil {
		return nil, err
	}

	d, err := sess.Guard.Navigate(ctx, BookingPath)
	if err != nil {
		if st := contextStatus(err); st != nil {
			return nil, st
		}
		log.Error("booking authorization failed", slog.Any("err", err))
		return nil, status.Error(codes.Internal, "internal error")
	}
	if !d.Allow {
		log.Info("booking denied", slog.String("session_id", sess.ID), slog.String("redirect", d.Destination))
		if d.Destination == guard.LoginPath {
			return nil, status.Error(codes.Unauthenticated, "Please sign in to book an appointment.")
		}
		return nil, status.Error(codes.PermissionDenied, "You are not allowed to book appointments.")
	}

	owner := sess.Auth.Identity()
	if owner == nil || !sess.Holds(bearerToken(ctx)) {
		log.Warn("booking denied", slog.String("session_id", sess.ID), slog.String("reason", "credential_mismatch"))
		return nil, status.Error(codes.Unauthenticated, "Please sign in to book an appointment.")
	}

	start := req.Start.AsTime()
	end := req.End.AsTime()
	id, err := s.store.Create(ctx, appointments.CreateInput{
		Title:   req.Title,
		Start:   start,
		End:     end,
		OwnerID: owner.ID,
	})
	if err != nil {
		if errors.Is(err, appointments.ErrBookingConflict) {
			log.Info(
				"appointment create conflict",
				slog.String("user_id", owner.ID),
				slog.Time("start_time", start),
				slog.Time("end_time", end),
			)
			return nil, status.Error(codes.FailedPrecondition, err.Error())
		}
		var vErr *appointments.ValidationError
		if errors.As(err, &vErr) {
			log.Warn("invalid request", slog.Any("err", err), slog.String("user_id", owner.ID))
			return nil, status.Error(codes.InvalidArgument, vErr.Error())
		}
		if st := contextStatus(err); st != nil {
			return nil, st
		}
		log.Error("appointment create failed", slog.Any("err", err), slog.String("user_id", owner.ID))
		return nil, status.Error(codes.Internal, "internal error")
	}

	log.Info(
		"appointment created",
		slog.String("appointment_id", id.String()),
		slog.String("user_id", owner.ID),
		slog.Time("start_time", start),
		slog.Time("end_time", end),
	)
	return &CreateAppointmentResponse{ID: id.String()}, nil
}

// ListAppointments answers from the live snapshot without querying the collection.
func (s *AppointmentsServer) ListAppointments(ctx context.Context, req *ListAppointmentsRequest) (*ListAppointmentsResponse, error) {
	appts := s.store.Appointments()

	out := make([]*Appointment, 0, len(appts))
	for _, a := range appts {
		out = append(out, toAppointment(a))
	}

	s.log.Debug("appointments listed", slog.String("rpc", "ListAppointments"), slog.Int("count", len(out)))
	return &ListAppointmentsResponse{Appointments: out, Live: s.store.Live()}, nil
}

func (s *AppointmentsServer) CheckConflict(ctx context.Context, req *CheckConflictRequest) (*CheckConflictResponse, error) {
	log := s.log.With(slog.String("rpc", "CheckConflict"))

	if req == nil || !validTimestamp(req.Start) || !validTimestamp(req.End) {
		log.Warn("invalid request", slog.String("reason", "missing_times"))
		return nil, status.Error(codes.InvalidArgument, "start and end are required")
	}
	start := req.Start.AsTime()
	end := req.End.AsTime()
	if !start.Before(end) {
		return nil, status.Error(codes.InvalidArgument, "end must be after start")
	}

	conflict, err := s.store.HasConflict(ctx, start, end)
	if err != nil {
		if st := contextStatus(err); st != nil {
			return nil, st
		}
		log.Error("conflict check failed", slog.Any("err", err))
		return nil, status.Error(codes.Internal, "internal error")
	}
	return &CheckConflictResponse{Conflict: conflict}, nil
}

func toAppointment(a domain.Appointment) *Appointment {
	out := &Appointment{
		ID:      a.ID.String(),
		Title:   a.Title,
		Start:   NewTimestamp(a.StartTime),
		End:     NewTimestamp(a.EndTime),
		OwnerID: a.OwnerID,
	}
	if !a.CreatedAt.IsZero() {
		out.CreatedAt = NewTimestamp(a.CreatedAt)
	}
	return out
}
