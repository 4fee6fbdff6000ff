package grpc

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"healthconnect/backend/internal/domain"
	"healthconnect/backend/internal/service/appointments"
)

type fakeAppointmentStore struct {
	createFn      func(ctx context.Context, in appointments.CreateInput) (uuid.UUID, error)
	hasConflictFn func(ctx context.Context, start, end time.Time) (bool, error)
	appts         []domain.Appointment
	live          bool
}

func (f *fakeAppointmentStore) Create(ctx context.Context, in appointments.CreateInput) (uuid.UUID, error) {
	if f.createFn == nil {
		panic("Create not configured")
	}
	return f.createFn(ctx, in)
}

func (f *fakeAppointmentStore) HasConflict(ctx context.Context, start, end time.Time) (bool, error) {
	if f.hasConflictFn == nil {
		panic("HasConflict not configured")
	}
	return f.hasConflictFn(ctx, start, end)
}

func (f *fakeAppointmentStore) Appointments() []domain.Appointment { return f.appts }

func (f *fakeAppointmentStore) Live() bool { return f.live }

var (
	testStart = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	testEnd   = testStart.Add(time.Hour)
)

func TestCreateAppointment_RejectsMissingTimes(t *testing.T) {
	srv := NewAppointmentsServer(&fakeAppointmentStore{}, newTestSessions(t), slog.Default())

	_, err := srv.CreateAppointment(sessionCtx("s1"), &CreateAppointmentRequest{Title: "Jane"})
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("code = %s, want %s", status.Code(err), codes.InvalidArgument)
	}
}

func TestCreateAppointment_RequiresSession(t *testing.T) {
	srv := NewAppointmentsServer(&fakeAppointmentStore{}, newTestSessions(t), slog.Default())

	_, err := srv.CreateAppointment(context.Background(), &CreateAppointmentRequest{
		Title: "Jane",
		Start: NewTimestamp(testStart),
		End:   NewTimestamp(testEnd),
	})
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("code = %s, want %s", status.Code(err), codes.InvalidArgument)
	}
}

func TestCreateAppointment_SignedOutIsUnauthenticated(t *testing.T) {
	srv := NewAppointmentsServer(&fakeAppointmentStore{
		createFn: func(ctx context.Context, in appointments.CreateInput) (uuid.UUID, error) {
			t.Fatal("store must not be called for a signed-out session")
			return uuid.Nil, nil
		},
	}, newTestSessions(t), slog.Default())

	_, err := srv.CreateAppointment(sessionCtx("s1"), &CreateAppointmentRequest{
		Title: "Jane",
		Start: NewTimestamp(testStart),
		End:   NewTimestamp(testEnd),
	})
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("code = %s, want %s", status.Code(err), codes.Unauthenticated)
	}
}

func TestCreateAppointment_UsesSessionIdentityAsOwner(t *testing.T) {
	sessions := newTestSessions(t)
	sess := signedInSession(t, sessions, "s1", "jane@example.com")
	wantID := uuid.MustParse("00000000-0000-0000-0000-000000000010")

	var got appointments.CreateInput
	srv := NewAppointmentsServer(&fakeAppointmentStore{
		createFn: func(ctx context.Context, in appointments.CreateInput) (uuid.UUID, error) {
			got = in
			return wantID, nil
		},
	}, sessions, slog.Default())

	resp, err := srv.CreateAppointment(bearerCtx(sess), &CreateAppointmentRequest{
		Title: "Jane",
		Start: NewTimestamp(testStart),
		End:   NewTimestamp(testEnd),
	})
	if err != nil {
		t.Fatalf("CreateAppointment error: %v", err)
	}
	if resp.ID != wantID.String() {
		t.Fatalf("id = %q, want %q", resp.ID, wantID)
	}
	if got.OwnerID != sess.Auth.Identity().ID || !got.Start.Equal(testStart) || !got.End.Equal(testEnd) {
		t.Fatalf("unexpected create input %+v", got)
	}
}

func TestCreateAppointment_RejectsSessionReuseWithoutItsToken(t *testing.T) {
	sessions := newTestSessions(t)
	signedInSession(t, sessions, "s1", "jane@example.com")
	other := signedInSession(t, sessions, "s2", "mallory@example.com")

	srv := NewAppointmentsServer(&fakeAppointmentStore{
		createFn: func(ctx context.Context, in appointments.CreateInput) (uuid.UUID, error) {
			t.Fatalf("unexpected create for owner %q", in.OwnerID)
			return uuid.Nil, nil
		},
	}, sessions, slog.Default())

	cases := []struct {
		name string
		ctx  context.Context
	}{
		{name: "no token", ctx: sessionCtx("s1")},
		{name: "garbage token", ctx: sessionCtx("s1", "authorization", "Bearer garbage")},
		{name: "another user's token", ctx: sessionCtx("s1", "authorization", "Bearer "+other.Client.Token())},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := srv.CreateAppointment(tc.ctx, &CreateAppointmentRequest{
				Title: "Jane",
				Start: NewTimestamp(testStart),
				End:   NewTimestamp(testEnd),
			})
			if status.Code(err) != codes.Unauthenticated {
				t.Fatalf("code = %s, want %s", status.Code(err), codes.Unauthenticated)
			}
		})
	}
}

func TestCreateAppointment_MapsStoreErrors(t *testing.T) {
	sessions := newTestSessions(t)
	sess := signedInSession(t, sessions, "s1", "jane@example.com")

	cases := []struct {
		name string
		err  error
		want codes.Code
	}{
		{name: "conflict", err: appointments.ErrBookingConflict, want: codes.FailedPrecondition},
		{name: "validation", err: &appointments.ValidationError{}, want: codes.InvalidArgument},
		{name: "deadline", err: context.DeadlineExceeded, want: codes.DeadlineExceeded},
		{name: "other", err: errors.New("boom"), want: codes.Internal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := NewAppointmentsServer(&fakeAppointmentStore{
				createFn: func(ctx context.Context, in appointments.CreateInput) (uuid.UUID, error) {
					return uuid.Nil, tc.err
				},
			}, sessions, slog.Default())

			_, err := srv.CreateAppointment(bearerCtx(sess), &CreateAppointmentRequest{
				Title: "Jane",
				Start: NewTimestamp(testStart),
				End:   NewTimestamp(testEnd),
			})
			if status.Code(err) != tc.want {
				t.Fatalf("code = %s, want %s", status.Code(err), tc.want)
			}
			if tc.name == "conflict" && status.Convert(err).Message() != appointments.ErrBookingConflict.Error() {
				t.Fatalf("message = %q", status.Convert(err).Message())
			}
		})
	}
}

func TestListAppointments_ReturnsSnapshot(t *testing.T) {
	id := uuid.New()
	srv := NewAppointmentsServer(&fakeAppointmentStore{
		appts: []domain.Appointment{{ID: id, Title: "Jane", OwnerID: "u1", StartTime: testStart, EndTime: testEnd}},
		live:  true,
	}, newTestSessions(t), slog.Default())

	resp, err := srv.ListAppointments(context.Background(), &ListAppointmentsRequest{})
	if err != nil {
		t.Fatalf("ListAppointments error: %v", err)
	}
	if !resp.Live || len(resp.Appointments) != 1 {
		t.Fatalf("unexpected response %+v", resp)
	}
	a := resp.Appointments[0]
	if a.ID != id.String() || !a.Start.AsTime().Equal(testStart) || a.CreatedAt != nil {
		t.Fatalf("unexpected appointment %+v", a)
	}
}

func TestCheckConflict(t *testing.T) {
	srv := NewAppointmentsServer(&fakeAppointmentStore{
		hasConflictFn: func(ctx context.Context, start, end time.Time) (bool, error) {
			return start.Before(testEnd) && end.After(testStart), nil
		},
	}, newTestSessions(t), slog.Default())

	resp, err := srv.CheckConflict(context.Background(), &CheckConflictRequest{
		Start: NewTimestamp(testStart.Add(30 * time.Minute)),
		End:   NewTimestamp(testEnd.Add(30 * time.Minute)),
	})
	if err != nil || !resp.Conflict {
		t.Fatalf("expected conflict, got %+v err=%v", resp, err)
	}

	_, err = srv.CheckConflict(context.Background(), &CheckConflictRequest{
		Start: NewTimestamp(testEnd),
		End:   NewTimestamp(testStart),
	})
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("code = %s, want %s", status.Code(err), codes.InvalidArgument)
	}
}
