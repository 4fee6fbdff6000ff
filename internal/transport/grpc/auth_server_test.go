package grpc

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakeAuthRecorder struct {
	mu       sync.Mutex
	attempts map[string]int
	allowed  int
	redirect int
}

func (f *fakeAuthRecorder) RecordAuthAttempt(op, result string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.attempts == nil {
		f.attempts = map[string]int{}
	}
	f.attempts[op+":"+result]++
}

func (f *fakeAuthRecorder) RecordNavigation(allowed bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if allowed {
		f.allowed++
	} else {
		f.redirect++
	}
}

func TestSignUp_ReturnsIdentityAndToken(t *testing.T) {
	rec := &fakeAuthRecorder{}
	srv := NewAuthServer(newTestSessions(t), nil, rec, slog.Default())

	resp, err := srv.SignUp(sessionCtx("s1"), &SignUpRequest{Email: "admin@example.com", Password: "secret1", DisplayName: "Ada"})
	if err != nil {
		t.Fatalf("SignUp error: %v", err)
	}
	if resp.Token == "" || resp.Identity.DisplayName != "Ada" || resp.Identity.Role != "admin" {
		t.Fatalf("unexpected response %+v / %+v", resp, resp.Identity)
	}
	if rec.attempts["sign_up:ok"] != 1 {
		t.Fatalf("expected recorded sign up, got %v", rec.attempts)
	}
}

func TestSignUp_MapsErrors(t *testing.T) {
	srv := NewAuthServer(newTestSessions(t), nil, nil, slog.Default())

	_, err := srv.SignUp(sessionCtx("s1"), &SignUpRequest{Email: "bad", Password: "1"})
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("code = %s, want %s", status.Code(err), codes.InvalidArgument)
	}
	if msg := status.Convert(err).Message(); msg != "Email format is invalid. Password must be at least 6 characters." {
		t.Fatalf("message = %q", msg)
	}

	if _, err := srv.SignUp(sessionCtx("s1"), &SignUpRequest{Email: "jane@example.com", Password: "secret1"}); err != nil {
		t.Fatalf("SignUp error: %v", err)
	}
	_, err = srv.SignUp(sessionCtx("s2"), &SignUpRequest{Email: "jane@example.com", Password: "secret1"})
	if status.Code(err) != codes.AlreadyExists {
		t.Fatalf("code = %s, want %s", status.Code(err), codes.AlreadyExists)
	}
}

func TestSignIn_WrongPasswordIsUnauthenticated(t *testing.T) {
	sessions := newTestSessions(t)
	signedInSession(t, sessions, "s1", "jane@example.com")
	srv := NewAuthServer(sessions, nil, nil, slog.Default())

	_, err := srv.SignIn(sessionCtx("s2"), &SignInRequest{Email: "jane@example.com", Password: "wrong-password"})
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("code = %s, want %s", status.Code(err), codes.Unauthenticated)
	}

	resp, err := srv.SignIn(sessionCtx("s2"), &SignInRequest{Email: "JANE@example.com", Password: "secret1"})
	if err != nil {
		t.Fatalf("SignIn error: %v", err)
	}
	if resp.Identity.Email != "jane@example.com" || resp.Identity.Role != "user" {
		t.Fatalf("unexpected identity %+v", resp.Identity)
	}
}

func TestSignIn_RateLimited(t *testing.T) {
	rec := &fakeAuthRecorder{}
	srv := NewAuthServer(newTestSessions(t), NewRateLimiter(1, 1), rec, slog.Default())

	req := &SignInRequest{Email: "jane@example.com", Password: "secret1"}
	if _, err := srv.SignIn(sessionCtx("s1"), req); status.Code(err) != codes.Unauthenticated {
		t.Fatalf("first attempt code = %s, want %s", status.Code(err), codes.Unauthenticated)
	}
	if _, err := srv.SignIn(sessionCtx("s1"), req); status.Code(err) != codes.ResourceExhausted {
		t.Fatalf("second attempt code = %s, want %s", status.Code(err), codes.ResourceExhausted)
	}
	if rec.attempts["sign_in:limited"] != 1 {
		t.Fatalf("expected limited attempt recorded, got %v", rec.attempts)
	}
}

func TestGetIdentity_WaitsForRestoreAndSignOut(t *testing.T) {
	sessions := newTestSessions(t)
	srv := NewAuthServer(sessions, nil, nil, slog.Default())

	signedUp, err := srv.SignUp(sessionCtx("s1"), &SignUpRequest{Email: "jane@example.com", Password: "secret1"})
	if err != nil {
		t.Fatalf("SignUp error: %v", err)
	}

	ctx, cancel := context.WithTimeout(sessionCtx("s2", "authorization", "Bearer "+signedUp.Token), 2*time.Second)
	defer cancel()
	resp, err := srv.GetIdentity(ctx, &GetIdentityRequest{})
	if err != nil {
		t.Fatalf("GetIdentity error: %v", err)
	}
	if !resp.Authenticated || resp.DisplayName != "jane@example.com" || resp.Identity.ID != signedUp.Identity.ID {
		t.Fatalf("expected restored identity, got %+v", resp)
	}
	if resp.State != "signed-in" {
		t.Fatalf("state = %q, want signed-in", resp.State)
	}

	if _, err := srv.SignOut(sessionCtx("s2", "authorization", "Bearer "+signedUp.Token), &SignOutRequest{}); err != nil {
		t.Fatalf("SignOut error: %v", err)
	}
	resp, err = srv.GetIdentity(sessionCtx("s2"), &GetIdentityRequest{})
	if err != nil {
		t.Fatalf("GetIdentity error: %v", err)
	}
	if resp.Authenticated || resp.Identity != nil || resp.State != "signed-out" {
		t.Fatalf("expected signed out, got %+v", resp)
	}
}

func TestSessionRequiresItsToken(t *testing.T) {
	sessions := newTestSessions(t)
	srv := NewAuthServer(sessions, nil, nil, slog.Default())

	signedUp, err := srv.SignUp(sessionCtx("s1"), &SignUpRequest{Email: "jane@example.com", Password: "secret1"})
	if err != nil {
		t.Fatalf("SignUp error: %v", err)
	}

	for _, ctx := range []context.Context{
		sessionCtx("s1"),
		sessionCtx("s1", "authorization", "Bearer garbage"),
	} {
		if _, err := srv.GetIdentity(ctx, &GetIdentityRequest{}); status.Code(err) != codes.Unauthenticated {
			t.Fatalf("GetIdentity code = %s, want %s", status.Code(err), codes.Unauthenticated)
		}
		if _, err := srv.SignOut(ctx, &SignOutRequest{}); status.Code(err) != codes.Unauthenticated {
			t.Fatalf("SignOut code = %s, want %s", status.Code(err), codes.Unauthenticated)
		}
	}

	resp, err := srv.GetIdentity(sessionCtx("s1", "authorization", "Bearer "+signedUp.Token), &GetIdentityRequest{})
	if err != nil {
		t.Fatalf("GetIdentity with token: %v", err)
	}
	if !resp.Authenticated || resp.Identity.ID != signedUp.Identity.ID {
		t.Fatalf("expected signed-in identity, got %+v", resp)
	}
}

func TestAuthorize(t *testing.T) {
	sessions := newTestSessions(t)
	tokens := map[string]string{
		"user":  signedInSession(t, sessions, "user", "jane@example.com").Client.Token(),
		"admin": signedInSession(t, sessions, "admin", "admin@example.com").Client.Token(),
	}
	rec := &fakeAuthRecorder{}
	srv := NewAuthServer(sessions, nil, rec, slog.Default())

	cases := []struct {
		name      string
		session   string
		path      string
		allow     bool
		redirect  string
		queryPath string
	}{
		{name: "guest booking", session: "guest", path: "/booking", redirect: "/login", queryPath: "/booking"},
		{name: "guest home", session: "guest", path: "/", allow: true},
		{name: "user admin", session: "user", path: "/admin", redirect: "/"},
		{name: "admin admin", session: "admin", path: "/admin", allow: true},
		{name: "user login", session: "user", path: "/login", redirect: "/"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := sessionCtx(tc.session)
			if token := tokens[tc.session]; token != "" {
				ctx = sessionCtx(tc.session, "authorization", "Bearer "+token)
			}
			resp, err := srv.Authorize(ctx, &AuthorizeRequest{Path: tc.path})
			if err != nil {
				t.Fatalf("Authorize error: %v", err)
			}
			if resp.Allow != tc.allow || resp.Redirect != tc.redirect || resp.Query["redirect"] != tc.queryPath {
				t.Fatalf("unexpected decision %+v", resp)
			}
		})
	}
	if rec.allowed != 2 || rec.redirect != 3 {
		t.Fatalf("expected 2 allows and 3 redirects, got %d/%d", rec.allowed, rec.redirect)
	}

	for _, path := range []string{"", "//evil.example.com", "https://evil.example.com"} {
		if _, err := srv.Authorize(sessionCtx("guest"), &AuthorizeRequest{Path: path}); status.Code(err) != codes.InvalidArgument {
			t.Fatalf("path %q: code = %s, want %s", path, status.Code(err), codes.InvalidArgument)
		}
	}
}
