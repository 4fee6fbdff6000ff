package grpc

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"healthconnect/backend/internal/auth"
	"healthconnect/backend/internal/domain"
	"healthconnect/backend/internal/identity"
	"healthconnect/backend/internal/security"
)

type AuthRecorder interface {
	RecordAuthAttempt(op, result string)
	RecordNavigation(allowed bool)
}

type AuthServer struct {
	sessions sessionStore
	limiter  *RateLimiter
	rec      AuthRecorder
	log      *slog.Logger
}

func NewAuthServer(sessions sessionStore, limiter *RateLimiter, rec AuthRecorder, log *slog.Logger) *AuthServer {
	if log == nil {
		log = slog.Default()
	}
	if limiter == nil {
		limiter = NewRateLimiter(0, 1)
	}
	return &AuthServer{
		sessions: sessions,
		limiter:  limiter,
		rec:      rec,
		log:      log.With(slog.String("component", "grpc.auth")),
	}
}

func (s *AuthServer) SignUp(ctx context.Context, req *SignUpRequest) (*SessionResponse, error) {
	log := s.log.With(slog.String("rpc", "SignUp"))

	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	if !s.limiter.Allow(req.Email) {
		log.Warn("rate limit exceeded", slog.String("limit_type", "sign_up"))
		s.record("sign_up", "limited")
		return nil, status.Error(codes.ResourceExhausted, "Too many attempts. Please try again later.")
	}

	sess, err := sessionFromContext(ctx, s.sessions)
	if err != nil {
		return nil, err
	}

	id, err := sess.Auth.SignUp(ctx, req.Email, req.Password, req.DisplayName)
	if err != nil {
		return nil, s.authFailure(log, "sign_up", err)
	}

	s.record("sign_up", "ok")
	log.Info("account created", slog.String("user_id", id.ID), slog.String("session_id", sess.ID))
	return &SessionResponse{
		Identity: toIdentity(id, sess.Auth.Role()),
		Token:    sess.Client.Token(),
	}, nil
}

func (s *AuthServer) SignIn(ctx context.Context, req *SignInRequest) (*SessionResponse, error) {
	log := s.log.With(slog.String("rpc", "SignIn"))

	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	if !s.limiter.Allow(req.Email) {
		log.Warn("rate limit exceeded", slog.String("limit_type", "sign_in"))
		s.record("sign_in", "limited")
		return nil, status.Error(codes.ResourceExhausted, "Too many attempts. Please try again later.")
	}

	sess, err := sessionFromContext(ctx, s.sessions)
	if err != nil {
		return nil, err
	}

	id, err := sess.Auth.SignIn(ctx, req.Email, req.Password)
	if err != nil {
		return nil, s.authFailure(log, "sign_in", err)
	}

	s.record("sign_in", "ok")
	log.Info("signed in", slog.String("user_id", id.ID), slog.String("session_id", sess.ID))
	return &SessionResponse{
		Identity: toIdentity(id, sess.Auth.Role()),
		Token:    sess.Client.Token(),
	}, nil
}

func (s *AuthServer) SignOut(ctx context.Context, req *SignOutRequest) (*SignOutResponse, error) {
	log := s.log.With(slog.String("rpc", "SignOut"))

	sess, err := sessionFromContext(ctx, s.sessions)
	if err != nil {
		return nil, err
	}
	if err := sess.Auth.SignOut(ctx); err != nil {
		log.Error("sign out failed", slog.Any("err", err), slog.String("session_id", sess.ID))
		return nil, status.Error(codes.Internal, "internal error")
	}

	log.Info("signed out", slog.String("session_id", sess.ID))
	return &SignOutResponse{}, nil
}

// GetIdentity waits for the session's first identity report before answering.
func (s *AuthServer) GetIdentity(ctx context.Context, req *GetIdentityRequest) (*GetIdentityResponse, error) {
	sess, err := sessionFromContext(ctx, s.sessions)
	if err != nil {
		return nil, err
	}
	if err := sess.Auth.WaitUntilReady(ctx); err != nil {
		return nil, contextStatus(err)
	}

	role := sess.Auth.Role()
	resp := &GetIdentityResponse{
		State:         string(sess.Auth.State()),
		Authenticated: sess.Auth.IsAuthenticated(),
		DisplayName:   sess.Auth.DisplayName(),
		Role:          string(role),
	}
	if id := sess.Auth.Identity(); id != nil {
		resp.Identity = toIdentity(*id, role)
	}
	return resp, nil
}

func (s *AuthServer) Authorize(ctx context.Context, req *AuthorizeRequest) (*AuthorizeResponse, error) {
	log := s.log.With(slog.String("rpc", "Authorize"))

	if req == nil || !security.SafeRedirect(req.Path) {
		log.Warn("invalid request", slog.String("reason", "unsafe_path"))
		return nil, status.Error(codes.InvalidArgument, "path must be an absolute same-origin path")
	}

	sess, err := sessionFromContext(ctx, s.sessions)
	if err != nil {
		return nil, err
	}

	d, err := sess.Guard.Navigate(ctx, req.Path)
	if err != nil {
		if st := contextStatus(err); st != nil {
			return nil, st
		}
		log.Warn("invalid request", slog.Any("err", err))
		return nil, status.Error(codes.InvalidArgument, "path is invalid")
	}
	if s.rec != nil {
		s.rec.RecordNavigation(d.Allow)
	}

	if d.Allow {
		return &AuthorizeResponse{Allow: true}, nil
	}
	return &AuthorizeResponse{Redirect: d.Destination, Query: d.Query}, nil
}

func (s *AuthServer) authFailure(log *slog.Logger, op string, err error) error {
	var vErr *auth.ValidationError
	if errors.As(err, &vErr) {
		s.record(op, "invalid")
		log.Warn("invalid request", slog.Any("err", err))
		return status.Error(codes.InvalidArgument, strings.Join(vErr.Messages, " "))
	}

	var aErr *auth.AuthError
	if errors.As(err, &aErr) {
		s.record(op, "rejected")
		log.Info("credentials rejected", slog.String("reason", aErr.Message))
		if errors.Is(err, identity.ErrEmailTaken) {
			return status.Error(codes.AlreadyExists, aErr.Message)
		}
		return status.Error(codes.Unauthenticated, aErr.Message)
	}

	s.record(op, "error")
	if st := contextStatus(err); st != nil {
		return st
	}
	log.Error("identity provider failed", slog.Any("err", err))
	return status.Error(codes.Internal, "internal error")
}

func (s *AuthServer) record(op, result string) {
	if s.rec != nil {
		s.rec.RecordAuthAttempt(op, result)
	}
}

func toIdentity(id domain.Identity, role domain.Role) *Identity {
	return &Identity{
		ID:          id.ID,
		Email:       id.Email,
		DisplayName: id.DisplayName,
		Role:        string(role),
	}
}
