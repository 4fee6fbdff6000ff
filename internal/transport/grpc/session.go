package grpc

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"healthconnect/backend/internal/session"
)

const sessionHeader = "x-session-id"

type sessionStore interface {
	Get(id, token string) (*session.Session, error)
}

func firstMetadata(ctx context.Context, key string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get(key)
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}

func bearerToken(ctx context.Context) string {
	v := firstMetadata(ctx, "authorization")
	if len(v) > 7 && strings.EqualFold(v[:7], "bearer ") {
		return strings.TrimSpace(v[7:])
	}
	return ""
}

func sessionFromContext(ctx context.Context, sessions sessionStore) (*session.Session, error) {
	id := firstMetadata(ctx, sessionHeader)
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "x-session-id metadata is required")
	}
	sess, err := sessions.Get(id, bearerToken(ctx))
	if err != nil {
		switch {
		case errors.Is(err, session.ErrInvalidSessionID):
			return nil, status.Error(codes.InvalidArgument, "x-session-id is invalid")
		case errors.Is(err, session.ErrCredentialMismatch):
			return nil, status.Error(codes.Unauthenticated, "session token is missing or does not match")
		case errors.Is(err, session.ErrTooManySessions):
			return nil, status.Error(codes.ResourceExhausted, "Too many sessions. Please try again later.")
		}
		return nil, status.Error(codes.Internal, "internal error")
	}
	return sess, nil
}

// contextStatus converts a cancelled or expired context into the matching status, nil for other errors.
func contextStatus(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return status.FromContextError(err).Err()
	}
	return nil
}
