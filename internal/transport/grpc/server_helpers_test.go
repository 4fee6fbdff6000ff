package grpc

import (
	"context"
	"testing"
	"time"

	"google.golang.org/grpc/metadata"

	"healthconnect/backend/internal/auth"
	"healthconnect/backend/internal/identity"
	"healthconnect/backend/internal/session"
	"healthconnect/backend/internal/store/memory"
)

func newTestSessions(t *testing.T) *session.Registry {
	t.Helper()
	r := session.NewRegistry(session.Config{
		Users:  memory.NewUserRepository(),
		Hasher: identity.NewArgon2Hasher(identity.Argon2Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 8, KeyLength: 16}),
		Tokens: identity.NewTokenIssuer("test-secret", time.Hour),
		Policy: auth.AllowListPolicy([]string{"admin@example.com"}),
	})
	t.Cleanup(r.Close)
	return r
}

func sessionCtx(id string, kv ...string) context.Context {
	pairs := append([]string{sessionHeader, id}, kv...)
	return metadata.NewIncomingContext(context.Background(), metadata.Pairs(pairs...))
}

// bearerCtx is the metadata a client sends for sess after signing in.
func bearerCtx(sess *session.Session) context.Context {
	return sessionCtx(sess.ID, "authorization", "Bearer "+sess.Client.Token())
}

func signedInSession(t *testing.T, r *session.Registry, id, email string) *session.Session {
	t.Helper()
	sess, err := r.Get(id, "")
	if err != nil {
		t.Fatalf("Get session: %v", err)
	}
	if _, err := sess.Auth.SignUp(context.Background(), email, "secret1", ""); err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	return sess
}
