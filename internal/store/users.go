package store

import (
	"context"

	"github.com/google/uuid"

	"healthconnect/backend/internal/domain"
)

// UserRepository stores identity provider accounts. E-mails are stored lower-cased.
type UserRepository interface {
	CreateUser(ctx context.Context, u domain.User) (domain.User, error)
	UserByEmail(ctx context.Context, email string) (domain.User, error)
	UserByID(ctx context.Context, id uuid.UUID) (domain.User, error)
	UpdateDisplayName(ctx context.Context, id uuid.UUID, displayName string) (domain.User, error)
}
