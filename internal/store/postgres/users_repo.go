package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"

	"healthconnect/backend/internal/domain"
	"healthconnect/backend/internal/store"
)

type UserRepo struct {
	db *bun.DB
}

func NewUserRepo(db *bun.DB) *UserRepo {
	return &UserRepo{db: db}
}

func (r *UserRepo) CreateUser(ctx context.Context, u domain.User) (domain.User, error) {
	m := domain.User{
		ID:           u.ID,
		Email:        strings.ToLower(strings.TrimSpace(u.Email)),
		DisplayName:  u.DisplayName,
		PasswordHash: u.PasswordHash,
	}

	if _, err := r.db.NewInsert().Model(&m).Exec(ctx); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.User{}, store.ErrConflict
		}
		return domain.User{}, err
	}
	return m, nil
}

func (r *UserRepo) UserByEmail(ctx context.Context, email string) (domain.User, error) {
	var u domain.User
	err := r.db.NewSelect().
		Model(&u).
		Where("email = ?", strings.ToLower(strings.TrimSpace(email))).
		Limit(1).
		Scan(ctx)
	return u, notFound(err)
}

func (r *UserRepo) UserByID(ctx context.Context, id uuid.UUID) (domain.User, error) {
	var u domain.User
	err := r.db.NewSelect().
		Model(&u).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	return u, notFound(err)
}

func (r *UserRepo) UpdateDisplayName(ctx context.Context, id uuid.UUID, displayName string) (domain.User, error) {
	u := domain.User{ID: id, DisplayName: displayName}
	res, err := r.db.NewUpdate().
		Model(&u).
		Column("display_name", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return domain.User{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.User{}, err
	}
	if affected == 0 {
		return domain.User{}, store.ErrNotFound
	}
	return r.UserByID(ctx, id)
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}
