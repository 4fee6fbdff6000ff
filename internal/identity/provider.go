// Package identity is the identity provider a session authenticates against.
// A Client reports every change of its signed-in identity to its listeners,
// the first report being the restore of a previously issued session token.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"healthconnect/backend/internal/domain"
	"healthconnect/backend/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("email or password is incorrect")
	ErrEmailTaken         = errors.New("email is already registered")
	ErrNotSignedIn        = errors.New("no user is signed in")
)

const dummyPassword = "healthconnect-unknown-account"

// dummyHashes keeps one hash per PasswordHasher, verified against when an e-mail is unknown so sign-in
// costs the same whether or not the account exists.
var dummyHashes sync.Map

// Provider is what the auth state manager consumes. OnIdentityChange delivers nil for signed out.
type Provider interface {
	CreateAccount(ctx context.Context, email, password string) (domain.Identity, error)
	SignIn(ctx context.Context, email, password string) (domain.Identity, error)
	SignOut(ctx context.Context) error
	UpdateProfile(ctx context.Context, displayName string) (domain.Identity, error)
	OnIdentityChange(fn func(*domain.Identity)) (cancel func())
}

type Client struct {
	users  store.UserRepository
	hasher PasswordHasher
	tokens *TokenIssuer
	log    *slog.Logger

	// notifyMu orders state changes and their delivery; listeners must not call back into the client.
	notifyMu sync.Mutex

	mu        sync.Mutex
	reported  bool
	current   *domain.Identity
	token     string
	listeners map[int]func(*domain.Identity)
	nextID    int
}

var _ Provider = (*Client)(nil)

func NewClient(users store.UserRepository, hasher PasswordHasher, tokens *TokenIssuer, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		users:     users,
		hasher:    hasher,
		tokens:    tokens,
		log:       log,
		listeners: make(map[int]func(*domain.Identity)),
	}
}

// Start restores the identity behind token in the background and reports it, or reports signed out
// when the token is empty, invalid or refers to an unknown account. The restore is dropped when a
// sign-in or sign-out has already been reported.
func (c *Client) Start(ctx context.Context, token string) {
	go func() {
		id, tok := c.restore(ctx, token)

		c.notifyMu.Lock()
		defer c.notifyMu.Unlock()
		c.mu.Lock()
		reported := c.reported
		c.mu.Unlock()
		if !reported {
			c.setStateLocked(id, tok)
		}
	}()
}

func (c *Client) restore(ctx context.Context, token string) (*domain.Identity, string) {
	if strings.TrimSpace(token) == "" {
		return nil, ""
	}
	subject, err := c.tokens.Verify(token)
	if err != nil {
		c.log.Debug("session token rejected", slog.String("error", err.Error()))
		return nil, ""
	}
	userID, err := uuid.Parse(subject)
	if err != nil {
		return nil, ""
	}
	u, err := c.users.UserByID(ctx, userID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			c.log.Warn("restore identity failed", slog.String("error", err.Error()))
		}
		return nil, ""
	}
	id := u.Identity()
	return &id, token
}

func (c *Client) CreateAccount(ctx context.Context, email, password string) (domain.Identity, error) {
	hash, err := c.hasher.HashPassword(ctx, password)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("hash password: %w", err)
	}

	u, err := c.users.CreateUser(ctx, domain.User{
		Email:        strings.ToLower(strings.TrimSpace(email)),
		PasswordHash: hash,
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.Identity{}, ErrEmailTaken
		}
		return domain.Identity{}, fmt.Errorf("create user: %w", err)
	}

	return c.signedIn(u)
}

func (c *Client) SignIn(ctx context.Context, email, password string) (domain.Identity, error) {
	u, err := c.users.UserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.verifyDummy(ctx, password)
			return domain.Identity{}, ErrInvalidCredentials
		}
		return domain.Identity{}, fmt.Errorf("lookup user: %w", err)
	}

	ok, err := c.hasher.VerifyPassword(ctx, password, u.PasswordHash)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return domain.Identity{}, ErrInvalidCredentials
	}

	return c.signedIn(u)
}

func (c *Client) verifyDummy(ctx context.Context, password string) {
	hash, ok := dummyHashes.Load(c.hasher)
	if !ok {
		h, err := c.hasher.HashPassword(ctx, dummyPassword)
		if err != nil {
			c.log.Warn("dummy password hash failed", slog.String("error", err.Error()))
			return
		}
		hash, _ = dummyHashes.LoadOrStore(c.hasher, h)
	}
	_, _ = c.hasher.VerifyPassword(ctx, password, hash.(string))
}

func (c *Client) SignOut(ctx context.Context) error {
	c.setState(nil, "")
	return nil
}

func (c *Client) UpdateProfile(ctx context.Context, displayName string) (domain.Identity, error) {
	c.mu.Lock()
	current := c.current
	token := c.token
	c.mu.Unlock()
	if current == nil {
		return domain.Identity{}, ErrNotSignedIn
	}

	userID, err := uuid.Parse(current.ID)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("parse user id: %w", err)
	}
	u, err := c.users.UpdateDisplayName(ctx, userID, strings.TrimSpace(displayName))
	if err != nil {
		return domain.Identity{}, fmt.Errorf("update display name: %w", err)
	}

	id := u.Identity()
	c.setState(&id, token)
	return id, nil
}

// OnIdentityChange registers fn. Once the first state is known fn also receives the current state.
func (c *Client) OnIdentityChange(fn func(*domain.Identity)) func() {
	c.notifyMu.Lock()
	c.mu.Lock()
	key := c.nextID
	c.nextID++
	c.listeners[key] = fn
	reported := c.reported
	current := copyIdentity(c.current)
	c.mu.Unlock()
	if reported {
		fn(current)
	}
	c.notifyMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, key)
			c.mu.Unlock()
		})
	}
}

// Token is the session token of the signed-in identity, empty when signed out.
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *Client) signedIn(u domain.User) (domain.Identity, error) {
	id := u.Identity()
	token, err := c.tokens.Issue(id.ID)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("issue session token: %w", err)
	}
	c.setState(&id, token)
	return id, nil
}

func (c *Client) setState(id *domain.Identity, token string) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	c.setStateLocked(id, token)
}

// setStateLocked requires notifyMu.
func (c *Client) setStateLocked(id *domain.Identity, token string) {
	c.mu.Lock()
	c.reported = true
	c.current = copyIdentity(id)
	c.token = token
	fns := make([]func(*domain.Identity), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(copyIdentity(id))
	}
}

func copyIdentity(id *domain.Identity) *domain.Identity {
	if id == nil {
		return nil
	}
	cp := *id
	return &cp
}
