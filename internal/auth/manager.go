// Package auth tracks the identity of one client session as reported by the identity provider.
//
// The Manager becomes ready on the provider's first callback and stays ready. Its identity changes only
// through provider callbacks, so sign-out clears the identity when the provider reports it.
package auth

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"healthconnect/backend/internal/domain"
	"healthconnect/backend/internal/identity"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

const minPasswordLength = 6

type Manager struct {
	provider identity.Provider
	policy   RolePolicy

	ready     chan struct{}
	readyOnce sync.Once
	release   func()

	mu      sync.RWMutex
	current *domain.Identity
}

// NewManager registers the manager's single listener on provider.
func NewManager(provider identity.Provider, policy RolePolicy) *Manager {
	if policy == nil {
		policy = AllowListPolicy(nil)
	}
	m := &Manager{
		provider: provider,
		policy:   policy,
		ready:    make(chan struct{}),
	}
	m.release = provider.OnIdentityChange(m.onIdentityChange)
	return m
}

func (m *Manager) onIdentityChange(id *domain.Identity) {
	m.mu.Lock()
	if id == nil {
		m.current = nil
	} else {
		cp := *id
		m.current = &cp
	}
	m.mu.Unlock()

	m.readyOnce.Do(func() { close(m.ready) })
}

// Close releases the provider listener.
func (m *Manager) Close() {
	m.release()
}

func (m *Manager) Ready() bool {
	select {
	case <-m.ready:
		return true
	default:
		return false
	}
}

// WaitUntilReady blocks until the first provider callback has been applied or ctx is done.
func (m *Manager) WaitUntilReady(ctx context.Context) error {
	select {
	case <-m.ready:
		return nil
	default:
	}
	select {
	case <-m.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) SignUp(ctx context.Context, email, password, displayName string) (domain.Identity, error) {
	email = strings.TrimSpace(email)

	msgs := validateEmail(email)
	if utf8.RuneCountInString(password) < minPasswordLength {
		msgs = append(msgs, "Password must be at least 6 characters.")
	}
	if len(msgs) > 0 {
		return domain.Identity{}, &ValidationError{Messages: msgs}
	}

	id, err := m.provider.CreateAccount(ctx, email, password)
	if err != nil {
		return domain.Identity{}, providerError(err)
	}

	if name := strings.TrimSpace(displayName); name != "" {
		id, err = m.provider.UpdateProfile(ctx, name)
		if err != nil {
			return domain.Identity{}, providerError(err)
		}
	}
	return id, nil
}

func (m *Manager) SignIn(ctx context.Context, email, password string) (domain.Identity, error) {
	email = strings.TrimSpace(email)

	msgs := validateEmail(email)
	if password == "" {
		msgs = append(msgs, "Password is required.")
	}
	if len(msgs) > 0 {
		return domain.Identity{}, &ValidationError{Messages: msgs}
	}

	id, err := m.provider.SignIn(ctx, email, password)
	if err != nil {
		return domain.Identity{}, providerError(err)
	}
	return id, nil
}

// SignOut asks the provider to end the session. The local identity is cleared by the provider callback.
func (m *Manager) SignOut(ctx context.Context) error {
	if err := m.provider.SignOut(ctx); err != nil {
		return providerError(err)
	}
	return nil
}

// Identity returns a copy of the current identity, nil when signed out or not yet ready.
func (m *Manager) Identity() *domain.Identity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return nil
	}
	cp := *m.current
	return &cp
}

// State is unknown until the first provider callback, then signed in or signed out.
func (m *Manager) State() domain.AuthState {
	if !m.Ready() {
		return domain.AuthStateUnknown
	}
	if m.IsAuthenticated() {
		return domain.AuthStateSignedIn
	}
	return domain.AuthStateSignedOut
}

func (m *Manager) IsAuthenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current != nil
}

func (m *Manager) Role() domain.Role {
	return m.policy(m.Identity())
}

// DisplayName falls back to the e-mail, then to the empty string.
func (m *Manager) DisplayName() string {
	id := m.Identity()
	switch {
	case id == nil:
		return ""
	case id.DisplayName != "":
		return id.DisplayName
	default:
		return id.Email
	}
}

func (m *Manager) HasRole(role domain.Role) bool {
	return m.IsAuthenticated() && m.Role() == role
}

func (m *Manager) HasAnyRole(roles ...domain.Role) bool {
	if !m.IsAuthenticated() {
		return false
	}
	current := m.Role()
	for _, r := range roles {
		if r == current {
			return true
		}
	}
	return false
}

func validateEmail(email string) []string {
	switch {
	case email == "":
		return []string{"Email is required."}
	case !emailPattern.MatchString(email):
		return []string{"Email format is invalid."}
	}
	return nil
}

// providerError surfaces provider rejections as *AuthError and passes other failures through.
func providerError(err error) error {
	if errors.Is(err, identity.ErrInvalidCredentials) ||
		errors.Is(err, identity.ErrEmailTaken) ||
		errors.Is(err, identity.ErrNotSignedIn) {
		return &AuthError{Message: err.Error(), Err: err}
	}
	return err
}
