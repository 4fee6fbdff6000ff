// Package session keeps one identity client, auth state manager and guard per client session.
package session

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"healthconnect/backend/internal/auth"
	"healthconnect/backend/internal/guard"
	"healthconnect/backend/internal/identity"
	"healthconnect/backend/internal/store"
)

const (
	maxSessionIDLength = 128

	DefaultMaxSessions = 10000
)

var (
	ErrInvalidSessionID = errors.New("invalid session id")
	// ErrCredentialMismatch is returned when a request names an existing session without its token.
	ErrCredentialMismatch = errors.New("session credentials do not match")
	ErrTooManySessions    = errors.New("too many sessions")
)

// Session is the server-side state of one client.
type Session struct {
	ID     string
	Client *identity.Client
	Auth   *auth.Manager
	Guard  *guard.Guard

	openToken string
	lastSeen  time.Time
}

// Holds reports whether token is this session's credential: the token of the signed-in identity, or the
// token the session was opened with while its restore is pending. A signed-out session accepts any token.
func (s *Session) Holds(token string) bool {
	ready := s.Auth.Ready()
	expected := s.Client.Token()
	if expected == "" && !ready {
		expected = s.openToken
	}
	if expected == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(token)) == 1
}

// Gauge is told the number of live sessions after every change.
type Gauge interface {
	SetActiveSessions(n int)
}

type Config struct {
	Users       store.UserRepository
	Hasher      identity.PasswordHasher
	Tokens      *identity.TokenIssuer
	Policy      auth.RolePolicy
	Routes      guard.Routes
	IdleTimeout time.Duration
	// MaxSessions caps live sessions; zero means DefaultMaxSessions.
	MaxSessions int
	// CreateRate limits how many sessions are opened per second; zero disables the limit.
	CreateRate  float64
	CreateBurst int
	Gauge       Gauge
	Logger      *slog.Logger
}

type Registry struct {
	cfg  Config
	log  *slog.Logger
	now  func() time.Time
	base context.Context
	stop context.CancelFunc

	creations *rate.Limiter

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry(cfg Config) *Registry {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Minute
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}
	var creations *rate.Limiter
	if cfg.CreateRate > 0 {
		burst := cfg.CreateBurst
		if burst <= 0 {
			burst = 1
		}
		creations = rate.NewLimiter(rate.Limit(cfg.CreateRate), burst)
	}
	base, stop := context.WithCancel(context.Background())
	return &Registry{
		cfg:       cfg,
		log:       log.With(slog.String("component", "session_registry")),
		now:       time.Now,
		base:      base,
		stop:      stop,
		creations: creations,
		sessions:  make(map[string]*Session),
	}
}

// Get returns the session for id, creating it when unknown. A new session restores its identity from
// token in the background; its auth manager is not ready until that finishes. An existing session is
// returned only to a caller presenting its credential (see Session.Holds).
func (r *Registry) Get(id, token string) (*Session, error) {
	if id == "" || len(id) > maxSessionIDLength {
		return nil, ErrInvalidSessionID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[id]; ok {
		if !s.Holds(token) {
			return nil, ErrCredentialMismatch
		}
		s.lastSeen = r.now()
		return s, nil
	}

	if len(r.sessions) >= r.cfg.MaxSessions {
		r.log.Warn("session limit reached", slog.Int("max_sessions", r.cfg.MaxSessions))
		return nil, ErrTooManySessions
	}
	if r.creations != nil && !r.creations.Allow() {
		return nil, ErrTooManySessions
	}

	client := identity.NewClient(r.cfg.Users, r.cfg.Hasher, r.cfg.Tokens, r.log)
	manager := auth.NewManager(client, r.cfg.Policy)
	s := &Session{
		ID:        id,
		Client:    client,
		Auth:      manager,
		Guard:     guard.New(manager, r.cfg.Routes),
		openToken: token,
		lastSeen:  r.now(),
	}
	r.sessions[id] = s
	r.reportLocked()

	client.Start(r.base, token)
	r.log.Debug("session opened", slog.String("session_id", id))
	return s, nil
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Run evicts idle sessions until ctx is done.
func (r *Registry) Run(ctx context.Context) {
	interval := r.cfg.IdleTimeout / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.EvictIdle(); n > 0 {
				r.log.Debug("idle sessions evicted", slog.Int("count", n))
			}
		}
	}
}

// EvictIdle closes sessions not seen within the idle timeout and returns how many were removed.
func (r *Registry) EvictIdle() int {
	cutoff := r.now().Add(-r.cfg.IdleTimeout)

	r.mu.Lock()
	var evicted []*Session
	for id, s := range r.sessions {
		if s.lastSeen.Before(cutoff) {
			evicted = append(evicted, s)
			delete(r.sessions, id)
		}
	}
	if len(evicted) > 0 {
		r.reportLocked()
	}
	r.mu.Unlock()

	for _, s := range evicted {
		s.Auth.Close()
	}
	return len(evicted)
}

// Close stops pending restores and releases every session.
func (r *Registry) Close() {
	r.stop()

	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.reportLocked()
	r.mu.Unlock()

	for _, s := range sessions {
		s.Auth.Close()
	}
}

func (r *Registry) reportLocked() {
	if r.cfg.Gauge != nil {
		r.cfg.Gauge.SetActiveSessions(len(r.sessions))
	}
}
