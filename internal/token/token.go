// Package token owns the access/refresh token record: durable storage,
// validity and refresh-window computation, and the scheduled refresh timer.
// The session store holds copies of the token strings for convenience, but
// this manager is the source of truth for expiry and scheduling.
package token

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"rentdesk.org/internal/statestore"
)

const storageKey = "auth.tokens"

const (
	defaultRefreshWindow = 2 * time.Minute
	defaultAccessTTL     = 15 * time.Minute
)

// Data is the persisted token record.
type Data struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	TokenType    string     `json:"token_type"`
}

// Validity reports the outcome of a token check.
type Validity struct {
	Valid        bool
	NeedsRefresh bool
}

// Manager stores, validates and schedules refresh for the token record.
type Manager struct {
	store  statestore.Store
	log    *zap.Logger
	now    func() time.Time
	window time.Duration
	ttl    time.Duration

	mu    sync.Mutex
	data  *Data
	timer *time.Timer
}

// Option configures Manager behavior.
type Option func(*Manager)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(m *Manager) {
		if fn != nil {
			m.now = fn
		}
	}
}

// WithRefreshWindow sets how long before expiry a token is considered due
// for refresh.
func WithRefreshWindow(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.window = d
		}
	}
}

// WithDefaultTTL sets the lifetime assumed for opaque tokens that carry no
// expiry of their own.
func WithDefaultTTL(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.ttl = d
		}
	}
}

// NewManager constructs a Manager over the given state store.
func NewManager(store statestore.Store, log *zap.Logger, opts ...Option) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Manager{
		store:  store,
		log:    log,
		now:    time.Now,
		window: defaultRefreshWindow,
		ttl:    defaultAccessTTL,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Load rehydrates the token record from durable storage. A missing or corrupt
// record presents as no tokens rather than an error.
func (m *Manager) Load(ctx context.Context) (Data, bool) {
	raw, err := m.store.Get(ctx, storageKey)
	if err != nil {
		if !errors.Is(err, statestore.ErrNotFound) {
			m.log.Warn("token record unreadable, starting empty", zap.Error(err))
		}
		return Data{}, false
	}
	var data Data
	if err := json.Unmarshal(raw, &data); err != nil {
		m.log.Warn("token record corrupt, starting empty", zap.Error(err))
		return Data{}, false
	}
	m.mu.Lock()
	m.data = &data
	m.mu.Unlock()
	return data, data.AccessToken != ""
}

// Store overwrites the token record. An absent expiry is derived from the
// access token's exp claim, falling back to the default TTL for opaque
// tokens. The in-memory record updates before the durable write so readers
// never observe persisted state ahead of memory.
func (m *Manager) Store(ctx context.Context, data Data) error {
	if data.TokenType == "" {
		data.TokenType = "bearer"
	}
	if data.ExpiresAt == nil {
		exp := m.deriveExpiry(data.AccessToken)
		data.ExpiresAt = &exp
	}

	m.mu.Lock()
	copied := data
	m.data = &copied
	m.mu.Unlock()

	return m.persist(ctx, data)
}

// UpdateAccess replaces only the access token and expiry, leaving the refresh
// token untouched.
func (m *Manager) UpdateAccess(ctx context.Context, accessToken string, expiresAt *time.Time) error {
	if expiresAt == nil {
		exp := m.deriveExpiry(accessToken)
		expiresAt = &exp
	}

	m.mu.Lock()
	if m.data == nil {
		m.data = &Data{TokenType: "bearer"}
	}
	m.data.AccessToken = accessToken
	m.data.ExpiresAt = expiresAt
	data := *m.data
	m.mu.Unlock()

	return m.persist(ctx, data)
}

// Clear wipes the token record and cancels any scheduled refresh.
func (m *Manager) Clear(ctx context.Context) error {
	m.Stop()

	m.mu.Lock()
	m.data = nil
	m.mu.Unlock()

	if err := m.store.Delete(ctx, storageKey); err != nil && !errors.Is(err, statestore.ErrNotFound) {
		return err
	}
	return nil
}

// Current returns a copy of the in-memory token record.
func (m *Manager) Current() (Data, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return Data{}, false
	}
	return *m.data, true
}

// Validate reports whether the stored access token is usable and whether it
// sits inside the refresh window.
func (m *Manager) Validate() Validity {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.data == nil || m.data.AccessToken == "" {
		return Validity{}
	}
	if m.data.ExpiresAt == nil {
		// No expiry on record: usable, and not our job to refresh.
		return Validity{Valid: true}
	}
	now := m.now()
	exp := *m.data.ExpiresAt
	if !now.Before(exp) {
		return Validity{}
	}
	return Validity{
		Valid:        true,
		NeedsRefresh: now.After(exp.Add(-m.window)) || now.Equal(exp.Add(-m.window)),
	}
}

// ScheduleRefresh arms a timer that fires shortly before expiry and invokes
// the callback with a fresh context. Re-arming cancels the previous timer, so
// overlapping Login and RefreshAuth calls never leak a duplicate schedule.
// The callback owns re-arming after a successful refresh.
func (m *Manager) ScheduleRefresh(cb func(ctx context.Context) error) {
	if cb == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.data == nil || m.data.AccessToken == "" || m.data.ExpiresAt == nil {
		return
	}

	fireIn := m.data.ExpiresAt.Add(-m.window).Sub(m.now())
	if fireIn < 0 {
		fireIn = 0
	}
	m.timer = time.AfterFunc(fireIn, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := cb(ctx); err != nil {
			m.log.Warn("scheduled token refresh failed", zap.Error(err))
		}
	})
}

// Stop cancels any pending refresh timer.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) persist(ctx context.Context, data Data) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return m.store.Set(ctx, storageKey, raw)
}

// deriveExpiry inspects the unverified exp claim of a JWT access token.
// Signature verification is the backend's concern; the client only needs the
// timestamp. Opaque tokens get the default TTL.
func (m *Manager) deriveExpiry(accessToken string) time.Time {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(accessToken, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}
	return m.now().Add(m.ttl)
}
