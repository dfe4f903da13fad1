// Package session implements the client-side authentication state machine:
// current user, token copies, derived permission set, session metadata and
// backend connectivity. State transitions are atomic under one lock, and
// durable writes always happen after the in-memory update, so a concurrent
// reader never observes persisted state ahead of memory.
//
// The store is an explicit, constructed object with a defined lifecycle
// (New, Hydrate, Dispose) injected into the application root; there is no
// ambient singleton.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"rentdesk.org/internal/api"
	"rentdesk.org/internal/audit"
	"rentdesk.org/internal/identity"
	"rentdesk.org/internal/obs"
	"rentdesk.org/internal/persona"
	"rentdesk.org/internal/statestore"
	"rentdesk.org/internal/token"
)

const snapshotKey = "auth.session"

// ErrBypassRefused is returned when the production safeguard blocks a
// development bypass. This is the one failure the store surfaces loudly:
// silently ignoring it could mask a dangerous misconfiguration.
var ErrBypassRefused = errors.New("session: authentication bypass refused outside development")

// Backend is the slice of the API client the store drives on its own:
// scheduled refresh and the health probe. Login and logout requests belong to
// the embedding application.
type Backend interface {
	Refresh(ctx context.Context, refreshToken string) (api.RefreshResult, error)
	Health(ctx context.Context, accessToken string) (bool, error)
}

// Store holds the session state machine.
type Store struct {
	tokens  *token.Manager
	state   statestore.Store
	backend Backend
	log     *zap.Logger
	journal *audit.Journal
	now     func() time.Time
	pref    persona.Preference

	devMode      bool
	authDisabled bool

	mu              sync.RWMutex
	user            *identity.User
	accessToken     string
	refreshToken    string
	authenticated   bool
	loading         bool
	permissions     []string
	sessionID       string
	deviceID        string
	backendOnline   bool
	lastHealthCheck time.Time
}

// Option configures the Store.
type Option func(*Store)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Store) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithDevFlags passes the development-build and auth-disabled configuration
// flags. They gate whether bypass is even attempted; the production safeguard
// is checked independently at every sensitive call site.
func WithDevFlags(devMode, authDisabled bool) Option {
	return func(s *Store) {
		s.devMode = devMode
		s.authDisabled = authDisabled
	}
}

// New constructs the store in its initial hydrating state.
func New(tokens *token.Manager, state statestore.Store, backend Backend, log *zap.Logger, opts ...Option) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Store{
		tokens:      tokens,
		state:       state,
		backend:     backend,
		log:         log,
		journal:     audit.New(log),
		now:         time.Now,
		pref:        persona.NewPreference(state),
		loading:     true,
		permissions: []string{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// snapshot is the persisted slice of store state.
type snapshot struct {
	User          *identity.User `json:"user"`
	AccessToken   string         `json:"access_token"`
	RefreshToken  string         `json:"refresh_token"`
	Authenticated bool           `json:"is_authenticated"`
	Permissions   []string       `json:"permissions"`
	SessionID     string         `json:"session_id"`
	DeviceID      string         `json:"device_id"`
}

// Hydrate restores persisted state. It never fails: missing or corrupt data
// leaves the store empty and unauthenticated. Loading clears only after the
// stored slice has been applied.
func (s *Store) Hydrate(ctx context.Context) {
	defer s.finishLoading()

	// A persisted persona selection wins when bypass is configured and the
	// environment safeguard passes.
	if s.devMode && s.authDisabled && persona.Allowed() {
		if id, ok := s.pref.StoredID(ctx); ok {
			if p, err := persona.Find(id); err == nil {
				s.applyPersona(p)
				obs.HydrationsTotal.WithLabelValues("restored").Inc()
				obs.LoginsTotal.WithLabelValues("persona").Inc()
				s.log.Info("session hydrated from persisted persona", zap.String("persona", p.ID))
				return
			}
		}
	}

	tokenData, hasTokens := s.tokens.Load(ctx)

	raw, err := s.state.Get(ctx, snapshotKey)
	if err != nil {
		if !errors.Is(err, statestore.ErrNotFound) {
			s.log.Warn("session snapshot unreadable, starting empty", zap.Error(err))
			obs.HydrationsTotal.WithLabelValues("corrupt").Inc()
		} else {
			obs.HydrationsTotal.WithLabelValues("empty").Inc()
		}
		return
	}
	var snap snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		s.log.Warn("session snapshot corrupt, starting empty", zap.Error(err))
		obs.HydrationsTotal.WithLabelValues("corrupt").Inc()
		return
	}

	validity := s.tokens.Validate()
	if snap.User == nil || !hasTokens || !validity.Valid {
		// A stored user without usable tokens is a dead session.
		if hasTokens {
			_ = s.tokens.Clear(ctx)
		}
		obs.HydrationsTotal.WithLabelValues("empty").Inc()
		return
	}

	s.mu.Lock()
	s.user = snap.User
	s.accessToken = tokenData.AccessToken
	s.refreshToken = tokenData.RefreshToken
	s.authenticated = true
	s.permissions = identity.NormalizePermissions(snap.User.Permissions)
	s.sessionID = snap.SessionID
	s.deviceID = snap.DeviceID
	s.mu.Unlock()

	// Fires immediately when the restored token already sits inside the
	// refresh window.
	s.tokens.ScheduleRefresh(s.refreshNow)

	obs.HydrationsTotal.WithLabelValues("restored").Inc()
	obs.LoginsTotal.WithLabelValues("hydrate").Inc()
	s.log.Info("session hydrated", zap.String("user_id", snap.User.ID))
}

func (s *Store) finishLoading() {
	s.mu.Lock()
	s.loading = false
	s.mu.Unlock()
}

// Login applies an authenticated identity and token pair. It performs no
// validation of token well-formedness; that is the backend's responsibility.
// Storage failures are logged, never surfaced: the in-memory session is
// authoritative.
func (s *Store) Login(ctx context.Context, user identity.User, accessToken, refreshToken string, expiresAt *time.Time) {
	user.Permissions = identity.NormalizePermissions(user.Permissions)

	s.mu.Lock()
	u := user
	s.user = &u
	s.accessToken = accessToken
	s.refreshToken = refreshToken
	s.authenticated = true
	s.loading = false
	s.permissions = append([]string(nil), user.Permissions...)
	s.mu.Unlock()

	if err := s.tokens.Store(ctx, token.Data{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt,
	}); err != nil {
		s.log.Warn("persist tokens failed", zap.Error(err))
	}
	s.persistSnapshot(ctx)
	s.tokens.ScheduleRefresh(s.refreshNow)

	obs.LoginsTotal.WithLabelValues("api").Inc()
	s.journal.Event(ctx, "session.login",
		zap.String("user_id", user.ID),
		zap.String("user_type", string(user.UserType)))
}

// Logout clears tokens and resets the session to its empty state. Safe to
// call repeatedly.
func (s *Store) Logout(ctx context.Context) {
	if err := s.tokens.Clear(ctx); err != nil {
		s.log.Warn("clear tokens failed", zap.Error(err))
	}

	s.mu.Lock()
	wasAuthenticated := s.authenticated
	s.user = nil
	s.accessToken = ""
	s.refreshToken = ""
	s.authenticated = false
	s.permissions = []string{}
	s.sessionID = ""
	s.deviceID = ""
	s.mu.Unlock()

	if err := s.state.Delete(ctx, snapshotKey); err != nil && !errors.Is(err, statestore.ErrNotFound) {
		s.log.Warn("delete session snapshot failed", zap.Error(err))
	}

	if wasAuthenticated {
		obs.LogoutsTotal.Inc()
		s.journal.Event(ctx, "session.logout")
	}
}

// RefreshAuth replaces only the access token, leaving user and refresh token
// untouched, and re-arms the scheduled refresh.
func (s *Store) RefreshAuth(ctx context.Context, accessToken string, expiresAt *time.Time) {
	s.mu.Lock()
	s.accessToken = accessToken
	s.mu.Unlock()

	if err := s.tokens.UpdateAccess(ctx, accessToken, expiresAt); err != nil {
		s.log.Warn("persist refreshed token failed", zap.Error(err))
	}
	s.persistSnapshot(ctx)
	s.tokens.ScheduleRefresh(s.refreshNow)
}

// refreshNow is the scheduled-refresh callback. A refresh that fails for any
// reason, 401 included, tears the session down: without a path to renew, the
// session cannot be trusted.
func (s *Store) refreshNow(ctx context.Context) error {
	data, ok := s.tokens.Current()
	if !ok || data.RefreshToken == "" {
		return nil
	}

	res, err := s.backend.Refresh(ctx, data.RefreshToken)
	if err != nil {
		obs.RefreshTotal.WithLabelValues("error").Inc()
		s.log.Warn("token refresh failed, logging out", zap.Error(err))
		s.Logout(ctx)
		return err
	}

	s.RefreshAuth(ctx, res.AccessToken, res.ExpiresAt)
	obs.RefreshTotal.WithLabelValues("ok").Inc()
	s.log.Debug("access token refreshed")
	return nil
}

// SetUser replaces the current user. A non-nil user always recomputes the
// permission cache synchronously, closing the stale-permission window. A nil
// user deauthenticates but deliberately leaves the cached permission list in
// place; only Logout clears it.
func (s *Store) SetUser(ctx context.Context, user *identity.User) {
	s.mu.Lock()
	if user == nil {
		s.user = nil
		s.authenticated = false
	} else {
		u := *user
		u.Permissions = identity.NormalizePermissions(u.Permissions)
		s.user = &u
		s.authenticated = true
		s.permissions = append([]string(nil), u.Permissions...)
	}
	s.mu.Unlock()

	s.persistSnapshot(ctx)
}

// UpdatePermissions recomputes the permission cache from the current user.
// No-op without a user.
func (s *Store) UpdatePermissions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return
	}
	s.permissions = identity.NormalizePermissions(s.user.Permissions)
}

// SetSessionInfo records session metadata, independent of the authentication
// lifecycle.
func (s *Store) SetSessionInfo(ctx context.Context, sessionID, deviceID string) {
	s.mu.Lock()
	s.sessionID = sessionID
	s.deviceID = deviceID
	s.mu.Unlock()

	s.persistSnapshot(ctx)
}

// ClearSession drops session metadata without touching authentication state.
func (s *Store) ClearSession(ctx context.Context) {
	s.SetSessionInfo(ctx, "", "")
}

// CheckBackendHealth probes the backend and updates the connectivity flag.
// Throttled probes keep the previous verdict; a timed-out or failed probe
// resolves to offline, never to an indeterminate state.
func (s *Store) CheckBackendHealth(ctx context.Context) bool {
	s.mu.RLock()
	accessToken := s.accessToken
	s.mu.RUnlock()

	online, err := s.backend.Health(ctx, accessToken)
	if errors.Is(err, api.ErrThrottled) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return s.backendOnline
	}

	s.mu.Lock()
	s.backendOnline = online
	s.lastHealthCheck = s.now()
	s.mu.Unlock()

	if online {
		obs.HealthChecksTotal.WithLabelValues("online").Inc()
	} else {
		obs.HealthChecksTotal.WithLabelValues("offline").Inc()
	}
	return online
}

// Dispose cancels background work. The store is not usable afterwards.
func (s *Store) Dispose() {
	s.tokens.Stop()
}

func (s *Store) persistSnapshot(ctx context.Context) {
	s.mu.RLock()
	snap := snapshot{
		User:          s.user,
		AccessToken:   s.accessToken,
		RefreshToken:  s.refreshToken,
		Authenticated: s.authenticated,
		Permissions:   append([]string(nil), s.permissions...),
		SessionID:     s.sessionID,
		DeviceID:      s.deviceID,
	}
	s.mu.RUnlock()

	raw, err := json.Marshal(snap)
	if err != nil {
		s.log.Warn("encode session snapshot failed", zap.Error(err))
		return
	}
	if err := s.state.Set(ctx, snapshotKey, raw); err != nil {
		s.log.Warn("persist session snapshot failed", zap.Error(err))
	}
}
