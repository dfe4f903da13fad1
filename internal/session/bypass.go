package session

import (
	"context"

	"go.uber.org/zap"

	"rentdesk.org/internal/obs"
	"rentdesk.org/internal/persona"
)

// guardBypass enforces that bypass runs only in a development build with auth
// disabled AND outside production. The environment check happens here, at the
// call site, on every invocation; the configuration flags alone can never
// authorize it.
func (s *Store) guardBypass(op string) error {
	if !s.devMode || !s.authDisabled {
		s.log.Warn("authentication bypass not enabled by configuration", zap.String("op", op))
		return ErrBypassRefused
	}
	if !persona.Allowed() {
		s.log.Error("SECURITY ALERT: authentication bypass attempted in production",
			zap.String("op", op))
		return ErrBypassRefused
	}
	return nil
}

// BypassAuthentication synthesizes the default fully-privileged mock identity.
// Refused, with state untouched, whenever the production safeguard fails.
func (s *Store) BypassAuthentication(ctx context.Context) error {
	if err := s.guardBypass("bypass"); err != nil {
		return err
	}
	p, err := persona.Find(persona.Default)
	if err != nil {
		return err
	}
	s.applyPersona(p)
	s.persistSnapshot(ctx)

	obs.LoginsTotal.WithLabelValues("bypass").Inc()
	s.journal.Event(ctx, "session.bypass", zap.String("persona", p.ID))
	s.log.Warn("authentication bypassed with mock identity", zap.String("persona", p.ID))
	return nil
}

// SwitchToPersona replaces the session with the named mock identity and
// persists the selection for the next start.
func (s *Store) SwitchToPersona(ctx context.Context, id string) error {
	if err := s.guardBypass("switch-persona"); err != nil {
		return err
	}
	p, err := persona.Find(id)
	if err != nil {
		return err
	}
	s.applyPersona(p)
	s.persistSnapshot(ctx)
	if err := s.pref.Store(ctx, p.ID); err != nil {
		s.log.Warn("persist persona preference failed", zap.Error(err))
	}

	obs.LoginsTotal.WithLabelValues("persona").Inc()
	s.journal.Event(ctx, "session.persona_switch", zap.String("persona", p.ID))
	return nil
}

// StoredPersonaID returns the persisted persona selection, if any.
func (s *Store) StoredPersonaID(ctx context.Context) (string, bool) {
	return s.pref.StoredID(ctx)
}

// applyPersona installs a mock identity. The token manager is left alone:
// personas carry placeholder token strings and never schedule refresh.
func (s *Store) applyPersona(p persona.Persona) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := p.User
	s.user = &u
	s.accessToken = "dev-" + p.ID + "-token"
	s.refreshToken = ""
	s.authenticated = true
	s.loading = false
	s.permissions = append([]string(nil), u.Permissions...)
}
