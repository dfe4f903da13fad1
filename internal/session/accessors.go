package session

import (
	"time"

	"rentdesk.org/internal/identity"
)

// User returns a copy of the current user, or nil when unauthenticated.
func (s *Store) User() *identity.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	u.Permissions = append([]string(nil), s.user.Permissions...)
	return &u
}

// IsAuthenticated reports whether a user is set. This holds exactly when
// User() is non-nil.
func (s *Store) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authenticated
}

// IsLoading reports whether hydration is still in flight.
func (s *Store) IsLoading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// AccessToken returns the store's copy of the access token.
func (s *Store) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessToken
}

// RefreshToken returns the store's copy of the refresh token.
func (s *Store) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshToken
}

// Permissions returns a copy of the cached permission list.
func (s *Store) Permissions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.permissions...)
}

// SessionInfo returns the descriptive session and device identifiers.
func (s *Store) SessionInfo() (sessionID, deviceID string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID, s.deviceID
}

// BackendOnline returns the connectivity flag and when it was last probed.
func (s *Store) BackendOnline() (bool, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.backendOnline, s.lastHealthCheck
}

// HasPermission reports whether the session holds the permission. Superusers
// pass every check.
func (s *Store) HasPermission(perm string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return false
	}
	if s.user.Superuser() {
		return true
	}
	for _, p := range s.permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// HasAllPermissions reports whether the session holds every listed
// permission. The check is conjunctive; one missing permission fails the
// whole list.
func (s *Store) HasAllPermissions(perms []string) bool {
	for _, p := range perms {
		if !s.HasPermission(p) {
			return false
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user != nil
}

// HasRole compares the current user's role name for exact equality.
func (s *Store) HasRole(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user.HasRole(name)
}

// HasUserType compares the current user's type for exact equality.
func (s *Store) HasUserType(t identity.UserType) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user != nil && s.user.UserType == t
}

// CanManageUser reports whether the current user may manage accounts of the
// target type, per the user-type ladder.
func (s *Store) CanManageUser(target identity.UserType) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user.CanManage(target)
}

// IsSuperuser reports whether the current user bypasses permission checks.
func (s *Store) IsSuperuser() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user.Superuser()
}

// IsAdmin reports whether the current user sits on the ADMIN tier or above.
func (s *Store) IsAdmin() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user.IsAdmin()
}

// IsCustomer reports whether the current user is a customer account.
func (s *Store) IsCustomer() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user.IsCustomer()
}
