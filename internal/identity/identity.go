// Package identity defines the canonical user shape shared by the session
// store and the backend API client. All historical wire spellings are
// normalized here, at the decode boundary; nothing downstream branches on
// naming convention.
package identity

import (
	"encoding/json"
	"strings"
)

// UserType classifies an account on a totally ordered ladder. Higher ranks
// may manage accounts of strictly lower ranks.
type UserType string

const (
	TypeCustomer   UserType = "CUSTOMER"
	TypeStaff      UserType = "STAFF"
	TypeManager    UserType = "MANAGER"
	TypeAdmin      UserType = "ADMIN"
	TypeSuperAdmin UserType = "SUPERADMIN"
)

var typeRank = map[UserType]int{
	TypeCustomer:   0,
	TypeStaff:      1,
	TypeManager:    2,
	TypeAdmin:      3,
	TypeSuperAdmin: 4,
}

// Rank returns the position of the type on the ladder, or -1 for unknown types.
func (t UserType) Rank() int {
	if r, ok := typeRank[t]; ok {
		return r
	}
	return -1
}

// Known reports whether the type is one of the defined ladder tiers.
func (t UserType) Known() bool { return t.Rank() >= 0 }

// CanManage reports whether an account of type t may manage an account of
// type target. Management requires a strictly higher rank; unknown types
// neither manage nor are managed.
func (t UserType) CanManage(target UserType) bool {
	if !t.Known() || !target.Known() {
		return false
	}
	return t.Rank() > target.Rank()
}

// ParseUserType maps a wire value onto the ladder, tolerating case drift.
func ParseUserType(raw string) UserType {
	t := UserType(strings.ToUpper(strings.TrimSpace(raw)))
	if t.Known() {
		return t
	}
	return ""
}

// User is a backend identity record. Permissions is the flattened effective
// permission set resolved server-side; the client treats it as opaque input.
type User struct {
	ID          string   `json:"id"`
	Email       string   `json:"email"`
	Username    string   `json:"username"`
	DisplayName string   `json:"display_name"`
	IsActive    bool     `json:"is_active"`
	IsVerified  bool     `json:"is_verified"`
	IsSuperuser bool     `json:"is_superuser"`
	Role        string   `json:"role"`
	UserType    UserType `json:"user_type"`
	Permissions []string `json:"permissions"`
}

// Superuser reports whether the user bypasses permission checks entirely,
// either via the explicit flag or the SUPERADMIN tier.
func (u *User) Superuser() bool {
	if u == nil {
		return false
	}
	return u.IsSuperuser || u.UserType == TypeSuperAdmin
}

// HasPermission reports whether the user holds the given permission.
// Superusers hold every permission.
func (u *User) HasPermission(perm string) bool {
	if u == nil {
		return false
	}
	if u.Superuser() {
		return true
	}
	for _, p := range u.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// HasAllPermissions reports whether the user holds every listed permission.
// The check is conjunctive: one missing permission fails the whole list.
func (u *User) HasAllPermissions(perms []string) bool {
	if u == nil {
		return false
	}
	if u.Superuser() {
		return true
	}
	for _, p := range perms {
		if !u.HasPermission(p) {
			return false
		}
	}
	return true
}

// HasRole compares the assigned role name for exact equality.
func (u *User) HasRole(name string) bool {
	return u != nil && u.Role == name
}

// IsAdmin reports whether the user sits on the ADMIN tier or above.
func (u *User) IsAdmin() bool {
	if u == nil {
		return false
	}
	return u.Superuser() || u.UserType == TypeAdmin
}

// IsCustomer reports whether the user is a plain customer account.
func (u *User) IsCustomer() bool {
	return u != nil && u.UserType == TypeCustomer
}

// CanManage reports whether the user may manage accounts of the target type.
// Superusers manage every known tier.
func (u *User) CanManage(target UserType) bool {
	if u == nil {
		return false
	}
	if u.Superuser() {
		return target.Known()
	}
	return u.UserType.CanManage(target)
}

// NormalizePermissions trims, deduplicates and drops empty entries while
// preserving first-seen order. Always returns a non-nil slice so callers can
// compare against the empty set without nil checks.
func NormalizePermissions(perms []string) []string {
	out := make([]string, 0, len(perms))
	seen := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// wireUser accepts every spelling the backend has historically produced:
// snake_case and camelCase field names, and an effective-permissions payload
// that is either an object with an all_permissions list or a bare array.
type wireUser struct {
	ID             string `json:"id"`
	Email          string `json:"email"`
	Username       string `json:"username"`
	DisplayName    string `json:"display_name"`
	DisplayNameAlt string `json:"displayName"`

	IsActive       *bool `json:"is_active"`
	IsActiveAlt    *bool `json:"isActive"`
	IsVerified     *bool `json:"is_verified"`
	IsVerifiedAlt  *bool `json:"isVerified"`
	IsSuperuser    *bool `json:"is_superuser"`
	IsSuperuserAlt *bool `json:"isSuperuser"`

	Role        string          `json:"role"`
	UserType    string          `json:"user_type"`
	UserTypeAlt string          `json:"userType"`
	Permissions []string        `json:"permissions"`
	EffSnake    json.RawMessage `json:"effective_permissions"`
	EffCamel    json.RawMessage `json:"effectivePermissions"`
}

type wirePermissionSet struct {
	AllSnake []string `json:"all_permissions"`
	AllCamel []string `json:"allPermissions"`
}

// UnmarshalJSON decodes any historical user payload into the canonical shape.
func (u *User) UnmarshalJSON(data []byte) error {
	var w wireUser
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	u.ID = w.ID
	u.Email = w.Email
	u.Username = w.Username
	u.DisplayName = firstNonEmpty(w.DisplayName, w.DisplayNameAlt)
	u.IsActive = boolFrom(w.IsActive, w.IsActiveAlt)
	u.IsVerified = boolFrom(w.IsVerified, w.IsVerifiedAlt)
	u.IsSuperuser = boolFrom(w.IsSuperuser, w.IsSuperuserAlt)
	u.Role = w.Role
	u.UserType = ParseUserType(firstNonEmpty(w.UserType, w.UserTypeAlt))

	perms := w.Permissions
	if len(perms) == 0 {
		raw := w.EffSnake
		if len(raw) == 0 {
			raw = w.EffCamel
		}
		perms = decodePermissionSet(raw)
	}
	u.Permissions = NormalizePermissions(perms)
	return nil
}

func decodePermissionSet(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var set wirePermissionSet
	if err := json.Unmarshal(raw, &set); err == nil {
		if len(set.AllSnake) > 0 {
			return set.AllSnake
		}
		if len(set.AllCamel) > 0 {
			return set.AllCamel
		}
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func boolFrom(values ...*bool) bool {
	for _, v := range values {
		if v != nil {
			return *v
		}
	}
	return false
}
