// Package persona provides the development-only identity bypass: a fixed
// catalog of mock users covering every tier of the user-type ladder, plus the
// persisted preference for which persona to restore on the next start.
//
// Every entry point into bypass mode re-verifies the runtime environment via
// Allowed before touching any state. The check deliberately reads the
// environment directly instead of trusting parsed configuration: a config
// struct is one mutation away from lying, the process environment is not.
package persona

import (
	"context"
	"errors"
	"os"
	"strings"

	"rentdesk.org/internal/identity"
	"rentdesk.org/internal/statestore"
)

const preferenceKey = "auth.persona"

// ErrNotFound is returned for unknown persona ids.
var ErrNotFound = errors.New("persona: not found")

// Persona is a named mock identity with a fixed permission set.
type Persona struct {
	ID          string
	Description string
	User        identity.User
}

var catalog = []Persona{
	{
		ID:          "superadmin",
		Description: "Full-privilege superuser, bypasses all permission checks",
		User: identity.User{
			ID:          "persona-superadmin",
			Email:       "superadmin@rentdesk.local",
			Username:    "dev-superadmin",
			DisplayName: "Dev Superadmin",
			IsActive:    true,
			IsVerified:  true,
			IsSuperuser: true,
			Role:        "Superadmin",
			UserType:    identity.TypeSuperAdmin,
			Permissions: []string{},
		},
	},
	{
		ID:          "admin",
		Description: "Store administrator with full CRUD on every module",
		User: identity.User{
			ID:          "persona-admin",
			Email:       "admin@rentdesk.local",
			Username:    "dev-admin",
			DisplayName: "Dev Admin",
			IsActive:    true,
			IsVerified:  true,
			Role:        "Administrator",
			UserType:    identity.TypeAdmin,
			Permissions: []string{
				"INVENTORY_VIEW", "INVENTORY_CREATE", "INVENTORY_EDIT", "INVENTORY_DELETE",
				"SALE_VIEW", "SALE_CREATE", "SALE_EDIT", "SALE_DELETE",
				"RENTAL_VIEW", "RENTAL_CREATE", "RENTAL_EDIT", "RENTAL_DELETE",
				"USER_VIEW", "USER_CREATE", "USER_EDIT", "USER_DELETE",
			},
		},
	},
	{
		ID:          "manager",
		Description: "Branch manager, edits stock and sales but not users",
		User: identity.User{
			ID:          "persona-manager",
			Email:       "manager@rentdesk.local",
			Username:    "dev-manager",
			DisplayName: "Dev Manager",
			IsActive:    true,
			IsVerified:  true,
			Role:        "Manager",
			UserType:    identity.TypeManager,
			Permissions: []string{
				"INVENTORY_VIEW", "INVENTORY_CREATE", "INVENTORY_EDIT",
				"SALE_VIEW", "SALE_CREATE", "SALE_EDIT",
				"RENTAL_VIEW", "RENTAL_CREATE", "RENTAL_EDIT",
				"USER_VIEW",
			},
		},
	},
	{
		ID:          "staff",
		Description: "Counter staff, records sales and rentals",
		User: identity.User{
			ID:          "persona-staff",
			Email:       "staff@rentdesk.local",
			Username:    "dev-staff",
			DisplayName: "Dev Staff",
			IsActive:    true,
			IsVerified:  true,
			Role:        "Staff",
			UserType:    identity.TypeStaff,
			Permissions: []string{
				"INVENTORY_VIEW",
				"SALE_VIEW", "SALE_CREATE",
				"RENTAL_VIEW", "RENTAL_CREATE",
			},
		},
	},
	{
		ID:          "customer",
		Description: "Customer self-service account",
		User: identity.User{
			ID:          "persona-customer",
			Email:       "customer@rentdesk.local",
			Username:    "dev-customer",
			DisplayName: "Dev Customer",
			IsActive:    true,
			IsVerified:  true,
			Role:        "Customer",
			UserType:    identity.TypeCustomer,
			Permissions: []string{"RENTAL_VIEW"},
		},
	},
}

// Default is the persona synthesized by plain bypass (no explicit selection).
const Default = "superadmin"

// Allowed reports whether bypass mode may run at all. It re-reads the process
// environment on every call; no cached flag or configuration value can stand
// in for it.
func Allowed() bool {
	env := strings.ToLower(strings.TrimSpace(os.Getenv("RENTDESK_ENV")))
	switch env {
	case "production", "prod":
		return false
	}
	return true
}

// List returns the catalog in declaration order.
func List() []Persona {
	out := make([]Persona, len(catalog))
	copy(out, catalog)
	return out
}

// Find returns the persona with the given id.
func Find(id string) (Persona, error) {
	id = strings.ToLower(strings.TrimSpace(id))
	for _, p := range catalog {
		if p.ID == id {
			return p, nil
		}
	}
	return Persona{}, ErrNotFound
}

// Preference persists the selected persona id across restarts.
type Preference struct {
	store statestore.Store
}

func NewPreference(store statestore.Store) Preference {
	return Preference{store: store}
}

// StoredID returns the persisted persona selection, if any.
func (p Preference) StoredID(ctx context.Context) (string, bool) {
	raw, err := p.store.Get(ctx, preferenceKey)
	if err != nil {
		return "", false
	}
	id := strings.TrimSpace(string(raw))
	if id == "" {
		return "", false
	}
	if _, err := Find(id); err != nil {
		return "", false
	}
	return id, true
}

// Store records the persona selection.
func (p Preference) Store(ctx context.Context, id string) error {
	if _, err := Find(id); err != nil {
		return err
	}
	return p.store.Set(ctx, preferenceKey, []byte(id))
}

// Clear drops the persisted selection.
func (p Preference) Clear(ctx context.Context) error {
	return p.store.Delete(ctx, preferenceKey)
}
