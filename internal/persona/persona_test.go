package persona

import (
	"context"
	"errors"
	"testing"

	"rentdesk.org/internal/identity"
	"rentdesk.org/internal/statestore"
)

func TestCatalogCoversLadder(t *testing.T) {
	wantTypes := map[identity.UserType]bool{
		identity.TypeSuperAdmin: false,
		identity.TypeAdmin:      false,
		identity.TypeManager:    false,
		identity.TypeStaff:      false,
		identity.TypeCustomer:   false,
	}
	for _, p := range List() {
		wantTypes[p.User.UserType] = true
		if !p.User.IsActive {
			t.Fatalf("persona %s must be active", p.ID)
		}
	}
	for tier, seen := range wantTypes {
		if !seen {
			t.Fatalf("no persona for tier %s", tier)
		}
	}
}

func TestFind(t *testing.T) {
	p, err := Find("  Admin ")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if p.ID != "admin" || p.User.UserType != identity.TypeAdmin {
		t.Fatalf("unexpected persona: %+v", p)
	}

	if _, err := Find("ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if _, err := Find(Default); err != nil {
		t.Fatalf("default persona must exist: %v", err)
	}
}

func TestAllowedRereadsEnvironment(t *testing.T) {
	t.Setenv("RENTDESK_ENV", "development")
	if !Allowed() {
		t.Fatalf("development must allow bypass")
	}

	t.Setenv("RENTDESK_ENV", "Production")
	if Allowed() {
		t.Fatalf("production must refuse bypass")
	}

	t.Setenv("RENTDESK_ENV", "prod")
	if Allowed() {
		t.Fatalf("prod must refuse bypass")
	}

	t.Setenv("RENTDESK_ENV", "staging")
	if !Allowed() {
		t.Fatalf("staging is not production")
	}
}

func TestPreferenceRoundTrip(t *testing.T) {
	ctx := context.Background()
	pref := NewPreference(statestore.NewMemory())

	if _, ok := pref.StoredID(ctx); ok {
		t.Fatalf("empty store must report no preference")
	}

	if err := pref.Store(ctx, "manager"); err != nil {
		t.Fatalf("Store: %v", err)
	}
	id, ok := pref.StoredID(ctx)
	if !ok || id != "manager" {
		t.Fatalf("unexpected preference: %q ok=%v", id, ok)
	}

	if err := pref.Store(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown persona must not persist, got %v", err)
	}

	if err := pref.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, ok := pref.StoredID(ctx); ok {
		t.Fatalf("preference must be gone after Clear")
	}
}

func TestPreferenceIgnoresStaleID(t *testing.T) {
	ctx := context.Background()
	store := statestore.NewMemory()
	if err := store.Set(ctx, "auth.persona", []byte("retired-persona")); err != nil {
		t.Fatalf("seed: %v", err)
	}
	pref := NewPreference(store)
	if _, ok := pref.StoredID(ctx); ok {
		t.Fatalf("unknown stored id must be ignored")
	}
}
