package token

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"rentdesk.org/internal/statestore"
)

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestValidateBoundaries(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	window := 2 * time.Minute

	cases := []struct {
		name      string
		expiresIn time.Duration
		want      Validity
	}{
		{"fresh", time.Hour, Validity{Valid: true}},
		{"inside window", time.Minute, Validity{Valid: true, NeedsRefresh: true}},
		{"at window edge", window, Validity{Valid: true, NeedsRefresh: true}},
		{"expired", -time.Second, Validity{}},
		{"exactly expired", 0, Validity{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := NewManager(statestore.NewMemory(), nil,
				WithClock(fixedClock(now)), WithRefreshWindow(window))
			exp := now.Add(tc.expiresIn)
			if err := m.Store(context.Background(), Data{
				AccessToken:  "tok-a",
				RefreshToken: "tok-r",
				ExpiresAt:    &exp,
			}); err != nil {
				t.Fatalf("Store: %v", err)
			}
			if got := m.Validate(); got != tc.want {
				t.Fatalf("Validate() = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestValidateWithoutTokens(t *testing.T) {
	m := NewManager(statestore.NewMemory(), nil)
	if got := m.Validate(); got.Valid || got.NeedsRefresh {
		t.Fatalf("empty manager must be invalid, got %+v", got)
	}
}

func TestStoreDerivesExpiryFromJWT(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	exp := now.Add(30 * time.Minute)
	m := NewManager(statestore.NewMemory(), nil, WithClock(fixedClock(now)))

	if err := m.Store(context.Background(), Data{AccessToken: unsignedJWT(exp)}); err != nil {
		t.Fatalf("Store: %v", err)
	}
	data, ok := m.Current()
	if !ok || data.ExpiresAt == nil {
		t.Fatalf("expected stored expiry")
	}
	if !data.ExpiresAt.Equal(exp) {
		t.Fatalf("expiry = %v, want %v", data.ExpiresAt, exp)
	}
}

func TestStoreOpaqueTokenFallsBackToDefaultTTL(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewManager(statestore.NewMemory(), nil,
		WithClock(fixedClock(now)), WithDefaultTTL(10*time.Minute))

	if err := m.Store(context.Background(), Data{AccessToken: "opaque-token"}); err != nil {
		t.Fatalf("Store: %v", err)
	}
	data, _ := m.Current()
	if data.ExpiresAt == nil || !data.ExpiresAt.Equal(now.Add(10*time.Minute)) {
		t.Fatalf("unexpected expiry: %v", data.ExpiresAt)
	}
	if data.TokenType != "bearer" {
		t.Fatalf("unexpected token type: %q", data.TokenType)
	}
}

func TestUpdateAccessLeavesRefreshTokenUntouched(t *testing.T) {
	now := time.Now()
	m := NewManager(statestore.NewMemory(), nil)
	exp := now.Add(time.Hour)
	if err := m.Store(context.Background(), Data{
		AccessToken:  "tok-a",
		RefreshToken: "tok-r",
		ExpiresAt:    &exp,
	}); err != nil {
		t.Fatalf("Store: %v", err)
	}

	newExp := now.Add(2 * time.Hour)
	if err := m.UpdateAccess(context.Background(), "tok-a2", &newExp); err != nil {
		t.Fatalf("UpdateAccess: %v", err)
	}

	data, _ := m.Current()
	if data.AccessToken != "tok-a2" {
		t.Fatalf("access token not replaced: %q", data.AccessToken)
	}
	if data.RefreshToken != "tok-r" {
		t.Fatalf("refresh token must survive: %q", data.RefreshToken)
	}
	if !data.ExpiresAt.Equal(newExp) {
		t.Fatalf("expiry not replaced: %v", data.ExpiresAt)
	}
}

func TestLoadRestoresPersistedRecord(t *testing.T) {
	store := statestore.NewMemory()
	exp := time.Now().Add(time.Hour).UTC()
	first := NewManager(store, nil)
	if err := first.Store(context.Background(), Data{
		AccessToken:  "tok-a",
		RefreshToken: "tok-r",
		ExpiresAt:    &exp,
	}); err != nil {
		t.Fatalf("Store: %v", err)
	}

	second := NewManager(store, nil)
	data, ok := second.Load(context.Background())
	if !ok {
		t.Fatalf("expected restored record")
	}
	if data.AccessToken != "tok-a" || data.RefreshToken != "tok-r" {
		t.Fatalf("unexpected record: %+v", data)
	}
}

func TestLoadCorruptRecordPresentsEmpty(t *testing.T) {
	store := statestore.NewMemory()
	if err := store.Set(context.Background(), "auth.tokens", []byte("{broken")); err != nil {
		t.Fatalf("seed: %v", err)
	}
	m := NewManager(store, nil)
	if _, ok := m.Load(context.Background()); ok {
		t.Fatalf("corrupt record must present as empty")
	}
}

func TestClearRemovesRecord(t *testing.T) {
	store := statestore.NewMemory()
	m := NewManager(store, nil)
	exp := time.Now().Add(time.Hour)
	if err := m.Store(context.Background(), Data{AccessToken: "tok-a", ExpiresAt: &exp}); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := m.Clear(context.Background()); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, ok := m.Current(); ok {
		t.Fatalf("record must be gone from memory")
	}
	if _, err := store.Get(context.Background(), "auth.tokens"); err == nil {
		t.Fatalf("record must be gone from storage")
	}
	if err := m.Clear(context.Background()); err != nil {
		t.Fatalf("Clear must be idempotent: %v", err)
	}
}

func TestScheduleRefreshRearmCancelsPrevious(t *testing.T) {
	m := NewManager(statestore.NewMemory(), nil, WithRefreshWindow(time.Millisecond))
	exp := time.Now().Add(20 * time.Millisecond)
	if err := m.Store(context.Background(), Data{AccessToken: "tok-a", ExpiresAt: &exp}); err != nil {
		t.Fatalf("Store: %v", err)
	}

	var fired atomic.Int32
	cb := func(context.Context) error {
		fired.Add(1)
		return nil
	}

	// Arming twice in quick succession must produce exactly one firing.
	m.ScheduleRefresh(cb)
	m.ScheduleRefresh(cb)

	time.Sleep(100 * time.Millisecond)
	if got := fired.Load(); got != 1 {
		t.Fatalf("callback fired %d times, want 1", got)
	}
}

func TestScheduleRefreshWithoutTokensIsNoop(t *testing.T) {
	m := NewManager(statestore.NewMemory(), nil)
	m.ScheduleRefresh(func(context.Context) error {
		t.Errorf("callback must not fire without tokens")
		return nil
	})
	time.Sleep(20 * time.Millisecond)
}

func TestStopCancelsTimer(t *testing.T) {
	m := NewManager(statestore.NewMemory(), nil, WithRefreshWindow(time.Millisecond))
	exp := time.Now().Add(10 * time.Millisecond)
	if err := m.Store(context.Background(), Data{AccessToken: "tok-a", ExpiresAt: &exp}); err != nil {
		t.Fatalf("Store: %v", err)
	}
	m.ScheduleRefresh(func(context.Context) error {
		t.Errorf("callback must not fire after Stop")
		return nil
	})
	m.Stop()
	time.Sleep(50 * time.Millisecond)
}

// unsignedJWT builds an alg=none token carrying only an exp claim.
func unsignedJWT(exp time.Time) string {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))
	payload, _ := json.Marshal(map[string]any{"exp": exp.Unix()})
	return fmt.Sprintf("%s.%s.", header, base64.RawURLEncoding.EncodeToString(payload))
}
