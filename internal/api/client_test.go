package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"rentdesk.org/internal/identity"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL+"/api/v1", nil, WithHealthLimit(rate.Inf, 1))
	return c, srv
}

func TestHealthEndpointDerivation(t *testing.T) {
	cases := map[string]string{
		"http://localhost:8000/api/v1":  "http://localhost:8000/health",
		"http://localhost:8000/api":     "http://localhost:8000/health",
		"http://localhost:8000/api/v1/": "http://localhost:8000/health",
		"http://localhost:8000":         "http://localhost:8000/health",
		"http://api.internal:9000/api":  "http://api.internal:9000/health",
	}
	for base, want := range cases {
		c := NewClient(base, nil)
		if c.healthURL != want {
			t.Fatalf("healthEndpoint(%q) = %q, want %q", base, c.healthURL, want)
		}
	}
}

func TestLoginNormalizesUser(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"access_token": "tok-a",
			"refresh_token": "tok-r",
			"token_type": "bearer",
			"user": {
				"id": "u1",
				"userType": "ADMIN",
				"effectivePermissions": {"all_permissions": ["INVENTORY_VIEW"]}
			}
		}`))
	})
	c, _ := newTestClient(t, mux)

	res, err := c.Login(context.Background(), "admin@rentdesk.example", "secret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.AccessToken != "tok-a" || res.RefreshToken != "tok-r" {
		t.Fatalf("unexpected tokens: %+v", res)
	}
	if res.User.UserType != identity.TypeAdmin {
		t.Fatalf("user type not normalized: %q", res.User.UserType)
	}
	if len(res.User.Permissions) != 1 || res.User.Permissions[0] != "INVENTORY_VIEW" {
		t.Fatalf("permissions not normalized: %v", res.User.Permissions)
	}
}

func TestLoginUnauthorized(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	if _, err := c.Login(context.Background(), "x", "y"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestRefresh(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"tok-a2"}`))
	})
	c, _ := newTestClient(t, mux)

	res, err := c.Refresh(context.Background(), "tok-r")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if res.AccessToken != "tok-a2" {
		t.Fatalf("unexpected token: %q", res.AccessToken)
	}
}

func TestMeSendsBearerToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/auth/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-a" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"u1","user_type":"STAFF"}`))
	})
	c, _ := newTestClient(t, mux)

	user, err := c.Me(context.Background(), "tok-a")
	if err != nil {
		t.Fatalf("Me: %v", err)
	}
	if user.ID != "u1" || user.UserType != identity.TypeStaff {
		t.Fatalf("unexpected user: %+v", user)
	}

	if _, err := c.Me(context.Background(), "wrong"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestHealthStatusSemantics(t *testing.T) {
	cases := []struct {
		name   string
		status int
		want   bool
	}{
		{"ok", http.StatusOK, true},
		{"no content", http.StatusNoContent, true},
		{"unauthorized", http.StatusUnauthorized, true},
		{"not found", http.StatusNotFound, true},
		{"server error", http.StatusInternalServerError, false},
		{"bad gateway", http.StatusBadGateway, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			online, err := c.Health(context.Background(), "")
			if err != nil {
				t.Fatalf("Health: %v", err)
			}
			if online != tc.want {
				t.Fatalf("Health() = %v, want %v", online, tc.want)
			}
		})
	}
}

func TestHealthFallsBackToMe(t *testing.T) {
	// Health endpoint unreachable, /auth/me answers 401: server is up.
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/auth/me", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL+"/api/v1", nil, WithHealthLimit(rate.Inf, 1))
	// Point the primary probe at a dead listener.
	c.healthURL = "http://127.0.0.1:1/health"

	online, err := c.Health(context.Background(), "")
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if !online {
		t.Fatalf("a responding fallback endpoint means online")
	}
}

func TestHealthBothEndpointsDown(t *testing.T) {
	c := NewClient("http://127.0.0.1:1/api/v1", nil, WithHealthLimit(rate.Inf, 1))
	online, err := c.Health(context.Background(), "")
	if err != nil {
		t.Fatalf("Health must not propagate network errors: %v", err)
	}
	if online {
		t.Fatalf("dead endpoints must report offline")
	}
}

func TestHealthThrottled(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, nil, WithHealthLimit(rate.Every(time.Hour), 1))
	if online, err := c.Health(context.Background(), ""); err != nil || !online {
		t.Fatalf("first probe: online=%v err=%v", online, err)
	}
	if _, err := c.Health(context.Background(), ""); !errors.Is(err, ErrThrottled) {
		t.Fatalf("expected ErrThrottled, got %v", err)
	}
	if hits != 1 {
		t.Fatalf("throttled probe must not hit the network, hits=%d", hits)
	}
}
