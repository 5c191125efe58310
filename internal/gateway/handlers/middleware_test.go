package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mrmushfiq/llm0-chat-gateway/internal/shared/config"
	"github.com/mrmushfiq/llm0-chat-gateway/internal/shared/database"
	"github.com/mrmushfiq/llm0-chat-gateway/internal/shared/models"
)

const testSecret = "test-secret"

type fixedSettings struct{ s config.Settings }

func (f fixedSettings) Current() *config.Settings { return &f.s }

type fakeUsers map[int64]string

func (f fakeUsers) GetUserEmail(_ context.Context, id int64) (string, error) {
	email, ok := f[id]
	if !ok {
		return "", database.ErrNotFound
	}
	return email, nil
}

func signToken(t *testing.T, secret, tokenType, subject string, ttl time.Duration) string {
	t.Helper()
	claims := Claims{
		Type: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return s
}

func TestClientIP(t *testing.T) {
	cases := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"remote addr", nil, "192.0.2.1:5555", "192.0.2.1"},
		{"cloudflare wins", map[string]string{"CF-Connecting-IP": "203.0.113.9", "True-Client-IP": "203.0.113.8", "X-Forwarded-For": "203.0.113.7"}, "10.0.0.1:1", "203.0.113.9"},
		{"true client ip", map[string]string{"True-Client-IP": "203.0.113.8", "X-Real-IP": "203.0.113.6"}, "10.0.0.1:1", "203.0.113.8"},
		{"first forwarded hop", map[string]string{"X-Forwarded-For": " 198.51.100.4 , 10.0.0.2", "X-Real-IP": "203.0.113.6"}, "10.0.0.1:1", "198.51.100.4"},
		{"real ip", map[string]string{"X-Real-IP": "203.0.113.6"}, "10.0.0.1:1", "203.0.113.6"},
		{"garbage header skipped", map[string]string{"CF-Connecting-IP": "not-an-ip", "X-Real-IP": "203.0.113.6"}, "10.0.0.1:1", "203.0.113.6"},
		{"mapped ipv4", map[string]string{"X-Real-IP": "::ffff:203.0.113.6"}, "10.0.0.1:1", "203.0.113.6"},
		{"ipv6 remote", nil, "[2001:db8::1]:443", "2001:db8::1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tc.remote
			for k, v := range tc.headers {
				r.Header.Set(k, v)
			}
			if got := ClientIP(r); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestBlockList(t *testing.T) {
	settings := fixedSettings{config.Settings{Blocked: []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}}}
	m := NewMiddleware(settings, nil, testSecret)
	h := m.BlockList(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	cases := []struct {
		path string
		ip   string
		want int
	}{
		{"/api/chat/models", "10.1.2.3", http.StatusForbidden},
		{"/api/chat/completions", "192.0.2.1", http.StatusNoContent},
		{"/api/admin/channels/1/test", "10.1.2.3", http.StatusNoContent},
	}
	for _, tc := range cases {
		r := httptest.NewRequest(http.MethodGet, tc.path, nil)
		r.Header.Set("X-Real-IP", tc.ip)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		if rec.Code != tc.want {
			t.Fatalf("%s from %s: expected %d, got %d", tc.path, tc.ip, tc.want, rec.Code)
		}
	}
}

func TestIdentity(t *testing.T) {
	m := NewMiddleware(fixedSettings{}, fakeUsers{42: "a@example.com"}, testSecret)

	var got models.Caller
	h := m.Identity(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = CallerFromContext(r.Context())
	}))

	run := func(auth string) models.Caller {
		r := httptest.NewRequest(http.MethodPost, "/api/chat/completions", nil)
		r.RemoteAddr = "192.0.2.10:1234"
		if auth != "" {
			r.Header.Set("Authorization", auth)
		}
		got = models.Caller{}
		h.ServeHTTP(httptest.NewRecorder(), r)
		return got
	}

	c := run("Bearer " + signToken(t, testSecret, tokenTypeUser, "42", time.Hour))
	if c.UserID == nil || *c.UserID != 42 {
		t.Fatalf("expected user 42, got %+v", c)
	}
	if c.Username == nil || *c.Username != "a@example.com" {
		t.Fatalf("expected email as display name, got %v", c.Username)
	}
	if c.IP != "192.0.2.10" {
		t.Fatalf("expected caller ip, got %q", c.IP)
	}

	c = run("Bearer " + signToken(t, testSecret, tokenTypeUser, "7", time.Hour))
	if c.UserID == nil || *c.UserID != 7 || c.Username != nil {
		t.Fatalf("expected unknown user to keep id without name, got %+v", c)
	}

	for name, auth := range map[string]string{
		"none":       "",
		"wrong key":  "Bearer " + signToken(t, "other", tokenTypeUser, "42", time.Hour),
		"expired":    "Bearer " + signToken(t, testSecret, tokenTypeUser, "42", -time.Minute),
		"admin type": "Bearer " + signToken(t, testSecret, tokenTypeAdmin, "1", time.Hour),
		"bad sub":    "Bearer " + signToken(t, testSecret, tokenTypeUser, "abc", time.Hour),
		"not bearer": "Basic Zm9vOmJhcg==",
	} {
		if c := run(auth); !c.IsGuest() {
			t.Fatalf("%s: expected guest, got %+v", name, c)
		}
	}
}

func TestAdminOnly(t *testing.T) {
	m := NewMiddleware(fixedSettings{}, nil, testSecret)
	h := m.AdminOnly(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	cases := []struct {
		auth string
		want int
	}{
		{"", http.StatusUnauthorized},
		{"Bearer " + signToken(t, testSecret, tokenTypeUser, "1", time.Hour), http.StatusForbidden},
		{"Bearer " + signToken(t, testSecret, tokenTypeAdmin, "1", time.Hour), http.StatusNoContent},
	}
	for _, tc := range cases {
		r := httptest.NewRequest(http.MethodPost, "/api/admin/channels/1/test", nil)
		if tc.auth != "" {
			r.Header.Set("Authorization", tc.auth)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		if rec.Code != tc.want {
			t.Fatalf("expected %d, got %d", tc.want, rec.Code)
		}
	}
}
