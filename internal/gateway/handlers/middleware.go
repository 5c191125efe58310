package handlers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mrmushfiq/llm0-chat-gateway/internal/shared/config"
	"github.com/mrmushfiq/llm0-chat-gateway/internal/shared/database"
	"github.com/mrmushfiq/llm0-chat-gateway/internal/shared/models"
)

type ctxKey int

const callerKey ctxKey = iota

const (
	tokenTypeUser  = "user"
	tokenTypeAdmin = "admin"
)

// SettingsProvider returns the current live settings snapshot
type SettingsProvider interface {
	Current() *config.Settings
}

// UserLookup resolves a user id to its display name
type UserLookup interface {
	GetUserEmail(ctx context.Context, userID int64) (string, error)
}

// Claims carried by access tokens
type Claims struct {
	Type string `json:"type"`
	jwt.RegisteredClaims
}

type Middleware struct {
	settings SettingsProvider
	users    UserLookup
	secret   []byte
}

func NewMiddleware(settings SettingsProvider, users UserLookup, secretKey string) *Middleware {
	return &Middleware{
		settings: settings,
		users:    users,
		secret:   []byte(secretKey),
	}
}

// ClientIP resolves the caller address from, in order, CF-Connecting-IP,
// True-Client-IP, the first X-Forwarded-For hop, X-Real-IP and finally the
// connection address. Header values that are not IP addresses are skipped.
func ClientIP(r *http.Request) string {
	for _, h := range []string{"CF-Connecting-IP", "True-Client-IP"} {
		if ip := parseIP(r.Header.Get(h)); ip != "" {
			return ip
		}
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := parseIP(first); ip != "" {
			return ip
		}
	}
	if ip := parseIP(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func parseIP(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return ""
	}
	return addr.Unmap().String()
}

// BlockList rejects callers whose address is in the live blocklist. Admin
// routes are exempt so a blocked operator can still unblock themselves.
func (m *Middleware) BlockList(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/admin") {
			next.ServeHTTP(w, r)
			return
		}

		if m.settings.Current().IsBlocked(ClientIP(r)) {
			writeError(w, http.StatusForbidden, "your IP address has been blocked")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Identity attaches the caller to the request context. A missing or invalid
// bearer token makes the caller a guest; it is never an error.
func (m *Middleware) Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := models.Caller{IP: ClientIP(r)}

		if claims, ok := m.parseToken(r.Header.Get("Authorization")); ok && claims.Type == tokenTypeUser {
			if id, err := strconv.ParseInt(claims.Subject, 10, 64); err == nil {
				caller.UserID = &id
				caller.Username = m.lookupName(r.Context(), id)
			}
		}

		ctx := context.WithValue(r.Context(), callerKey, caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *Middleware) lookupName(ctx context.Context, id int64) *string {
	if m.users == nil {
		return nil
	}
	email, err := m.users.GetUserEmail(ctx, id)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			log.Printf("user lookup failed for %d: %v", id, err)
		}
		return nil
	}
	return &email
}

// AdminOnly requires a valid token of type admin
func (m *Middleware) AdminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := m.parseToken(r.Header.Get("Authorization"))
		if !ok {
			writeError(w, http.StatusUnauthorized, "invalid or missing token")
			return
		}
		if claims.Type != tokenTypeAdmin {
			writeError(w, http.StatusForbidden, "admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m *Middleware) parseToken(header string) (*Claims, bool) {
	tokenString, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || tokenString == "" {
		return nil, false
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return nil, false
	}
	return claims, true
}

// CallerFromContext returns the caller set by Identity. Without it the caller
// is an anonymous guest with no address.
func CallerFromContext(ctx context.Context) models.Caller {
	caller, _ := ctx.Value(callerKey).(models.Caller)
	return caller
}
