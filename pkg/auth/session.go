// Package auth turns bearer tokens into an explicit Session that is handed to
// every service call instead of being read from global state.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mcclellann/loandesk/pkg/models"
)

var (
	ErrMissingToken = errors.New("authorization header required")
	ErrInvalidToken = errors.New("invalid token")
)

// Session identifies the staff member using the back office.
type Session struct {
	StaffID   string      `json:"staff_id"`
	Name      string      `json:"name"`
	Role      models.Role `json:"role"`
	CenterIDs []string    `json:"center_ids,omitempty"`
}

// CanAccessCenter reports whether the session may see a center. Field officers
// are limited to their assigned centers; other roles see every center.
func (s Session) CanAccessCenter(centerID string) bool {
	if s.Role != models.RoleFieldOfficer {
		return true
	}
	return slices.Contains(s.CenterIDs, centerID)
}

type claims struct {
	Name      string      `json:"name"`
	Role      models.Role `json:"role"`
	CenterIDs []string    `json:"center_ids,omitempty"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies session tokens with a shared HMAC secret.
type Issuer struct {
	secret []byte
	ttl    time.Duration
}

func NewIssuer(secret string, ttl time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: ttl}
}

// Issue signs a token for s.
func (i *Issuer) Issue(s Session) (string, error) {
	now := time.Now()
	c := claims{
		Name:      s.Name,
		Role:      s.Role,
		CenterIDs: s.CenterIDs,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.StaffID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(i.secret)
}

// Parse verifies token and returns its session.
func (i *Issuer) Parse(token string) (Session, error) {
	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || c.Subject == "" {
		return Session{}, ErrInvalidToken
	}
	return Session{StaffID: c.Subject, Name: c.Name, Role: c.Role, CenterIDs: c.CenterIDs}, nil
}

type sessionKey struct{}

// WithSession stores s in ctx.
func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// FromContext returns the session stored by the middleware.
func FromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(Session)
	return s, ok
}

// Middleware rejects requests without a valid bearer token.
func (i *Issuer) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			http.Error(w, ErrMissingToken.Error(), http.StatusUnauthorized)
			return
		}
		token := strings.TrimPrefix(header, "Bearer ")
		if token == header {
			http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
			return
		}
		s, err := i.Parse(token)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), s)))
	})
}
