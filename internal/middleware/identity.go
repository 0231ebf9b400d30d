// Package middleware provides HTTP middlewares for authentication and logging.
package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/atinyakov/timecapsule/internal/models"
)

type ctxKey string

const identityKey ctxKey = "identity"

// Header names read by HeaderVerifier.
const (
	HeaderUserID    = "X-User-Id"
	HeaderUserEmail = "X-User-Email"
)

// ErrUnauthenticated is returned by verifiers when the request carries no
// usable identity.
var ErrUnauthenticated = errors.New("unauthenticated")

// Verifier resolves the caller of a request.
type Verifier interface {
	Verify(r *http.Request) (models.Identity, error)
}

// HeaderVerifier trusts the X-User-Id and X-User-Email headers as sent.
//
// Anyone who can reach the server can claim any identity with it, so it must
// only be used behind a gateway that sets these headers itself.
type HeaderVerifier struct{}

// Verify implements Verifier.
func (HeaderVerifier) Verify(r *http.Request) (models.Identity, error) {
	id := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if id == "" {
		return models.Identity{}, ErrUnauthenticated
	}
	return models.Identity{
		ID:    id,
		Email: strings.TrimSpace(r.Header.Get(HeaderUserEmail)),
	}, nil
}

// Claims is the JWT payload accepted by TokenVerifier.
type Claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// TokenVerifier accepts "Authorization: Bearer <token>" where the token is an
// HS256 JWT signed with Secret. The subject becomes the identity ID.
type TokenVerifier struct {
	Secret []byte
}

// Verify implements Verifier.
func (v TokenVerifier) Verify(r *http.Request) (models.Identity, error) {
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		return models.Identity{}, ErrUnauthenticated
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(strings.TrimSpace(raw), &claims, func(*jwt.Token) (any, error) {
		return v.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return models.Identity{}, errors.Join(ErrUnauthenticated, err)
	}
	if claims.Subject == "" {
		return models.Identity{}, ErrUnauthenticated
	}
	return models.Identity{ID: claims.Subject, Email: claims.Email}, nil
}

// IssueToken signs an HS256 token for who that expires after ttl.
func IssueToken(secret []byte, who models.Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Email: who.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   who.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// Authenticate rejects requests that v cannot verify with 401 and stores the
// caller's identity in the request context otherwise.
func Authenticate(v Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			who, err := v.Verify(r)
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "Unauthorized"})
				return
			}
			ctx := context.WithValue(r.Context(), identityKey, who)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetIdentityFromContext extracts the caller stored by Authenticate. The
// second result is false when the request was not authenticated.
func GetIdentityFromContext(ctx context.Context) (models.Identity, bool) {
	who, ok := ctx.Value(identityKey).(models.Identity)
	return who, ok
}

// WithIdentity returns a copy of ctx carrying who.
func WithIdentity(ctx context.Context, who models.Identity) context.Context {
	return context.WithValue(ctx, identityKey, who)
}
