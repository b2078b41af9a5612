// Package auth verifies bearer tokens on catalog routes.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/render"
	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrNoToken indicates the request carried no bearer token
	ErrNoToken = errors.New("no authorization token provided")
	// ErrInvalidToken indicates the token failed verification
	ErrInvalidToken = errors.New("invalid token")
)

// Claims are the token claims the catalog routes rely on
type Claims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

// Identity returns the caller identity, preferring userId over sub
func (c *Claims) Identity() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.RegisteredClaims.Subject
}

// HMACVerifier verifies HS256 tokens signed with a shared secret
type HMACVerifier struct {
	secret []byte
	now    func() time.Time
}

// NewHMACVerifier creates a verifier for secret
func NewHMACVerifier(secret string) (*HMACVerifier, error) {
	if secret == "" {
		return nil, errors.New("jwt secret cannot be empty")
	}
	return &HMACVerifier{secret: []byte(secret), now: time.Now}, nil
}

// Verify parses and validates a raw token
func (v *HMACVerifier) Verify(raw string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims,
		func(token *jwt.Token) (interface{}, error) { return v.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Identity() == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Sign issues a token for subject; the admin CLI and tests use it
func (v *HMACVerifier) Sign(subject string, ttl time.Duration) (string, error) {
	now := v.now()
	claims := &Claims{
		UserID: subject,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

type contextKey struct{}

// ClaimsFromContext returns the verified claims of the request, if any
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(contextKey{}).(*Claims)
	return claims, ok
}

// WithClaims returns a copy of ctx carrying claims
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, contextKey{}, claims)
}

// Authenticate verifies the bearer token carried by r
func (v *HMACVerifier) Authenticate(r *http.Request) (*Claims, error) {
	raw, ok := bearerToken(r)
	if !ok {
		return nil, ErrNoToken
	}
	return v.Verify(raw)
}

// Middleware rejects requests without a valid bearer token
func Middleware(v *HMACVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := v.Authenticate(r)
			if err != nil {
				Unauthorized(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// Unauthorized writes the 401 body for an authentication error
func Unauthorized(w http.ResponseWriter, r *http.Request, err error) {
	message := "Invalid token"
	switch {
	case errors.Is(err, ErrNoToken):
		message = "No authorization token provided"
	case errors.Is(err, ErrBadSecret):
		message = "Invalid shared secret"
	}
	w.Header().Set("Access-Control-Allow-Origin", "*")
	render.Status(r, http.StatusUnauthorized)
	render.JSON(w, r, map[string]string{"error": message})
}
