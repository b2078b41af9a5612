package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
)

// SecretHeader carries the shared secret on machine-to-machine routes
const SecretHeader = "X-Events-Secret"

// ErrBadSecret indicates a missing or mismatched shared secret
var ErrBadSecret = errors.New("invalid shared secret")

// RequireSecret rejects requests whose SecretHeader does not match secret
func RequireSecret(secret string) func(http.Handler) http.Handler {
	want := []byte(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(r.Header.Get(SecretHeader))
			if len(got) == 0 || subtle.ConstantTimeCompare(got, want) != 1 {
				Unauthorized(w, r, ErrBadSecret)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
