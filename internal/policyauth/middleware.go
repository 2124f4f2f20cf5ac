// Package policyauth guards routes with a static bearer token.
package policyauth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

const (
	HeaderAuthorization = "Authorization"
	BearerPrefix        = "Bearer "
	// QueryToken carries the token for websocket clients that cannot set headers.
	QueryToken = "access_token"
)

var ErrUnauthorized = errors.New("authentication failed")

type RejectFunc func(http.ResponseWriter, *http.Request, error)

// Middleware passes requests through unchanged when token is empty.
func Middleware(token string, reject RejectFunc) func(http.Handler) http.Handler {
	expected := strings.TrimSpace(token)
	if expected == "" {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !matches(providedToken(r), expected) {
				reject(w, r, fmt.Errorf("%w: missing or invalid bearer token", ErrUnauthorized))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func providedToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get(HeaderAuthorization))
	if token, ok := strings.CutPrefix(header, BearerPrefix); ok {
		return strings.TrimSpace(token)
	}
	return strings.TrimSpace(r.URL.Query().Get(QueryToken))
}

func matches(provided, expected string) bool {
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}
