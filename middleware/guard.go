package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	identity "github.com/actionjacksonthegoat-debug/SeventySix-sub005"
)

// AccessValidator is the part of *identity.Engine the guard needs.
type AccessValidator interface {
	ValidateAccess(ctx context.Context, token string) (*identity.AuthResult, error)
}

type authResultContextKey struct{}

// AuthResultFromContext returns the result stored by Guard.
func AuthResultFromContext(ctx context.Context) (*identity.AuthResult, bool) {
	res, ok := ctx.Value(authResultContextKey{}).(*identity.AuthResult)
	return res, ok
}

// WithAuthResult stores res the way Guard does. Handlers under test use it
// to skip token minting.
func WithAuthResult(ctx context.Context, res *identity.AuthResult) context.Context {
	return context.WithValue(ctx, authResultContextKey{}, res)
}

// Guard rejects requests without a valid bearer access token. Backend
// failures answer 500 so an outage is not reported as a bad token.
func Guard(v AccessValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v == nil {
				writeError(w, http.StatusUnauthorized, identity.CodeUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeError(w, http.StatusUnauthorized, identity.CodeUnauthorized)
				return
			}

			res, err := v.ValidateAccess(r.Context(), token)
			if err != nil {
				if errors.Is(err, identity.ErrInternal) || errors.Is(err, identity.ErrEngineNotReady) {
					writeError(w, http.StatusInternalServerError, identity.CodeInternalError)
					return
				}
				writeError(w, http.StatusUnauthorized, identity.CodeUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAuthResult(r.Context(), res)))
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}

func writeError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="identity"`)
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code})
}
