package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/michaelbrown/labrunner/internal/config"
)

type ctxKey int

const userKey ctxKey = iota

// AnonymousUser is the identity of callers that send none.
const AnonymousUser = "anonymous"

// UserID returns the caller identity stored by the identity middleware.
func UserID(ctx context.Context) string {
	if id, ok := ctx.Value(userKey).(string); ok && id != "" {
		return id
	}
	return AnonymousUser
}

// identity resolves the caller. With a JWT secret configured every request
// must carry an HS256 bearer token (or access_token query parameter, for
// browsers opening a websocket) whose subject becomes the user id. Without
// one, the X-User-ID header is trusted.
func identity(cfg config.AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := AnonymousUser
			if cfg.JWTSecret == "" {
				if h := strings.TrimSpace(r.Header.Get("X-User-ID")); h != "" {
					user = h
				}
			} else {
				sub, err := verifyToken(cfg, bearerToken(r))
				if err != nil {
					w.Header().Set("Content-Type", "application/json")
					writeError(w, http.StatusUnauthorized, "unauthorized: "+err.Error())
					return
				}
				user = sub
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, user)))
		})
	}
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return r.URL.Query().Get("access_token")
}

func verifyToken(cfg config.AuthConfig, raw string) (string, error) {
	if raw == "" {
		return "", errors.New("missing token")
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		return []byte(cfg.JWTSecret), nil
	}, opts...)
	if err != nil {
		return "", err
	}

	sub, err := token.Claims.GetSubject()
	if err != nil {
		return "", err
	}
	if sub == "" {
		return "", errors.New("token has no subject")
	}
	return sub, nil
}
