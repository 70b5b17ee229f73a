package httpx

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-art-storefront/internal/apperr"
	"github.com/ariefcatur/go-art-storefront/internal/checkout"
)

const RoleAdmin = "admin"

// Claims is what a session token carries. Tokens are issued elsewhere; this
// service only verifies them.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type ctxKey struct{}

type Auth struct {
	Secret []byte
	Log    *zap.Logger
}

// Middleware rejects requests without a valid HS256 bearer token.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			writeError(w, a.Log, apperr.Unauthorized("Not authorized, no token"))
			return
		}
		var c Claims
		_, err := jwt.ParseWithClaims(raw, &c, func(*jwt.Token) (any, error) { return a.Secret, nil },
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
		)
		if err != nil || c.Subject == "" {
			msg := "Not authorized, token failed"
			if errors.Is(err, jwt.ErrTokenExpired) {
				msg = "Not authorized, token expired"
			}
			writeError(w, a.Log, apperr.Unauthorized(msg))
			return
		}
		v := checkout.Viewer{UserID: c.Subject, Admin: c.Role == RoleAdmin}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, v)))
	})
}

func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !viewer(r).Admin {
			writeJSON(w, http.StatusForbidden, ErrorResponse{Error: "Not authorized as an admin"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func viewer(r *http.Request) checkout.Viewer {
	v, _ := r.Context().Value(ctxKey{}).(checkout.Viewer)
	return v
}
