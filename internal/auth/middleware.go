// Package auth is the trust boundary for incoming requests. Tokens are
// issued and managed by an upstream identity service; this package only
// validates them and resolves the caller into a shared.Identity.
package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Claims carries the identity payload minted by the upstream auth service.
type Claims struct {
	CompanyID   int64    `json:"company_id"`
	Permissions []string `json:"permissions"`
	jwt.RegisteredClaims
}

// Middleware validates bearer tokens and resolves identities.
type Middleware struct {
	secret []byte
	logger *slog.Logger
}

// NewMiddleware builds the auth middleware with the shared HMAC secret.
func NewMiddleware(secret string, logger *slog.Logger) *Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &Middleware{secret: []byte(secret), logger: logger}
}

// Authenticate parses the Authorization header and stores the resolved
// identity in the request context. Requests without a valid token stop here.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authorization header required")
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authorization header must be Bearer {token}")
			return
		}

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(parts[1], claims, func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("unexpected signing method")
			}
			return m.secret, nil
		})
		if err != nil || !token.Valid {
			detail := "invalid token"
			if errors.Is(err, jwt.ErrTokenExpired) {
				detail = "token has expired"
			}
			m.logger.Warn("token rejected", slog.String("path", r.URL.Path), slog.Any("error", err))
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", detail)
			return
		}

		userID, err := strconv.ParseInt(claims.Subject, 10, 64)
		if err != nil || userID <= 0 {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "invalid token subject")
			return
		}
		if claims.CompanyID <= 0 {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "token carries no company scope")
			return
		}

		identity := shared.Identity{
			UserID:      userID,
			CompanyID:   claims.CompanyID,
			Permissions: claims.Permissions,
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithIdentity(r.Context(), identity)))
	})
}

// RequirePermission guards a route subtree behind a single permission.
func RequirePermission(perm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := shared.IdentityFromContext(r.Context())
			if !ok {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "no identity resolved")
				return
			}
			if !identity.Can(perm) {
				httpx.Problem(w, http.StatusForbidden, "Forbidden", "missing permission "+perm)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
