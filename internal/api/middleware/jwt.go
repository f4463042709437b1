package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/uuru/uuru/internal/api/respond"
	"github.com/uuru/uuru/internal/database/models"
)

type contextKey string

const userKey contextKey = "user"

const tokenIssuer = "uuru"

// Claims are the JWT claims of an API access token.
type Claims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// UserLookup loads the account behind a token.
type UserLookup interface {
	GetByID(ctx context.Context, id int64) (*models.User, error)
}

// GenerateToken signs an access token for user valid for ttl.
func GenerateToken(secret []byte, ttl time.Duration, user *models.User) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(ttl)

	claims := Claims{
		Username: user.Username,
		Role:     user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			Issuer:    tokenIssuer,
			Subject:   strconv.FormatInt(user.ID, 10),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Authenticate resolves a bearer token to its user and stores the user in
// the request context. Requests without an Authorization header pass
// through anonymously; a malformed or expired token is rejected.
func Authenticate(secret []byte, users UserLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				respond.Error(w, http.StatusUnauthorized, "invalid authorization header")
				return
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return secret, nil
			})
			if err != nil || !token.Valid || claims.Issuer != tokenIssuer {
				slog.Debug("auth: invalid jwt", "error", err)
				respond.Error(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			id, err := strconv.ParseInt(claims.Subject, 10, 64)
			if err != nil {
				respond.Error(w, http.StatusUnauthorized, "invalid token claims")
				return
			}
			user, err := users.GetByID(r.Context(), id)
			if err != nil {
				slog.Error("auth: loading user", "user_id", id, "error", err)
				respond.Error(w, http.StatusInternalServerError, "internal server error")
				return
			}
			if user == nil {
				respond.Error(w, http.StatusUnauthorized, "unknown user")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

// RequireUser rejects anonymous requests.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if UserFromContext(r.Context()) == nil {
			respond.Error(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin rejects requests not made by an admin.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := UserFromContext(r.Context())
		if user == nil {
			respond.Error(w, http.StatusUnauthorized, "authentication required")
			return
		}
		if !user.IsAdmin() {
			respond.Error(w, http.StatusForbidden, "Admin only!")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// WithUser returns ctx carrying user.
func WithUser(ctx context.Context, user *models.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// UserFromContext returns the authenticated user, or nil.
func UserFromContext(ctx context.Context) *models.User {
	u, _ := ctx.Value(userKey).(*models.User)
	return u
}
