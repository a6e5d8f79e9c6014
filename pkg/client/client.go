package client

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/jwtauth/v5"
	"github.com/google/uuid"
)

// AuthUser is the visitor authenticated by the auth cookie
type AuthUser struct {
	UserId       string `json:"sub,omitempty"`
	SessionToken string `json:"jti,omitempty"`
	UserUuid     uuid.UUID
}

func (i AuthUser) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("user", i.UserId),
	)
}

// contextKey is a value for use with context.WithValue. It's used as
// a pointer so it fits in an interface{} without allocation.
type contextKey struct {
	name string
}

func (k *contextKey) String() string {
	return "citizenos context value " + k.name
}

const (
	AUTH_COOKIE_NAME     = "citizenos-auth"
	VISITOR_COOKIE_NAME  = "citizenos-visitor"
	REDIRECT_COOKIE_NAME = "citizenos-redirect"
)

var (
	AuthUserKey = &contextKey{"AuthUser"}
)

// SessionChecker reports whether a login session is still active
type SessionChecker interface {
	IsSessionValid(ctx context.Context, token string) (bool, error)
}

// Verifier decodes the auth cookie (or a bearer header) into the request
// context. Invalid tokens are recorded, not rejected.
func Verifier(ja *jwtauth.JWTAuth) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return jwtauth.Verify(ja, TokenFromCookie, jwtauth.TokenFromHeader)(next)
	}
}

func TokenFromCookie(r *http.Request) string {
	cookie, err := r.Cookie(AUTH_COOKIE_NAME)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// AuthUserMiddleware turns verified claims into an AuthUser when the login
// session behind them is still active. Anonymous requests pass through.
func AuthUserMiddleware(sessions SessionChecker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, claims, err := jwtauth.FromContext(r.Context())
			if err != nil || token == nil {
				next.ServeHTTP(w, r)
				return
			}

			authUser := &AuthUser{}
			authUser.UserId, _ = claims["sub"].(string)
			authUser.SessionToken, _ = claims["jti"].(string)
			if authUser.UserId == "" || authUser.SessionToken == "" {
				next.ServeHTTP(w, r)
				return
			}

			userUUID, err := uuid.Parse(authUser.UserId)
			if err != nil {
				slog.Warn("failed to parse user ID as UUID", "userId", authUser.UserId, "error", err)
				next.ServeHTTP(w, r)
				return
			}
			authUser.UserUuid = userUUID

			if sessions != nil {
				ok, err := sessions.IsSessionValid(r.Context(), authUser.SessionToken)
				if err != nil {
					slog.Error("failed to check login session", "user", authUser, "error", err)
				}
				if !ok {
					next.ServeHTTP(w, r)
					return
				}
			}

			ctx := context.WithValue(r.Context(), AuthUserKey, authUser)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetAuthUser returns the authenticated visitor, if any
func GetAuthUser(r *http.Request) (*AuthUser, bool) {
	authUser, ok := r.Context().Value(AuthUserKey).(*AuthUser)
	return authUser, ok && authUser != nil
}

// RequireAuth is an authorization middleware that requires valid authentication.
// Returns 401 Unauthorized if the request is not authenticated.
// Must be used after AuthUserMiddleware.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := GetAuthUser(r); !ok {
			slog.Debug("Unauthenticated request to protected resource")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
