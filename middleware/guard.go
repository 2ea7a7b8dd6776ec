package middleware

import (
	"context"
	"net/http"
	"strings"

	passauth "github.com/recitalhub/passauth"
)

type authResultContextKey struct{}

func AuthResultFromContext(ctx context.Context) (*passauth.AuthResult, bool) {
	res, ok := ctx.Value(authResultContextKey{}).(*passauth.AuthResult)
	return res, ok
}

func RequireAuth(engine *passauth.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			res, err := engine.ValidateAccess(r.Context(), token)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), authResultContextKey{}, res)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func RequireRole(engine *passauth.Engine, role string) func(http.Handler) http.Handler {
	guard := RequireAuth(engine)
	return func(next http.Handler) http.Handler {
		return guard(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, ok := AuthResultFromContext(r.Context())
			if !ok || res.Role != role {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		}))
	}
}

// ResolveUserID maps a requested user id to the authenticated identity.
// Non-elevated callers may only act on themselves; the elevated role may act
// on any user.
func ResolveUserID(ctx context.Context, requested, elevatedRole string) (string, bool) {
	res, ok := AuthResultFromContext(ctx)
	if !ok {
		return "", false
	}
	if requested == "" || requested == res.UserID {
		return res.UserID, true
	}
	if elevatedRole != "" && res.Role == elevatedRole {
		return requested, true
	}
	return "", false
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
