package auth

import (
	"context"
	"net/http"
	"strings"
)

type ctxKey string

const callerKey ctxKey = "caller"

func CallerFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(callerKey).(string)
	return v, ok
}

// RequireAuth rejects requests without a valid bearer token. A nil verifier
// lets every request through, for deployments where the trigger sits behind
// a private network.
func RequireAuth(jwtSvc *JWT) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if jwtSvc == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := r.Header.Get("Authorization")
			if h == "" || !strings.HasPrefix(h, "Bearer ") {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			token := strings.TrimPrefix(h, "Bearer ")

			caller, err := jwtSvc.Verify(token)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), callerKey, caller)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
