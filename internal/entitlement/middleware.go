package entitlement

import (
	"context"
	"net/http"

	"github.com/botzfyi/botz/internal/errs"
	"github.com/botzfyi/botz/internal/respond"
)

type contextKey string

const decisionKey contextKey = "entitlement_decision"

// RequireAccess returns middleware that runs CheckAccess for the user
// resolved by userID and rejects denied requests with the decision's status.
func RequireAccess(g *Gate, userID func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := userID(r)
			if id == "" {
				respond.Error(w, errs.Unauthorized, "authentication required")
				return
			}

			d := g.CheckAccess(r.Context(), id)
			if !d.OK {
				respond.Err(w, r, d.Denial())
				return
			}

			ctx := context.WithValue(r.Context(), decisionKey, d)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// DecisionFromContext returns the decision stored by RequireAccess.
func DecisionFromContext(ctx context.Context) (Decision, bool) {
	d, ok := ctx.Value(decisionKey).(Decision)
	return d, ok
}
