package auth

import (
	"net/http"

	"github.com/kuitang/entrystore/internal/logutil"
	"github.com/kuitang/entrystore/internal/obs"
)

// Middleware resolves the caller's principal for downstream handlers.
type Middleware struct {
	verifier Verifier
}

// NewMiddleware creates auth middleware. A nil verifier means Passthrough.
func NewMiddleware(verifier Verifier) *Middleware {
	if verifier == nil {
		verifier = Passthrough{}
	}
	return &Middleware{verifier: verifier}
}

// OptionalAuth adds the principal to the context when one is present.
// Requests without one continue anonymously; handlers decide what an
// anonymous caller gets.
func (m *Middleware) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		candidate, ok := FromRequest(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		p, err := m.verifier.Verify(r.Context(), candidate.UserID)
		if err != nil {
			obs.From(r.Context()).Debug("auth: token rejected", "error", err)
			next.ServeHTTP(w, r)
			return
		}

		ctx := WithPrincipal(r.Context(), p)
		ctx = obs.WithCorrelation(ctx, obs.Correlation{Principal: logutil.Fingerprint(p.UserID)})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
