package membership

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"shelfshare/internal/errs"
	"shelfshare/internal/httpx"
)

type principalKey struct{}

// WithPrincipal returns a context carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the caller stored by Authenticate, if any.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// ContextAuth answers "who is calling" from the request context. It is the
// Auth collaborator handed to the reservation workflow.
type ContextAuth struct{}

func (ContextAuth) CurrentUser(ctx context.Context) (Principal, bool) {
	return PrincipalFromContext(ctx)
}

// Authenticate parses an optional bearer token. Requests without a token pass
// through anonymously; a malformed or expired token is rejected.
func Authenticate(tokens *TokenManager, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := strings.TrimSpace(r.Header.Get("Authorization"))
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
				httpx.Error(w, logger, errs.ErrAuthRequired)
				return
			}
			p, err := tokens.Parse(strings.TrimSpace(header[7:]))
			if err != nil {
				logger.Debug("rejecting token", zap.Error(err))
				httpx.Error(w, logger, errs.ErrAuthRequired)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// Require rejects anonymous callers, and callers lacking c when c is set.
func Require(c Capability, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := Authorize(r.Context(), c); err != nil {
				httpx.Error(w, logger, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Authorize checks the context principal against c. An empty capability
// only requires a signed-in caller.
func Authorize(ctx context.Context, c Capability) error {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return errs.ErrAuthRequired
	}
	if c != "" && !p.Can(c) {
		return errors.Join(errs.ErrForbidden, errors.New("missing capability "+string(c)))
	}
	return nil
}
