package httpx

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/splax/feed/internal/apperror"
	"github.com/splax/feed/internal/domain"
)

type authContextKey string

const contextKeyVerdict authContextKey = "feed-auth-verdict"

// gatePolicy selects what happens when a request carries no usable token.
type gatePolicy int

const (
	proceedAsAnonymous gatePolicy = iota
	failUnauthenticated
)

type contextSetter interface {
	SetContext(context.Context)
}

// softAuth attaches a verdict and always lets the request through.
func (r *Router) softAuth(next http.HandlerFunc) http.HandlerFunc {
	return r.gate(proceedAsAnonymous, next)
}

// requireAuth rejects requests without a valid bearer token.
func (r *Router) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return r.gate(failUnauthenticated, next)
}

func (r *Router) gate(policy gatePolicy, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		verdict, err := r.verify(req)
		if err != nil {
			if policy == failUnauthenticated {
				r.logger.Warn("authentication failed", "error", err, "path", req.URL.Path)
				r.writeAppError(w, req, &apperror.Error{Kind: apperror.KindUnauthenticated, Message: "not authenticated", Err: err})
				return
			}
			verdict = domain.Anonymous
		}
		ctx := context.WithValue(req.Context(), contextKeyVerdict, verdict)
		if setter, ok := w.(contextSetter); ok {
			setter.SetContext(ctx)
		}
		next(w, req.WithContext(ctx))
	}
}

// verify is the single token check shared by both gate policies.
func (r *Router) verify(req *http.Request) (domain.Verdict, error) {
	token, err := bearerToken(req.Header.Get("Authorization"))
	if err != nil {
		return domain.Anonymous, err
	}
	claims, err := r.auth.Authorize(token)
	if err != nil {
		return domain.Anonymous, err
	}
	return domain.Verdict{Authenticated: true, UserID: claims.UserID}, nil
}

// verdictFromContext returns the gate's verdict, or Anonymous when no gate ran.
func verdictFromContext(ctx context.Context) domain.Verdict {
	if v, ok := ctx.Value(contextKeyVerdict).(domain.Verdict); ok {
		return v
	}
	return domain.Anonymous
}

func bearerToken(header string) (string, error) {
	if strings.TrimSpace(header) == "" {
		return "", errors.New("missing authorization header")
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header format")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("empty bearer token")
	}
	return token, nil
}
