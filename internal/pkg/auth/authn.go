package auth

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/open-policy-agent/opa/v1/rego"
)

// NewAuthenticator compiles the rego policy from the reader and returns a
// middleware that evaluates it for every request. The policy decides on the
// request path and the presented bearer token; a falsy result ends the
// request with 401.
func NewAuthenticator(ctx context.Context, log *slog.Logger, policies io.Reader) (func(http.Handler) http.Handler, error) {
	module, err := io.ReadAll(policies)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy document: %w", err)
	}

	query, err := rego.New(
		rego.Query("x = data.stutils.authz.allow"),
		rego.Module("authz.rego", string(module)),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare authz policy for evaluation: %w", err)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := ""
			authHeader := r.Header.Get("Authorization")
			if strings.HasPrefix(authHeader, "Bearer ") {
				token = strings.TrimPrefix(authHeader, "Bearer ")
			}

			input := map[string]any{
				"method": r.Method,
				"path":   strings.Split(strings.Trim(r.URL.Path, "/"), "/"),
				"token":  token,
			}

			results, err := query.Eval(r.Context(), rego.EvalInput(input))
			if err != nil {
				log.Error("failed to evaluate authz policy", "err", err.Error())
				w.WriteHeader(http.StatusUnauthorized)
				return
			}

			allowed := false
			if len(results) > 0 {
				allowed, _ = results[0].Bindings["x"].(bool)
			}

			if !allowed {
				log.Warn("access denied", "path", r.URL.Path)
				w.WriteHeader(http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}, nil
}
