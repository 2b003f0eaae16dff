// Package access carries the project's read-only/read-write mode through a
// request context and enforces it at the edge of the replay server. Crystal
// has no client authentication (spec non-goal); the only access-control
// decision left is whether mutating endpoints are allowed at all.
package access

import (
	"context"
	"net/http"

	"github.com/crystal-web-archiver/crystal/core/projerr"
)

type contextKey string

const contextKeyMode contextKey = "_project_mode_"

// Mode describes whether the current project was opened for writing.
type Mode struct {
	ReadOnly bool
}

// ContextWithMode returns a context carrying mode.
func ContextWithMode(ctx context.Context, mode Mode) context.Context {
	return context.WithValue(ctx, contextKeyMode, mode)
}

// ModeFromContext retrieves the project mode carried by ctx. A context that
// carries none is treated as read-only, the safer default.
func ModeFromContext(ctx context.Context) Mode {
	mode, ok := ctx.Value(contextKeyMode).(Mode)
	if !ok {
		return Mode{ReadOnly: true}
	}
	return mode
}

// RequireWritable returns projerr.ErrReadOnly if the project carried by ctx
// was opened read-only. Every mutating replay endpoint calls this first.
func RequireWritable(ctx context.Context) error {
	if ModeFromContext(ctx).ReadOnly {
		return projerr.ErrReadOnly
	}
	return nil
}

// Middleware attaches mode to every incoming request's context, so that
// handlers and the code they call can reach it via ModeFromContext without
// threading it through every function signature.
func Middleware(mode Mode) func(http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := ContextWithMode(r.Context(), mode)
			h.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
