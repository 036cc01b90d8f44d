package kp

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/sing3demons/jwtnode/pkg/logAction"
	"github.com/sing3demons/jwtnode/pkg/mlog"
)

// RecoverMiddleware catches panics during request handling and returns 500.
// It logs via the logger found in the request context, if any.
func RecoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		defer func() {
			if rec := recover(); rec != nil {
				lg := mlog.L(r.Context())
				lg.Error(logAction.EXCEPTION("panic recovered"), map[string]any{
					"method":   r.Method,
					"path":     r.URL.Path,
					"panic":    panicError(rec).Error(),
					"duration": time.Since(start).Milliseconds(),
					"stack":    string(debug.Stack()),
				})
				lg.FlushError(http.StatusInternalServerError, "internal_server_error")

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(w).Encode(map[string]any{"error": "internal_server_error"})
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// recoverHandler runs handler and turns a panic into a 500 response (HTTP) or
// an EXCEPTION record (Kafka).
func recoverHandler(c *Ctx, handler MyHandler) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			fields := map[string]any{
				"panic":    panicError(rec).Error(),
				"duration": time.Since(start).Milliseconds(),
				"stack":    string(debug.Stack()),
			}
			if c.Req != nil {
				fields["method"] = c.Req.Method
				fields["path"] = c.Req.URL.Path
			}
			if c.Msg != nil {
				fields["topic"] = c.Msg.Topic
			}
			c.Log.Error(logAction.EXCEPTION("panic recovered"), fields)
			c.JSONError(http.StatusInternalServerError, map[string]any{"error": "internal_server_error"}, panicError(rec))
		}
	}()
	handler(c)
}

func panicError(rec any) error {
	if e, ok := rec.(error); ok {
		return e
	}
	return fmt.Errorf("%v", rec)
}
