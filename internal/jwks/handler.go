package jwks

import (
	"net/http"

	"github.com/sing3demons/jwtnode/pkg/kp"
)

type Handler struct {
	cache *Cache
}

func NewHandler(cache *Cache) *Handler {
	return &Handler{cache: cache}
}

// JwksHandler serves the public half of the cached key set.
// GET /.well-known/jwks.json
func (h *Handler) JwksHandler(ctx *kp.Ctx) {
	ctx.L("get_jwks")
	if h.cache == nil || !h.cache.Ready() {
		ctx.JSONError(http.StatusServiceUnavailable, map[string]string{
			"error": "jwks_not_ready",
		}, ErrNotReady)
		return
	}
	ctx.JSON(http.StatusOK, h.cache.Keys().Public())
}
