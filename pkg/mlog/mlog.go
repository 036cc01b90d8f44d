package mlog

import (
	"context"

	"github.com/sing3demons/jwtnode/pkg/logger"
)

// L returns the request-scoped logger carried by ctx. Without one, records are dropped.
func L(ctx context.Context) *logger.Logger {
	if l := logger.GetLogger(ctx); l != nil {
		return l
	}
	return logger.NewNop()
}
