package api

import (
	"github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"

	"grohe-sync-backend/internal/store"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store   store.Store
	webpush *webpush.Options
	level   *zap.AtomicLevel
	logger  *zap.Logger
}

// NewHandler creates a new API handler. level may be nil, in which case the log level
// cannot be changed through the API.
func NewHandler(s store.Store, webpushOptions *webpush.Options, level *zap.AtomicLevel, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		store:   s,
		webpush: webpushOptions,
		level:   level,
		logger:  logger,
	}
}
