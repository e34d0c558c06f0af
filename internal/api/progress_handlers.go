package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/checkpoint"
	"github.com/JakeFAU/listing-harvester/internal/crawler"
)

const progressTimeout = 3 * time.Second

// ProgressSource reads the persisted resume cursor.
type ProgressSource interface {
	LoadProgress() (crawler.Progress, bool, error)
}

// ProgressResponse is the body of GET /progress.
type ProgressResponse struct {
	Page           int  `json:"page"`
	ItemsCollected int  `json:"itemsCollected"`
	Persisted      bool `json:"persisted"`
}

// ProgressHandler exposes the checkpointed progress read-only.
type ProgressHandler struct {
	source  ProgressSource
	timeout time.Duration
	logger  *zap.Logger
}

// NewProgressHandler wires the source and logger.
func NewProgressHandler(source ProgressSource, logger *zap.Logger) *ProgressHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressHandler{
		source:  source,
		timeout: progressTimeout,
		logger:  logger,
	}
}

// Get handles GET /progress.
func (h *ProgressHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h.source == nil {
		writeError(w, http.StatusServiceUnavailable, "progress source not configured")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	type result struct {
		progress crawler.Progress
		found    bool
		err      error
	}
	done := make(chan result, 1)
	go func() {
		p, found, err := h.source.LoadProgress()
		done <- result{progress: p, found: found, err: err}
	}()

	select {
	case <-ctx.Done():
		writeError(w, http.StatusGatewayTimeout, "progress read timed out")
	case res := <-done:
		if res.err != nil {
			h.logger.Warn("load progress failed", zap.Error(res.err))
			status := http.StatusInternalServerError
			if errors.Is(res.err, checkpoint.ErrCorrupt) {
				status = http.StatusConflict
			}
			writeError(w, status, res.err.Error())
			return
		}
		writeJSON(w, http.StatusOK, ProgressResponse{
			Page:           res.progress.Page,
			ItemsCollected: res.progress.ItemsCollected,
			Persisted:      res.found,
		})
	}
}
