package handler

import (
	"log/slog"
	"net/http"
)

// CloserHandler lets operators trigger a sweep outside the schedule.
type CloserHandler struct {
	sweeper Sweeper
	logger  *slog.Logger
}

// NewCloserHandler creates a CloserHandler.
func NewCloserHandler(sweeper Sweeper, logger *slog.Logger) *CloserHandler {
	return &CloserHandler{
		sweeper: sweeper,
		logger:  logger.With(slog.String("handler", "closer")),
	}
}

// Sweep runs one sweep and returns its report. A sweep already running in
// another process answers 409.
// POST /api/closer/sweep
func (h *CloserHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	report, err := h.sweeper.SweepOnce(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	h.logger.InfoContext(r.Context(), "handler: manual sweep",
		slog.Int("due", report.Due),
		slog.Int("closed", report.Closed),
		slog.Int("failures", len(report.Failures)),
	)
	writeJSON(w, http.StatusOK, report)
}
