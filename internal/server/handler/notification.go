package handler

import (
	"log/slog"
	"net/http"

	"github.com/Damqn23/auction-marketplace/internal/domain"
)

// NotificationHandler lists and acknowledges the acting user's notifications.
type NotificationHandler struct {
	reader AccountReader
	logger *slog.Logger
}

// NewNotificationHandler creates a NotificationHandler.
func NewNotificationHandler(reader AccountReader, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{
		reader: reader,
		logger: logger.With(slog.String("handler", "notification")),
	}
}

// List returns notifications, newest first.
// GET /api/notifications?unread=true&limit=50&offset=0
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	user, ok := actingUser(w, r)
	if !ok {
		return
	}
	unread := r.URL.Query().Get("unread") == "true"
	ns, err := h.reader.ListNotifications(r.Context(), user, unread, parseListOpts(r))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if ns == nil {
		ns = []domain.Notification{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": ns})
}

// MarkRead acknowledges one notification.
// POST /api/notifications/{id}/read
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	user, ok := actingUser(w, r)
	if !ok {
		return
	}
	if err := h.reader.MarkRead(r.Context(), user, r.PathValue("id")); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
