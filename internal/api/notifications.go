package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/metisconnect/metis-backend/internal/storage"
)

// NotificationStore reads the delivery log the notifier writes.
type NotificationStore interface {
	ListByAppointment(ctx context.Context, appointmentID string, limit int) ([]storage.Notification, error)
}

type NotificationHandler struct {
	store  NotificationStore
	logger *slog.Logger
}

func NewNotificationHandler(store NotificationStore, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{store: store, logger: logger}
}

type notificationItem struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	Recipient string `json:"recipient"`
	Delivered bool   `json:"delivered"`
	Error     string `json:"error,omitempty"`
	CreatedAt string `json:"created_at"`
}

// ListByAppointment returns the message delivery history for one appointment,
// newest first. Admin only; the body texts stay out of the response.
func (h *NotificationHandler) ListByAppointment(w http.ResponseWriter, r *http.Request) {
	items, err := h.store.ListByAppointment(r.Context(), r.PathValue("id"), 20)
	if err != nil {
		h.logger.Error("notification history lookup failed", "err", err)
		http.Error(w, "failed to load notifications", http.StatusInternalServerError)
		return
	}

	out := make([]notificationItem, 0, len(items))
	for _, n := range items {
		out = append(out, notificationItem{
			ID:        n.ID,
			Kind:      n.Kind,
			Recipient: n.Recipient,
			Delivered: n.Delivered,
			Error:     n.Error,
			CreatedAt: n.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}
