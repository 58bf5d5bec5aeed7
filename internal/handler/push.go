package handler

import (
	"encoding/json"
	"net/http"

	"github.com/supportchat/internal/middleware"
	"github.com/supportchat/internal/push"
)

type PushHandler struct {
	notifier       *push.Notifier
	vapidPublicKey string
}

func NewPushHandler(notifier *push.Notifier, vapidPublicKey string) *PushHandler {
	return &PushHandler{notifier: notifier, vapidPublicKey: vapidPublicKey}
}

// VAPIDPublic hands the browser the public key it needs to subscribe.
func (h *PushHandler) VAPIDPublic(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled":    h.notifier.Enabled(),
		"public_key": h.vapidPublicKey,
	})
}

func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var sub push.Subscription
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil || sub.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "invalid subscription")
		return
	}
	userID := middleware.GetUserID(r.Context())
	if err := h.notifier.Subscribe(r.Context(), userID, sub); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to subscribe")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Endpoint string `json:"endpoint"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	userID := middleware.GetUserID(r.Context())
	if err := h.notifier.Unsubscribe(r.Context(), userID, req.Endpoint); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to unsubscribe")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
