package handler

import (
	"context"
	"net/http"

	"github.com/garland/internal/logger"
	"github.com/garland/internal/middleware"
	"github.com/garland/internal/model"
)

const defaultHistoryLimit = 500

// MessageHistorian loads chat history for a user.
type MessageHistorian interface {
	History(ctx context.Context, userID, counterpartyID string, limit int) ([]model.ChatMessage, error)
}

type ChatHandler struct {
	repo MessageHistorian
}

func NewChatHandler(repo MessageHistorian) *ChatHandler {
	return &ChatHandler{repo: repo}
}

// History returns the user's messages oldest first. ?with= narrows to one
// conversation; without it a provider gets every conversation at once.
func (h *ChatHandler) History(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	counterpartyID := r.URL.Query().Get("with")
	limit := queryInt(r, "limit", defaultHistoryLimit)
	if limit <= 0 || limit > 2000 {
		limit = defaultHistoryLimit
	}
	msgs, err := h.repo.History(r.Context(), userID, counterpartyID, limit)
	if err != nil {
		logger.Errorf("chat history user=%s with=%s: %v", userID, counterpartyID, err)
		writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}
