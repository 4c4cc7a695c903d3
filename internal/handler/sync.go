package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/BuzzLyutic/collab-tracker/internal/service"
	"github.com/BuzzLyutic/collab-tracker/pkg/respond"
)

type SyncHandler struct {
	service *service.SyncService
	logger  *zap.Logger
}

func NewSyncHandler(srv *service.SyncService, logger *zap.Logger) *SyncHandler {
	return &SyncHandler{service: srv, logger: logger}
}

// Sync returns what changed for the caller since last_synced_at. Clients
// store server_time from the response and send it back on the next poll.
func (h *SyncHandler) Sync(w http.ResponseWriter, r *http.Request) {
	actor, ok := identity(w, r)
	if !ok {
		return
	}

	watermark, err := parseTime(r.URL.Query().Get("last_synced_at"))
	if err != nil {
		respond.Error(w, r, http.StatusBadRequest, "last_synced_at must be RFC3339")
		return
	}

	res, err := h.service.Sync(r.Context(), actor.UserID, watermark)
	if err != nil {
		handleErrors(w, r, h.logger, err)
		return
	}
	respond.JSON(w, r, http.StatusOK, res)
}
