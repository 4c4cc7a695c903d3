package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/BuzzLyutic/collab-tracker/internal/auth"
	"github.com/BuzzLyutic/collab-tracker/internal/model"
	"github.com/BuzzLyutic/collab-tracker/internal/service"
	"github.com/BuzzLyutic/collab-tracker/pkg/respond"
)

type NotificationHandler struct {
	notifier *service.Notifier
	logger   *zap.Logger
}

func NewNotificationHandler(n *service.Notifier, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{notifier: n, logger: logger}
}

func (h *NotificationHandler) Routes(r chi.Router) {
	r.Get("/", h.List)
	r.Get("/unread-count", h.UnreadCount)
	r.Post("/read", h.MarkRead)
	r.Get("/preferences", h.Preferences)
	r.Put("/preferences", h.SetPreference)
	r.With(auth.RequireAdmin).Post("/broadcast", h.Broadcast)
}

func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := identity(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	unread := false
	if s := q.Get("unread"); s != "" {
		v, err := strconv.ParseBool(s)
		if err != nil {
			respond.Error(w, r, http.StatusBadRequest, "unread must be a boolean")
			return
		}
		unread = v
	}
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		respond.Error(w, r, http.StatusBadRequest, "limit must be an integer")
		return
	}

	notes, err := h.notifier.ListNotifications(r.Context(), actor.UserID, unread, limit)
	if err != nil {
		handleErrors(w, r, h.logger, err)
		return
	}
	respond.JSON(w, r, http.StatusOK, notes)
}

func (h *NotificationHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	actor, ok := identity(w, r)
	if !ok {
		return
	}

	n, err := h.notifier.UnreadCount(r.Context(), actor.UserID)
	if err != nil {
		handleErrors(w, r, h.logger, err)
		return
	}
	respond.JSON(w, r, http.StatusOK, map[string]int{"unread": n})
}

func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	actor, ok := identity(w, r)
	if !ok {
		return
	}

	var req model.MarkReadInput
	if !decode(w, r, &req) {
		return
	}

	n, err := h.notifier.MarkRead(r.Context(), actor.UserID, req)
	if err != nil {
		handleErrors(w, r, h.logger, err)
		return
	}
	respond.JSON(w, r, http.StatusOK, map[string]int64{"updated": n})
}

func (h *NotificationHandler) Preferences(w http.ResponseWriter, r *http.Request) {
	actor, ok := identity(w, r)
	if !ok {
		return
	}

	prefs, err := h.notifier.GetPreferences(r.Context(), actor.UserID)
	if err != nil {
		handleErrors(w, r, h.logger, err)
		return
	}
	respond.JSON(w, r, http.StatusOK, prefs)
}

func (h *NotificationHandler) SetPreference(w http.ResponseWriter, r *http.Request) {
	actor, ok := identity(w, r)
	if !ok {
		return
	}

	var req model.PreferenceInput
	if !decode(w, r, &req) {
		return
	}

	prefs, err := h.notifier.SetPreference(r.Context(), actor.UserID, req)
	if err != nil {
		handleErrors(w, r, h.logger, err)
		return
	}
	respond.JSON(w, r, http.StatusOK, prefs)
}

func (h *NotificationHandler) Broadcast(w http.ResponseWriter, r *http.Request) {
	actor, ok := identity(w, r)
	if !ok {
		return
	}

	var req model.BroadcastInput
	if !decode(w, r, &req) {
		return
	}

	results, err := h.notifier.Broadcast(r.Context(), actor, req)
	if err != nil {
		handleErrors(w, r, h.logger, err)
		return
	}
	respond.JSON(w, r, http.StatusOK, results)
}
