package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/BuzzLyutic/collab-tracker/internal/auth"
	"github.com/BuzzLyutic/collab-tracker/internal/model"
	"github.com/BuzzLyutic/collab-tracker/internal/repo"
	"github.com/BuzzLyutic/collab-tracker/internal/service"
	"github.com/BuzzLyutic/collab-tracker/pkg/respond"
)

func handleErrors(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, repo.ErrorNotFound):
		respond.Error(w, r, http.StatusNotFound, "not found")
	case errors.Is(err, repo.ErrorConflict):
		respond.Error(w, r, http.StatusConflict, "conflict")
	case errors.Is(err, service.ErrValidation):
		respond.Error(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrPermissionDenied):
		respond.Error(w, r, http.StatusForbidden, "permission denied")
	default:
		logger.Error("internal error",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		respond.Error(w, r, http.StatusInternalServerError, "internal error")
	}
}

func identity(w http.ResponseWriter, r *http.Request) (model.Identity, bool) {
	id, err := auth.FromContext(r.Context())
	if err != nil {
		respond.Error(w, r, http.StatusUnauthorized, "unauthorized")
		return model.Identity{}, false
	}
	return id, true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		respond.Error(w, r, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

func actorAndID(w http.ResponseWriter, r *http.Request) (model.Identity, int64, bool) {
	actor, ok := identity(w, r)
	if !ok {
		return actor, 0, false
	}
	id, ok := pathID(w, r, "id")
	return actor, id, ok
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := respond.Decode(w, r, dst); err != nil {
		respond.Error(w, r, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}
