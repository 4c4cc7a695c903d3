package handler

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/BuzzLyutic/collab-tracker/internal/model"
	"github.com/BuzzLyutic/collab-tracker/internal/service"
	"github.com/BuzzLyutic/collab-tracker/pkg/respond"
)

const maxUploadBytes = 32 << 20

type TaskHandler struct {
	service *service.TaskService
	logger  *zap.Logger
}

func NewTaskHandler(srv *service.TaskService, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{
		service: srv,
		logger:  logger,
	}
}

func (h *TaskHandler) Routes(r chi.Router) {
	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Get("/summary", h.Summary)
	r.Post("/bulk-status", h.BulkStatus)

	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Patch("/", h.Update)
		r.Delete("/", h.Delete)
		r.Post("/status", h.ChangeStatus)
		r.Post("/reassign", h.Reassign)
		r.Post("/submit", h.Submit)
		r.Post("/clone", h.Clone)
		r.Get("/history", h.History)
		r.Get("/subtasks", h.Subtasks)
		r.Post("/comments", h.Comment)
		r.Patch("/comments/{logID}", h.EditComment)
		r.Delete("/comments/{logID}", h.DeleteComment)
		r.Post("/favorite", h.ToggleFavorite)
		r.Get("/attachments", h.Attachments)
		r.Post("/attachments", h.Upload)
		r.Get("/attachments/{attachmentID}", h.Download)
	})
}

func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := identity(w, r)
	if !ok {
		return
	}

	var req model.CreateTaskInput
	if !decode(w, r, &req) {
		return
	}

	idempKey := r.Header.Get("Idempotency-Key")
	res, err := h.service.Create(r.Context(), actor, req, idempKey)
	if err != nil {
		handleErrors(w, r, h.logger, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/tasks/%d", res.Task.ID))
	respond.JSON(w, r, http.StatusCreated, res)
}

func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := actorAndID(w, r)
	if !ok {
		return
	}

	task, err := h.service.Get(r.Context(), actor, id)
	if err != nil {
		handleErrors(w, r, h.logger, err)
		return
	}
	respond.JSON(w, r, http.StatusOK, task)
}

// List serves both work lists; view selects which.
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := identity(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	var status *model.Status
	if s := q.Get("status"); s != "" {
		st := model.Status(s)
		status = &st
	}
	since, err := parseTime(q.Get("updated_since"))
	if err != nil {
		respond.Error(w, r, http.StatusBadRequest, "updated_since must be RFC3339")
		return
	}
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		respond.Error(w, r, http.StatusBadRequest, "limit must be an integer")
		return
	}

	var tasks []model.Task
	switch model.TaskView(q.Get("view")) {
	case "", model.ViewAssignedToMe:
		tasks, err = h.service.ListAssignedToMe(r.Context(), actor, status, since, limit)
	case model.ViewAssignedByMe:
		tasks, err = h.service.ListAssignedByMe(r.Context(), actor, status, since, limit)
	default:
		respond.Error(w, r, http.StatusBadRequest, "view must be assigned_to_me or assigned_by_me")
		return
	}
	if err != nil {
		handleErrors(w, r, h.logger, err)
		return
	}
	respond.JSON(w, r, http.StatusOK, tasks)
}

func (h *TaskHandler) Summary(w http.ResponseWriter, r *http.Request) {
	actor, ok := identity(w, r)
	if !ok {
		return
	}

	s, err := h.service.Summary(r.Context(), actor)
	if err != nil {
		handleErrors(w, r, h.logger, err)
		return
	}
	respond.JSON(w, r, http.StatusOK, s)
}

func (h *TaskHandler) Update(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := actorAndID(w, r)
	if !ok {
		return
	}

	var req model.UpdateTaskInput
	if !decode(w, r, &req) {
		return
	}

	task, err := h.service.Update(r.Context(), actor, id, req)
	if err != nil {
		handleErrors(w, r, h.logger, err)
		return
	}
	respond.JSON(w, r, http.StatusOK, task)
}

func (h *TaskHandler) Delete(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := actorAndID(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), actor, id); err != nil {
		handleErrors(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *TaskHandler) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := actorAndID(w, r)
	if !ok {
		return
	}

	var req model.StatusChangeInput
	if !decode(w, r, &req) {
		return
	}

	task, err := h.service.ChangeStatus(r.Context(), actor, id, req)
	if err != nil {
		handleErrors(w, r, h.logger, err)
		return
	}
	respond.JSON(w, r, http.StatusOK, task)
}

func (h *TaskHandler) BulkStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := identity(w, r)
	if !ok {
		return
	}

	var req model.BulkStatusInput
	if !decode(w, r, &req) {
		return
	}

	results, err := h.service.BulkChangeStatus(r.Context(), actor, req)
	if err != nil {
		handleErrors(w, r, h.logger, err)
		return
	}
	respond.JSON(w, r, http.StatusOK, results)
}

func (h *TaskHandler) Reassign(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := actorAndID(w, r)
	if !ok {
		return
	}

	var req model.ReassignInput
	if !decode(w, r, &req) {
		return
	}

	task, err := h.service.Reassign(r.Context(), actor, id, req)
	if err != nil {
		handleErrors(w, r, h.logger, err)
		return
	}
	respond.JSON(w, r, http.StatusOK, task)
}

func (h *TaskHandler) Submit(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := actorAndID(w, r)
	if !ok {
		return
	}

	task, err := h.service.Submit(r.Context(), actor, id)
	if err != nil {
		handleErrors(w, r, h.logger, err)
		return
	}
	respond.JSON(w, r, http.StatusOK, task)
}

func (h *TaskHandler) Clone(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := actorAndID(w, r)
	if !ok {
		return
	}

	task, err := h.service.Clone(r.Context(), actor, id)
	if err != nil {
		handleErrors(w, r, h.logger, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/api/tasks/%d", task.ID))
	respond.JSON(w, r, http.StatusCreated, task)
}

func (h *TaskHandler) History(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := actorAndID(w, r)
	if !ok {
		return
	}

	logs, err := h.service.History(r.Context(), actor, id)
	if err != nil {
		handleErrors(w, r, h.logger, err)
		return
	}
	respond.JSON(w, r, http.StatusOK, logs)
}

func (h *TaskHandler) Subtasks(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := actorAndID(w, r)
	if !ok {
		return
	}

	tasks, err := h.service.Subtasks(r.Context(), actor, id)
	if err != nil {
		handleErrors(w, r, h.logger, err)
		return
	}
	respond.JSON(w, r, http.StatusOK, tasks)
}

func (h *TaskHandler) Comment(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := actorAndID(w, r)
	if !ok {
		return
	}

	var req model.CommentInput
	if !decode(w, r, &req) {
		return
	}

	entry, err := h.service.Comment(r.Context(), actor, id, req)
	if err != nil {
		handleErrors(w, r, h.logger, err)
		return
	}
	respond.JSON(w, r, http.StatusCreated, entry)
}

func (h *TaskHandler) EditComment(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := actorAndID(w, r)
	if !ok {
		return
	}
	logID, ok := pathID(w, r, "logID")
	if !ok {
		return
	}

	var req model.CommentInput
	if !decode(w, r, &req) {
		return
	}

	entry, err := h.service.EditComment(r.Context(), actor, id, logID, req)
	if err != nil {
		handleErrors(w, r, h.logger, err)
		return
	}
	respond.JSON(w, r, http.StatusOK, entry)
}

func (h *TaskHandler) DeleteComment(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := actorAndID(w, r)
	if !ok {
		return
	}
	logID, ok := pathID(w, r, "logID")
	if !ok {
		return
	}

	if err := h.service.DeleteComment(r.Context(), actor, id, logID); err != nil {
		handleErrors(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *TaskHandler) ToggleFavorite(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := actorAndID(w, r)
	if !ok {
		return
	}

	on, err := h.service.ToggleFavorite(r.Context(), actor, id)
	if err != nil {
		handleErrors(w, r, h.logger, err)
		return
	}
	respond.JSON(w, r, http.StatusOK, map[string]bool{"favorite": on})
}

func (h *TaskHandler) Attachments(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := actorAndID(w, r)
	if !ok {
		return
	}

	atts, err := h.service.Attachments(r.Context(), actor, id)
	if err != nil {
		handleErrors(w, r, h.logger, err)
		return
	}
	respond.JSON(w, r, http.StatusOK, atts)
}

// Upload takes a multipart form with a single "file" part.
func (h *TaskHandler) Upload(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := actorAndID(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		respond.Error(w, r, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		respond.Error(w, r, http.StatusBadRequest, "missing file part")
		return
	}
	defer file.Close()

	a, err := h.service.AddAttachment(r.Context(), actor, id, header.Filename, header.Header.Get("Content-Type"), file)
	if err != nil {
		handleErrors(w, r, h.logger, err)
		return
	}
	respond.JSON(w, r, http.StatusCreated, a)
}

func (h *TaskHandler) Download(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := actorAndID(w, r)
	if !ok {
		return
	}
	attID, ok := pathID(w, r, "attachmentID")
	if !ok {
		return
	}

	a, rc, err := h.service.OpenAttachment(r.Context(), actor, id, attID)
	if err != nil {
		handleErrors(w, r, h.logger, err)
		return
	}
	defer rc.Close()

	ct := a.MimeType
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": a.FileName}))
	w.Header().Set("Content-Length", strconv.FormatInt(a.Size, 10))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("attachment download interrupted", zap.Int64("attachment_id", a.ID), zap.Error(err))
	}
}

func parseTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// parseLimit returns 0 for an absent limit; the service applies its default.
func parseLimit(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}
