package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/BuzzLyutic/collab-tracker/internal/auth"
	"github.com/BuzzLyutic/collab-tracker/internal/service"
	"github.com/BuzzLyutic/collab-tracker/pkg/respond"
)

type Services struct {
	Tasks    *service.TaskService
	Notifier *service.Notifier
	Sync     *service.SyncService
}

func NewRouter(svc Services, jwtSecret []byte, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respond.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})

	tasks := NewTaskHandler(svc.Tasks, logger)
	notes := NewNotificationHandler(svc.Notifier, logger)
	sync := NewSyncHandler(svc.Sync, logger)

	r.Route("/api", func(r chi.Router) {
		r.Use(auth.Middleware(jwtSecret, logger))
		r.Route("/tasks", tasks.Routes)
		r.Route("/notifications", notes.Routes)
		r.Get("/sync", sync.Sync)
	})
	return r
}
