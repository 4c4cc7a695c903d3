package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BuzzLyutic/collab-tracker/internal/config"
	"github.com/BuzzLyutic/collab-tracker/internal/handler"
	"github.com/BuzzLyutic/collab-tracker/internal/mailer"
	"github.com/BuzzLyutic/collab-tracker/internal/repo"
	"github.com/BuzzLyutic/collab-tracker/internal/service"
	"github.com/BuzzLyutic/collab-tracker/internal/storage"
	"github.com/BuzzLyutic/collab-tracker/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the due-soon scheduler",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Подключаем логгер
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	apiDB, err := connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer apiDB.Close()

	// Планировщик работает на своем пуле соединений
	schedulerDB, err := connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer schedulerDB.Close()
	logger.Info("Successfully connected to the Database!")

	files, err := storage.NewLocal(cfg.AttachmentDir)
	if err != nil {
		return err
	}
	sender := mailer.NewLogSender(logger)

	store := repo.NewStore(apiDB)
	notifier := service.NewNotifier(store, sender, logger)
	router := handler.NewRouter(handler.Services{
		Tasks:    service.NewTaskService(store, notifier, files, logger, cfg),
		Notifier: notifier,
		Sync:     service.NewSyncService(store),
	}, []byte(cfg.JWTSecret), logger)

	schedulerStore := repo.NewStore(schedulerDB)
	scheduler := worker.NewPool(schedulerStore, service.NewNotifier(schedulerStore, sender, logger), logger, cfg)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Server started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return scheduler.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server stopped with error", zap.Error(err))
		return err
	}
	logger.Info("Server stopped successfully!")
	return nil
}
