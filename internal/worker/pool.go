package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/BuzzLyutic/collab-tracker/internal/config"
	"github.com/BuzzLyutic/collab-tracker/internal/model"
	"github.com/BuzzLyutic/collab-tracker/internal/repo"
	"github.com/BuzzLyutic/collab-tracker/internal/service"
)

// Pool sends "due soon" reminders. A cron schedule wakes the workers; each
// one claims tasks until none are left. Claims skip rows locked by other
// workers or instances, so every task is reminded once per due date.
type Pool struct {
	store    repo.Store
	notifier *service.Notifier
	logger   *zap.Logger
	count    int
	window   time.Duration
	spec     string
	cron     *cron.Cron
	wake     chan struct{}
	wg       sync.WaitGroup
	stop     chan struct{}
}

func NewPool(store repo.Store, notifier *service.Notifier, logger *zap.Logger, cfg config.Config) *Pool {
	return &Pool{
		store:    store,
		notifier: notifier,
		logger:   logger,
		count:    cfg.WorkerCount,
		window:   cfg.DueSoonWindow,
		spec:     cfg.SchedulerSpec,
		cron:     cron.New(),
		wake:     make(chan struct{}, cfg.WorkerCount),
		stop:     make(chan struct{}),
	}
}

func (p *Pool) Start(ctx context.Context) error {
	if _, err := p.cron.AddFunc(p.spec, p.Trigger); err != nil {
		return fmt.Errorf("schedule %q: %w", p.spec, err)
	}

	p.logger.Info("Starting due-soon scheduler",
		zap.Int("workers", p.count),
		zap.String("spec", p.spec),
		zap.Duration("window", p.window),
	)
	for i := 0; i < p.count; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.cron.Start()
	return nil
}

func (p *Pool) Stop() {
	p.logger.Info("Stopping due-soon scheduler...")
	<-p.cron.Stop().Done()
	close(p.stop)
	p.wg.Wait()
	p.logger.Info("Due-soon scheduler stopped")
}

// Run starts the pool and blocks until ctx is canceled.
func (p *Pool) Run(ctx context.Context) error {
	if err := p.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	p.Stop()
	return nil
}

// Trigger wakes every idle worker. Wake-ups for busy workers are dropped;
// they drain the queue anyway.
func (p *Pool) Trigger() {
	for i := 0; i < p.count; i++ {
		select {
		case p.wake <- struct{}{}:
		default:
		}
	}
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		case <-p.wake:
			if n := p.drain(ctx, id); n > 0 {
				p.logger.Info("due-soon sweep finished", zap.Int("worker", id), zap.Int("reminded", n))
			}
		}
	}
}

// Sweep claims and reminds on the calling goroutine until nothing is due.
func (p *Pool) Sweep(ctx context.Context) int {
	return p.drain(ctx, -1)
}

func (p *Pool) drain(ctx context.Context, workerID int) int {
	n := 0
	for ctx.Err() == nil {
		select {
		case <-p.stop:
			return n
		default:
		}

		err := p.processNext(ctx, workerID)
		if errors.Is(err, repo.ErrorNotFound) {
			return n
		}
		if err != nil {
			p.logger.Error("worker error", zap.Int("worker", workerID), zap.Error(err))
			return n
		}
		n++
	}
	return n
}

// processNext claims one task and writes its reminder in the same
// transaction, so a failed notification releases the claim.
func (p *Pool) processNext(ctx context.Context, workerID int) error {
	var (
		task   model.Task
		intent *model.EmailIntent
	)
	err := p.store.InTx(ctx, func(q repo.Repos) error {
		t, err := q.Tasks.ClaimDueSoon(ctx, p.window)
		if err != nil {
			return err
		}
		task = t
		_, intent, err = p.notifier.Notify(ctx, q, model.Event{
			Type:        model.EventDueSoon,
			RecipientID: t.AssigneeID,
			TaskID:      &task.ID,
			Message:     dueSoonMessage(t),
		})
		return err
	})
	if err != nil {
		return err
	}
	if intent != nil {
		p.notifier.Dispatch(ctx, []model.EmailIntent{*intent})
	}

	p.logger.Info("Reminded due-soon task",
		zap.Int("worker", workerID),
		zap.Int64("task_id", task.ID),
		zap.Int64("assignee_id", task.AssigneeID),
	)
	return nil
}

func dueSoonMessage(t model.Task) string {
	if t.DueDate == nil {
		return fmt.Sprintf("Task #%d %q is due soon", t.ID, t.Title)
	}
	return fmt.Sprintf("Task #%d %q is due %s", t.ID, t.Title, t.DueDate.UTC().Format(time.RFC1123))
}
