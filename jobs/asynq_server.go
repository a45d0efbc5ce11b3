package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-books/meridian/internal/reconciliation"
)

// OrgLister enumerates organizations eligible for scheduled reconciliation.
type OrgLister interface {
	ActiveOrgIDs(ctx context.Context) ([]int64, error)
}

// Worker wraps the Asynq server and optional scheduler.
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	scheduler *asynq.Scheduler
	logger    *slog.Logger
}

// CronRegistration wires a cron expression to a prepared task.
type CronRegistration struct {
	Spec    string
	Task    *asynq.Task
	Options []asynq.Option
}

// WorkerConfig collects dependencies required to bootstrap the worker.
type WorkerConfig struct {
	RedisOpts      asynq.RedisClientOpt
	Logger         *slog.Logger
	Reconciliation *reconciliation.Service
	Orgs           OrgLister
	Cron           []CronRegistration
}

// NewWorker constructs a Worker instance.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	srv := asynq.NewServer(cfg.RedisOpts, asynq.Config{
		Concurrency: 5,
		Queues: map[string]int{
			QueueDefault: 1,
		},
	})
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskReconciliationRun, NewReconciliationRunHandler(cfg.Reconciliation, cfg.Orgs, cfg.Logger))

	var scheduler *asynq.Scheduler
	if len(cfg.Cron) > 0 {
		scheduler = asynq.NewScheduler(cfg.RedisOpts, &asynq.SchedulerOpts{Location: time.UTC})
		for _, entry := range cfg.Cron {
			if entry.Spec == "" || entry.Task == nil {
				continue
			}
			if _, err := scheduler.Register(entry.Spec, entry.Task, entry.Options...); err != nil {
				return nil, err
			}
		}
	}

	return &Worker{server: srv, mux: mux, scheduler: scheduler, logger: cfg.Logger}, nil
}

// Run starts processing jobs until context cancellation.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil {
		return errors.New("worker: not configured")
	}
	if w.scheduler != nil {
		if err := w.scheduler.Start(); err != nil {
			return err
		}
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- w.server.Run(w.mux)
	}()
	select {
	case <-ctx.Done():
		if w.scheduler != nil {
			w.scheduler.Shutdown()
		}
		w.server.Shutdown()
		return ctx.Err()
	case err := <-errCh:
		if w.scheduler != nil {
			w.scheduler.Shutdown()
		}
		return err
	}
}

// NewReconciliationRunHandler returns the Asynq handler for reconciliation
// runs. A zero OrgID in the payload fans out over every active organization;
// per-org failures are logged and do not abort the sweep.
func NewReconciliationRunHandler(svc *reconciliation.Service, orgs OrgLister, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload ReconciliationRunPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return err
		}

		orgIDs := []int64{payload.OrgID}
		if payload.OrgID == 0 {
			if orgs == nil {
				return errors.New("jobs: org lister not configured")
			}
			ids, err := orgs.ActiveOrgIDs(ctx)
			if err != nil {
				return err
			}
			orgIDs = ids
		}

		var failed int
		for _, orgID := range orgIDs {
			run, err := svc.Run(ctx, orgID, reconciliation.TriggerScheduled, 0)
			if err != nil {
				failed++
				if logger != nil {
					logger.Error("scheduled reconciliation failed",
						slog.Int64("org_id", orgID), slog.Any("error", err))
				}
				continue
			}
			if logger != nil {
				logger.Info("scheduled reconciliation completed",
					slog.Int64("org_id", orgID),
					slog.Int64("run_id", run.ID),
					slog.String("status", string(run.Status)))
			}
		}
		if failed > 0 && failed == len(orgIDs) {
			return errors.New("jobs: reconciliation failed for all organizations")
		}
		return nil
	}
}

// Client submits jobs to the queue.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) (*Client, error) {
	client := asynq.NewClient(redisOpts)
	return &Client{client: client}, nil
}

// EnqueueReconciliationRun enqueues an on-demand reconciliation sweep.
func (c *Client) EnqueueReconciliationRun(ctx context.Context, payload ReconciliationRunPayload) (*asynq.TaskInfo, error) {
	task, err := NewReconciliationRunTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task, asynq.Queue(QueueDefault))
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}
