package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pvbaptista/orcaparse/internal/config"
	"github.com/pvbaptista/orcaparse/internal/pdftext"
	"github.com/pvbaptista/orcaparse/internal/rules"
)

// Orchestrator manages the asynchronous parse pipeline.
type Orchestrator struct {
	jobs   *JobStore
	queue  chan *Job
	runner *Runner
	log    *slog.Logger
	cfg    config.Config

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewOrchestrator creates the pipeline; Start launches its workers.
func NewOrchestrator(cfg config.Config, reg rules.Registry, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		jobs:  NewJobStore(cfg.JobTTL),
		queue: make(chan *Job, cfg.MaxQueueSize),
		runner: &Runner{
			Rules:     reg,
			Extractor: pdftext.Extractor{FallbackPdftotext: cfg.PDFFallbackPdftotext},
			Log:       log,
		},
		log: log,
		cfg: cfg,
	}
}

// Runner exposes the underlying runner for synchronous use by handlers.
func (o *Orchestrator) Runner() *Runner {
	return o.runner
}

// Start launches worker goroutines.
func (o *Orchestrator) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	for range o.cfg.WorkerCount {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			for {
				select {
				case <-workerCtx.Done():
					return
				case job, ok := <-o.queue:
					if !ok {
						return
					}
					o.process(workerCtx, job)
				}
			}
		}()
	}

	// Start job store cleanup.
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				o.jobs.Cleanup()
			}
		}
	}()
}

func (o *Orchestrator) process(ctx context.Context, job *Job) {
	req := job.Request()
	job.SetStatus(StatusExtracting, "extraindo texto")

	res, err := o.runner.Run(ctx, req)
	if err != nil {
		o.log.Error("parse job failed", "job_id", job.ID, "base_id", job.BaseID, "error", err)
		job.Fail(err.Error())
		return
	}
	job.SetResult(res)
}

// Stop gracefully shuts down the pipeline.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	close(o.queue)
	o.wg.Wait()
}

// Submit queues a new job for processing.
func (o *Orchestrator) Submit(job *Job) error {
	o.jobs.Put(job)
	select {
	case o.queue <- job:
		return nil
	default:
		job.Fail("queue_full")
		return fmt.Errorf("job queue is full (%d)", o.cfg.MaxQueueSize)
	}
}

// GetJob returns a job by ID.
func (o *Orchestrator) GetJob(id string) *Job {
	return o.jobs.Get(id)
}

// QueueDepth returns current queue depth.
func (o *Orchestrator) QueueDepth() int {
	return len(o.queue)
}
