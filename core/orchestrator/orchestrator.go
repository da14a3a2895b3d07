package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/soverin/bindery/core/coordinator"
	"github.com/soverin/bindery/core/resource"
	"github.com/soverin/bindery/database"
	"github.com/soverin/bindery/helper"
	"github.com/soverin/bindery/model"
)

// Orchestrator drives one processing run: it pulls pending documents in
// batches, admits them into a bounded worker pool under the shared
// parallelism ceiling, and keeps the observable run state current. Any
// number of instances can run concurrently against the same store, the
// claim protocol keeps them from colliding.
type Orchestrator struct {
	config      model.RunConfig
	documents   database.DocumentsDBHandlerFunctions
	lock        database.LockDBHandlerFunctions
	coordinator *coordinator.Coordinator
	resources   *resource.Manager
	processor   *Processor
	logger      *slog.Logger

	stopped atomic.Bool
}

// NewOrchestrator creates an orchestrator for one instance.
func NewOrchestrator(
	config model.RunConfig,
	documents database.DocumentsDBHandlerFunctions,
	lock database.LockDBHandlerFunctions,
	coord *coordinator.Coordinator,
	resources *resource.Manager,
	processor *Processor,
	logger *slog.Logger,
) (*Orchestrator, error) {
	if documents == nil || lock == nil || coord == nil || resources == nil || processor == nil {
		return nil, helper.NewError("orchestrator validation", fmt.Errorf("all dependencies are required"))
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		config:      config,
		documents:   documents,
		lock:        lock,
		coordinator: coord,
		resources:   resources,
		processor:   processor,
		logger:      logger,
	}, nil
}

// Stop requests a graceful stop: no new documents are admitted, in-flight
// documents run to completion.
func (o *Orchestrator) Stop() {
	o.stopped.Store(true)
}

// Run processes pending documents until none remain, the context is
// cancelled, or Stop is called. It first reconciles documents stranded by
// crashed instances, then pulls batches and admits each document under
// the shared ceiling. Returns the final run state.
func (o *Orchestrator) Run(ctx context.Context) (*model.RunState, error) {
	o.stopped.Store(false)

	if _, err := o.coordinator.ReconcileStuck(); err != nil {
		return nil, err
	}

	if err := o.lock.SetProcessing(true); err != nil {
		return nil, err
	}
	defer func() {
		if err := o.lock.SetProcessing(false); err != nil {
			o.logger.Warn("Failed to clear processing flag", slog.String("error", err.Error()))
		}
	}()

	loopCtx, cancelLoops := context.WithCancel(ctx)
	defer cancelLoops()

	go o.resources.Run(loopCtx)
	go o.reconcileLoop(loopCtx)

	// The pool size is the hard ceiling. The adaptive ceiling read from
	// the lock row admits fewer workers when resources are tight, this
	// cap is never exceeded regardless.
	pool, err := ants.NewPool(o.config.MaxParallel)
	if err != nil {
		return nil, helper.NewError("create worker pool", err)
	}
	defer pool.Release()

	tracker := newRunTracker(0)
	go o.stateLoop(loopCtx, tracker)

	var wg sync.WaitGroup
	for !o.stopped.Load() && ctx.Err() == nil {
		docs, err := o.documents.SelectPendingDocuments(o.config.BatchSize)
		if err != nil {
			return nil, helper.NewError("select pending documents", err)
		}
		if len(docs) == 0 {
			break
		}
		tracker.addTotal(len(docs))
		tracker.log(fmt.Sprintf("pulled batch of %d pending documents", len(docs)))

		for _, doc := range docs {
			if o.stopped.Load() || ctx.Err() != nil {
				break
			}

			throttle, admitted, err := o.admit(ctx)
			if err != nil {
				o.logger.Warn("Admission check failed", slog.String("error", err.Error()))
				time.Sleep(o.config.AdmissionInterval)
				continue
			}
			// A stop request can land while admit spins, re-check so no
			// task is started after the stop was observed.
			if !admitted || o.stopped.Load() || ctx.Err() != nil {
				break
			}

			doc := doc
			wg.Add(1)
			submitErr := pool.Submit(func() {
				defer wg.Done()
				o.runOne(ctx, tracker, doc)
			})
			if submitErr != nil {
				wg.Done()
				o.logger.Warn("Worker pool rejected task", slog.String("error", submitErr.Error()))
				time.Sleep(o.config.AdmissionInterval)
				continue
			}

			if throttle > 0 {
				time.Sleep(throttle)
			}
		}

		// A batch can be fully claimed by peers. Wait for in-flight work
		// before re-reading pending, otherwise the same rows come back.
		wg.Wait()
	}

	wg.Wait()

	memPercent, cpuPercent := o.resources.Metrics()
	live, _ := o.coordinator.LiveWorkerCount()
	state := tracker.snapshot(memPercent, cpuPercent, o.resources.MaxParallel(), live)
	if err := o.lock.UpdateState(state); err != nil {
		o.logger.Warn("Failed to persist final run state", slog.String("error", err.Error()))
	}

	return state, ctx.Err()
}

// admit blocks until the live worker count is below the shared ceiling,
// then returns the throttle delay to apply after the next task start.
// The ceiling and throttle are re-read from the lock row on every check
// so decisions made by any instance's controller take effect here. A
// false admitted flag means a stop was requested while waiting and the
// caller must not start the task.
func (o *Orchestrator) admit(ctx context.Context) (time.Duration, bool, error) {
	for {
		if err := ctx.Err(); err != nil {
			return 0, false, err
		}
		if o.stopped.Load() {
			return 0, false, nil
		}

		lock, err := o.lock.SelectLock()
		if err != nil {
			return 0, false, err
		}

		live, err := o.coordinator.LiveWorkerCount()
		if err != nil {
			return 0, false, err
		}

		if live < lock.MaxParallel {
			return time.Duration(lock.ThrottleDelay * float64(time.Second)), true, nil
		}

		time.Sleep(o.config.AdmissionInterval)
	}
}

func (o *Orchestrator) runOne(ctx context.Context, tracker *runTracker, doc *model.Document) {
	tracker.start(doc.Title)

	result, err := o.processor.ProcessDocument(ctx, doc)
	switch {
	case err != nil:
		tracker.finish(doc.Title, model.StatusFailed)
		o.logger.Error("Processing aborted",
			slog.String("document", doc.RID.String()),
			slog.String("error", err.Error()),
		)
	case result == nil:
		// Claimed by a peer, not counted against this run.
		tracker.drop(doc.Title)
	default:
		tracker.finish(doc.Title, result.Status)
	}
}

// reconcileLoop periodically recovers documents stranded by instances
// that crashed mid-run.
func (o *Orchestrator) reconcileLoop(ctx context.Context) {
	ticker := time.NewTicker(o.config.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := o.coordinator.ReconcileStuck(); err != nil {
				o.logger.Warn("Reconcile failed", slog.String("error", err.Error()))
			}
		}
	}
}

// stateLoop persists run state snapshots on the monitor interval.
func (o *Orchestrator) stateLoop(ctx context.Context, tracker *runTracker) {
	ticker := time.NewTicker(o.config.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			memPercent, cpuPercent := o.resources.Metrics()
			live, err := o.coordinator.LiveWorkerCount()
			if err != nil {
				continue
			}
			state := tracker.snapshot(memPercent, cpuPercent, o.resources.MaxParallel(), live)
			if err := o.lock.UpdateState(state); err != nil {
				o.logger.Warn("Failed to persist run state", slog.String("error", err.Error()))
			}
		}
	}
}
