// Package rollout is the Rollout Engine (C7): the batch scheduler and
// per-router update state machine. It owns the "one active job" invariant,
// the abort-flag registry cancellation goes through, and the inter-batch
// wall-clock pause.
package rollout

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/fleet-rollout/orchestrator/internal/apperrors"
	"github.com/fleet-rollout/orchestrator/internal/eventbus"
	"github.com/fleet-rollout/orchestrator/internal/firmware"
	"github.com/fleet-rollout/orchestrator/internal/metrics"
	"github.com/fleet-rollout/orchestrator/internal/storage"
)

const rebootPollAttempts = 20

// StartRequest describes an operator's rollout command.
type StartRequest struct {
	RouterIDs     []string
	BatchSize     int
	IncludeErrors bool
}

// Engine runs at most one rollout at a time.
type Engine struct {
	repo    *storage.Repository
	probe   *firmware.Probe
	bus     *eventbus.Bus
	log     *zap.Logger
	metrics *metrics.AppMetrics
	sshPort int

	rebootPollInterval time.Duration
	batchWaitTick      time.Duration

	mu            sync.RWMutex
	activeBatches map[string]*atomic.Bool // jobID -> abort flag
}

func New(repo *storage.Repository, probe *firmware.Probe, bus *eventbus.Bus, log *zap.Logger, appMetrics *metrics.AppMetrics) *Engine {
	return &Engine{
		repo:               repo,
		probe:              probe,
		bus:                bus,
		log:                log,
		metrics:            appMetrics,
		sshPort:            22,
		rebootPollInterval: 30 * time.Second,
		batchWaitTick:      time.Minute,
		activeBatches:      make(map[string]*atomic.Bool),
	}
}

// WithSSHPort overrides the default port 22 (the configured port in
// production, a fake router's ephemeral port in tests).
func (e *Engine) WithSSHPort(port int) *Engine {
	e.sshPort = port
	return e
}

// WithRebootPollInterval overrides the default 30s poll spacing (from config
// in production, a few milliseconds in tests).
func (e *Engine) WithRebootPollInterval(d time.Duration) *Engine {
	e.rebootPollInterval = d
	return e
}

// WithBatchWaitTick overrides the default one-minute granularity of the
// inter-batch pause, so tests don't wait in real minutes.
func (e *Engine) WithBatchWaitTick(d time.Duration) *Engine {
	e.batchWaitTick = d
	return e
}

// Start resolves the candidate set, creates the BatchJob and launches the
// batch loop in the background. It returns as soon as the job row exists.
func (e *Engine) Start(ctx context.Context, req StartRequest) (*storage.BatchJob, error) {
	candidates, err := e.resolveCandidates(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, apperrors.New(apperrors.Validation, "no routers match the rollout request")
	}

	active, err := e.repo.GetActiveJob(ctx)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, apperrors.Newf(apperrors.Conflict, "rollout %s is already active", active.ID)
	}

	batchSize := req.BatchSize
	if batchSize <= 0 {
		batchSize = 10
	}

	job, err := e.repo.InsertJob(ctx, storage.BatchJob{
		Status:       storage.JobStatusPending,
		BatchSize:    batchSize,
		TotalRouters: len(candidates),
	})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if err := e.repo.UpdateJob(ctx, job.ID, map[string]interface{}{
		"status":     storage.JobStatusRunning,
		"started_at": &now,
	}); err != nil {
		return nil, err
	}
	job.Status = storage.JobStatusRunning
	job.StartedAt = &now

	abort := &atomic.Bool{}
	e.mu.Lock()
	e.activeBatches[job.ID] = abort
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.RolloutActiveGauge.Set(1)
	}

	go e.run(context.Background(), job.ID, batchSize, candidates, abort)

	return job, nil
}

// Cancel sets the abort flag for jobID, if it is currently running.
func (e *Engine) Cancel(jobID string) error {
	e.mu.RLock()
	abort, ok := e.activeBatches[jobID]
	e.mu.RUnlock()
	if !ok {
		return apperrors.New(apperrors.NotFound, "no active rollout with that id")
	}
	abort.Store(true)
	return nil
}

func (e *Engine) resolveCandidates(ctx context.Context, req StartRequest) ([]storage.Router, error) {
	if len(req.RouterIDs) > 0 {
		var out []storage.Router
		for _, id := range req.RouterIDs {
			rt, err := e.repo.GetRouterByID(ctx, id)
			if err != nil {
				continue // skip missing, per spec
			}
			out = append(out, *rt)
		}
		return out, nil
	}

	candidates, err := e.repo.GetRoutersByStatus(ctx, storage.RouterStatusUpdateAvailable)
	if err != nil {
		return nil, err
	}
	if req.IncludeErrors {
		errored, err := e.repo.GetRoutersByStatus(ctx, storage.RouterStatusError)
		if err != nil {
			return nil, err
		}
		unreachable, err := e.repo.GetRoutersByStatus(ctx, storage.RouterStatusUnreachable)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, errored...)
		candidates = append(candidates, unreachable...)
	}
	return candidates, nil
}

func (e *Engine) run(ctx context.Context, jobID string, batchSize int, candidates []storage.Router, abort *atomic.Bool) {
	defer func() {
		e.mu.Lock()
		delete(e.activeBatches, jobID)
		e.mu.Unlock()
		e.bus.Cleanup(jobID)
		if e.metrics != nil {
			e.metrics.RolloutActiveGauge.Set(0)
		}
	}()

	total := len(candidates)
	e.bus.Emit(eventbus.UpdateEvent{Type: eventbus.EventJobStarted, JobID: jobID, Data: map[string]interface{}{"total": total}})

	var completed, failed int
	numBatches := (total + batchSize - 1) / batchSize
	cancelled := false

	for batchNum := 0; batchNum*batchSize < total; batchNum++ {
		if abort.Load() {
			cancelled = true
			break
		}

		start := batchNum * batchSize
		end := start + batchSize
		if end > total {
			end = total
		}
		batch := candidates[start:end]

		e.bus.Emit(eventbus.UpdateEvent{
			Type: eventbus.EventBatchStarted, JobID: jobID,
			Data: map[string]interface{}{"batchNumber": batchNum + 1, "totalBatches": numBatches},
		})

		var wg sync.WaitGroup
		var mu sync.Mutex
		for _, rt := range batch {
			wg.Add(1)
			go func(rt storage.Router) {
				defer wg.Done()
				ok := e.runPipeline(ctx, jobID, rt)
				mu.Lock()
				if ok {
					completed++
				} else {
					failed++
				}
				mu.Unlock()
			}(rt)
		}
		wg.Wait()

		if err := e.repo.UpdateJob(ctx, jobID, map[string]interface{}{
			"completed_routers": completed,
			"failed_routers":    failed,
		}); err != nil && e.log != nil {
			e.log.Error("failed to persist batch progress", zap.String("job_id", jobID), zap.Error(err))
		}

		e.bus.Emit(eventbus.UpdateEvent{
			Type: eventbus.EventBatchCompleted, JobID: jobID,
			Data: map[string]interface{}{"completed": completed, "failed": failed, "batchNumber": batchNum + 1},
		})

		progress := int(math.Round(float64(completed+failed) / float64(total) * 100))
		e.bus.Emit(eventbus.UpdateEvent{Type: eventbus.EventJobProgress, JobID: jobID, Data: map[string]interface{}{"progress": progress}})

		isLastBatch := end >= total
		if !isLastBatch {
			if e.waitBetweenBatches(ctx, jobID, abort) {
				cancelled = true
				break
			}
		}
	}

	finalStatus := storage.JobStatusCompleted
	if cancelled {
		finalStatus = storage.JobStatusCancelled
	}
	now := time.Now()
	if err := e.repo.UpdateJob(ctx, jobID, map[string]interface{}{
		"status":       finalStatus,
		"completed_at": &now,
	}); err != nil && e.log != nil {
		e.log.Error("failed to finalize rollout job", zap.String("job_id", jobID), zap.Error(err))
	}

	if e.metrics != nil {
		e.metrics.RolloutJobsTotal.WithLabelValues(string(finalStatus)).Inc()
	}

	eventType := eventbus.EventJobCompleted
	if cancelled {
		eventType = eventbus.EventJobCancelled
	}
	e.bus.Emit(eventbus.UpdateEvent{
		Type: eventType, JobID: jobID, Status: string(finalStatus),
		Data: map[string]interface{}{"completed": completed, "failed": failed},
	})
}

// waitBetweenBatches sleeps batch_wait_minutes one minute at a time,
// checking the abort flag and emitting batch_waiting each iteration.
// Returns true if cancelled during the wait.
func (e *Engine) waitBetweenBatches(ctx context.Context, jobID string, abort *atomic.Bool) bool {
	minutes, err := e.repo.GetBatchWaitMinutes(ctx, 0)
	if err != nil || minutes <= 0 {
		return abort.Load()
	}

	ticker := time.NewTicker(e.batchWaitTick)
	defer ticker.Stop()

	remaining := minutes
	for remaining > 0 {
		if abort.Load() {
			return true
		}
		e.bus.Emit(eventbus.UpdateEvent{
			Type: eventbus.EventBatchWaiting, JobID: jobID,
			Data: map[string]interface{}{"waitTimeRemaining": remaining},
		})
		if e.metrics != nil {
			e.metrics.BatchWaitRemaining.Set(float64(remaining))
		}
		select {
		case <-ctx.Done():
			return true
		case <-ticker.C:
			remaining--
		}
		if abort.Load() {
			return true
		}
	}
	if e.metrics != nil {
		e.metrics.BatchWaitRemaining.Set(0)
	}
	return abort.Load()
}

// runPipeline drives one router through the full update state machine.
// Returns true on success.
func (e *Engine) runPipeline(ctx context.Context, jobID string, rt storage.Router) bool {
	username, password := e.credentials(ctx, rt)
	target := firmware.Target{Host: rt.IPAddress, Port: e.sshPort, Username: username, Password: password}

	history, err := e.repo.InsertHistory(ctx, storage.UpdateHistoryRecord{
		RouterID:       rt.ID,
		FirmwareBefore: rt.CurrentFirmware,
		Status:         storage.HistoryStatusRunning,
	})
	if err != nil {
		if e.log != nil {
			e.log.Error("failed to insert history row", zap.String("router_id", rt.ID), zap.Error(err))
		}
		return false
	}

	if err := e.repo.UpdateRouterStatus(ctx, rt.ID, storage.RouterStatusUpdating); err != nil && e.log != nil {
		e.log.Error("failed to mark router updating", zap.String("router_id", rt.ID), zap.Error(err))
	}
	e.bus.Emit(eventbus.UpdateEvent{Type: eventbus.EventRouterStarted, JobID: jobID, RouterID: rt.ID})

	fail := func(msg string) bool {
		e.finishFailed(ctx, jobID, rt.ID, history.ID, msg)
		return false
	}

	if username == "" || password == "" {
		return fail("no credentials configured for router")
	}

	if !e.probe.ImagePresent(ctx, target) {
		e.bus.Emit(eventbus.UpdateEvent{Type: eventbus.EventRouterProgress, JobID: jobID, RouterID: rt.ID, Status: "downloading"})
		if err := e.probe.DownloadImage(ctx, target); err != nil {
			return fail("Firmware download failed")
		}
	}

	if err := e.probe.VerifyImage(ctx, target); err != nil {
		return fail("Firmware image verification failed")
	}

	e.bus.Emit(eventbus.UpdateEvent{Type: eventbus.EventRouterProgress, JobID: jobID, RouterID: rt.ID, Status: "flashing"})
	if err := e.probe.ApplyImage(ctx, target); err != nil {
		return fail(fmt.Sprintf("flash submission failed: %v", err))
	}

	e.bus.Emit(eventbus.UpdateEvent{Type: eventbus.EventRouterProgress, JobID: jobID, RouterID: rt.ID, Status: "rebooting"})
	// A poll counts only when it reads back the router's recorded
	// available_firmware (or any version, when none is recorded); until then
	// polling goes on, up to rebootPollAttempts polls.
	var newVersion string
	for i := 0; i < rebootPollAttempts && newVersion == ""; i++ {
		v, err := e.probe.WaitForReboot(ctx, target, 1, e.rebootPollInterval)
		if err == nil && (rt.AvailableFirmware == nil || v == *rt.AvailableFirmware) {
			newVersion = v
		}
	}
	if newVersion == "" {
		return fail("Router did not come back online after update")
	}

	if err := e.repo.CompleteHistory(ctx, history.ID, storage.HistoryStatusSuccess, &newVersion, nil); err != nil && e.log != nil {
		e.log.Error("failed to complete history row", zap.String("router_id", rt.ID), zap.Error(err))
	}
	if err := e.repo.UpdateRouterFirmwareInfo(ctx, rt.ID, &newVersion, nil, storage.RouterStatusUpToDate); err != nil && e.log != nil {
		e.log.Error("failed to persist successful rollout", zap.String("router_id", rt.ID), zap.Error(err))
	}
	if e.metrics != nil {
		e.metrics.RolloutRoutersTotal.WithLabelValues("success").Inc()
	}
	e.bus.Emit(eventbus.UpdateEvent{
		Type: eventbus.EventRouterCompleted, JobID: jobID, RouterID: rt.ID,
		Data: map[string]interface{}{"firmwareBefore": derefOrEmpty(rt.CurrentFirmware), "firmwareAfter": newVersion},
	})
	return true
}

func (e *Engine) finishFailed(ctx context.Context, jobID, routerID, historyID, msg string) {
	if err := e.repo.CompleteHistory(ctx, historyID, storage.HistoryStatusFailed, nil, &msg); err != nil && e.log != nil {
		e.log.Error("failed to complete history row", zap.String("router_id", routerID), zap.Error(err))
	}
	if err := e.repo.UpdateRouterStatus(ctx, routerID, storage.RouterStatusError); err != nil && e.log != nil {
		e.log.Error("failed to mark router error", zap.String("router_id", routerID), zap.Error(err))
	}
	if e.metrics != nil {
		e.metrics.RolloutRoutersTotal.WithLabelValues("failed").Inc()
	}
	e.bus.Emit(eventbus.UpdateEvent{Type: eventbus.EventRouterFailed, JobID: jobID, RouterID: routerID, Message: msg})
}

func (e *Engine) credentials(ctx context.Context, rt storage.Router) (string, string) {
	username, password := "", ""
	if rt.Username != nil {
		username = *rt.Username
	}
	if rt.Password != nil {
		password = *rt.Password
	}
	if username == "" || password == "" {
		if gu, gp, err := e.repo.GetGlobalCredentials(ctx); err == nil {
			if username == "" {
				username = gu
			}
			if password == "" {
				password = gp
			}
		}
	}
	return username, password
}

func derefOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
