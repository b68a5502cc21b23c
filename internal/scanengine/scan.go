// Package scanengine is the Scan Engine (C6): sweeps the whole fleet over
// SSH (there is no single-router or subset scan) to refresh each router's current/available
// firmware and status, in bounded-size concurrent chunks so a fleet of
// thousands of routers doesn't open thousands of simultaneous connections.
package scanengine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fleet-rollout/orchestrator/internal/apperrors"
	"github.com/fleet-rollout/orchestrator/internal/eventbus"
	"github.com/fleet-rollout/orchestrator/internal/firmware"
	"github.com/fleet-rollout/orchestrator/internal/metrics"
	"github.com/fleet-rollout/orchestrator/internal/storage"
	"github.com/fleet-rollout/orchestrator/internal/versionpolicy"
)

// scanJobID is the synthetic job identifier scan events are tagged with;
// scans aren't rollouts and don't get a batch_jobs row, but the event bus
// still needs a stable key to scope subscriptions.
const scanJobID = "check"

// Engine runs fleet-wide or single-router scans.
type Engine struct {
	repo      *storage.Repository
	probe     *firmware.Probe
	bus       *eventbus.Bus
	log       *zap.Logger
	chunkSize int
	sshPort   int
	limiter   *rate.Limiter
	metrics   *metrics.AppMetrics

	mu      sync.Mutex
	running bool
}

func New(repo *storage.Repository, probe *firmware.Probe, bus *eventbus.Bus, log *zap.Logger, chunkSize int, appMetrics *metrics.AppMetrics) *Engine {
	if chunkSize <= 0 {
		chunkSize = 10
	}
	return &Engine{
		repo:      repo,
		probe:     probe,
		bus:       bus,
		log:       log,
		chunkSize: chunkSize,
		sshPort:   22,
		limiter:   rate.NewLimiter(rate.Limit(chunkSize), chunkSize),
		metrics:   appMetrics,
	}
}

// WithSSHPort overrides the default port 22, used by tests that talk to a
// fake router listening on an ephemeral port.
func (e *Engine) WithSSHPort(port int) *Engine {
	e.sshPort = port
	return e
}

// IsRunning reports whether a scan is currently in flight.
func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// ScanAll refreshes every known router, chunkSize at a time.
func (e *Engine) ScanAll(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return apperrors.New(apperrors.Conflict, "a scan is already running")
	}
	e.running = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	all, err := e.repo.GetAllRouters(ctx)
	if err != nil {
		return err
	}

	// Routers the Rollout Engine currently owns (status=updating) are never
	// touched by a scan: neither pinged nor written.
	routers := make([]storage.Router, 0, len(all))
	for _, rt := range all {
		if rt.Status == storage.RouterStatusUpdating {
			continue
		}
		routers = append(routers, rt)
	}

	total := len(routers)
	e.bus.Emit(eventbus.UpdateEvent{Type: eventbus.EventJobStarted, JobID: scanJobID, Data: map[string]interface{}{"total": total}})

	numBatches := (total + e.chunkSize - 1) / e.chunkSize
	var scanned int
	for batchNum := 0; batchNum*e.chunkSize < total; batchNum++ {
		start := batchNum * e.chunkSize
		end := start + e.chunkSize
		if end > total {
			end = total
		}
		chunk := routers[start:end]

		e.bus.Emit(eventbus.UpdateEvent{
			Type: eventbus.EventBatchStarted, JobID: scanJobID,
			Data: map[string]interface{}{"batchNumber": batchNum + 1, "totalBatches": numBatches},
		})

		var wg sync.WaitGroup
		for _, rt := range chunk {
			wg.Add(1)
			go func(rt storage.Router) {
				defer wg.Done()
				if err := e.limiter.Wait(ctx); err != nil {
					return
				}
				e.scanOne(ctx, rt)
			}(rt)
		}
		wg.Wait()

		scanned += len(chunk)
		e.bus.Emit(eventbus.UpdateEvent{Type: eventbus.EventJobProgress, JobID: scanJobID, Data: map[string]interface{}{"scanned": scanned, "total": total}})
	}

	e.bus.Emit(eventbus.UpdateEvent{Type: eventbus.EventJobCompleted, JobID: scanJobID, Data: map[string]interface{}{"total": total}})
	return nil
}

func (e *Engine) scanOne(ctx context.Context, rt storage.Router) {
	username, password := e.credentials(rt)
	target := firmware.Target{Host: rt.IPAddress, Port: e.sshPort, Username: username, Password: password}

	status := storage.RouterStatusUnknown
	var available *string
	var current string

	switch {
	case username == "" || password == "":
		status = storage.RouterStatusError
	case !e.probe.Ping(ctx, target):
		status = storage.RouterStatusUnreachable
	default:
		info, err := e.probe.GetInfo(ctx, target)
		switch {
		case err != nil:
			status = storage.RouterStatusError
		default:
			current = info.Current
			updateAvailable := info.UpdateAvailable
			latest := info.Available

			// The device's own agent may lag the operator-maintained
			// version table; defer to the table when it knows of a
			// newer build than the device reported.
			if fv, lookupErr := e.repo.GetFirmwareVersion(ctx, versionpolicy.ExtractPrefix(current)); lookupErr == nil && fv != nil {
				if versionpolicy.UpdateAvailable(current, fv.LatestVersion) &&
					(latest == "" || versionpolicy.IsNewer(latest, fv.LatestVersion)) {
					updateAvailable = true
					latest = fv.LatestVersion
				}
			}

			if updateAvailable {
				status = storage.RouterStatusUpdateAvailable
				available = &latest
			} else {
				status = storage.RouterStatusUpToDate
			}
		}
	}

	var currentPtr *string
	if current != "" {
		currentPtr = &current
	}
	if updErr := e.repo.UpdateRouterFirmwareInfo(ctx, rt.ID, currentPtr, available, status); updErr != nil && e.log != nil {
		e.log.Error("failed to persist scan result", zap.String("router_id", rt.ID), zap.Error(updErr))
	}

	result := "reachable"
	if status == storage.RouterStatusUnreachable || status == storage.RouterStatusError {
		result = string(status)
	}
	if e.metrics != nil {
		e.metrics.ScanRoutersTotal.WithLabelValues(result).Inc()
	}

	// Exactly one terminal event fires per router per scan: a failure
	// (unreachable, no credentials, or a probe error), a found update
	// (router_progress carrying the update_available status), or a plain
	// completion (already up to date).
	switch status {
	case storage.RouterStatusUnreachable, storage.RouterStatusError:
		e.bus.Emit(eventbus.UpdateEvent{
			Type: eventbus.EventRouterFailed, JobID: scanJobID, RouterID: rt.ID,
			Status: string(status), Timestamp: time.Now().Unix(),
		})
	case storage.RouterStatusUpdateAvailable:
		e.bus.Emit(eventbus.UpdateEvent{
			Type: eventbus.EventRouterProgress, JobID: scanJobID, RouterID: rt.ID,
			Status: string(status), Timestamp: time.Now().Unix(),
			Data: map[string]interface{}{"available": derefOrEmpty(available)},
		})
	default:
		e.bus.Emit(eventbus.UpdateEvent{
			Type: eventbus.EventRouterCompleted, JobID: scanJobID, RouterID: rt.ID,
			Status: string(status), Timestamp: time.Now().Unix(),
		})
	}
}

func derefOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// credentials falls back to fleet-wide settings when a router has none of
// its own.
func (e *Engine) credentials(rt storage.Router) (string, string) {
	username, password := "", ""
	if rt.Username != nil {
		username = *rt.Username
	}
	if rt.Password != nil {
		password = *rt.Password
	}
	if username == "" || password == "" {
		if gu, gp, err := e.repo.GetGlobalCredentials(context.Background()); err == nil {
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
