package storage

import (
	"context"

	"go.uber.org/zap"
)

// ReconcileAfterRestart clears state that can only make sense while the
// process that created it is alive: routers stuck mid-flash become errored,
// history rows left running become failed, and jobs with no in-memory
// abort-flag owner become cancelled. Called once at startup before any new
// work is accepted.
func ReconcileAfterRestart(ctx context.Context, repo *Repository, log *zap.Logger) error {
	stuckRouters, err := repo.GetRoutersByStatus(ctx, RouterStatusUpdating)
	if err != nil {
		return err
	}
	for _, rt := range stuckRouters {
		if err := repo.UpdateRouterStatus(ctx, rt.ID, RouterStatusError); err != nil {
			return err
		}
		log.Warn("reconciled router stuck mid-update after restart", zap.String("router_id", rt.ID))
	}

	var runningHistory []UpdateHistoryRecord
	if err := repo.db.WithContext(ctx).Where("status = ?", HistoryStatusRunning).Find(&runningHistory).Error; err != nil {
		return err
	}
	reason := "process restarted"
	for _, h := range runningHistory {
		if err := repo.CompleteHistory(ctx, h.ID, HistoryStatusFailed, nil, &reason); err != nil {
			return err
		}
	}

	jobs, err := repo.GetAllJobs(ctx)
	if err != nil {
		return err
	}
	for _, j := range jobs {
		if j.Status == JobStatusPending || j.Status == JobStatusRunning {
			if err := repo.UpdateJob(ctx, j.ID, map[string]interface{}{"status": JobStatusCancelled}); err != nil {
				return err
			}
			log.Warn("reconciled in-flight rollout job after restart", zap.String("job_id", j.ID))
		}
	}
	return nil
}
