package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fleet-rollout/orchestrator/internal/apperrors"
)

// Repository is the single entry point the rest of the engine uses to read
// and write the inventory store. It holds no business logic beyond basic
// invariants (uniqueness, optimistic status transitions are the caller's job).
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx runs fn inside a transaction and returns its error, rolling back on
// any non-nil return.
func (r *Repository) WithTx(ctx context.Context, fn func(tx *Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Repository{db: tx})
	})
}

// --- Routers -----------------------------------------------------------

func (r *Repository) GetAllRouters(ctx context.Context) ([]Router, error) {
	var out []Router
	if err := r.db.WithContext(ctx).Order("device_name").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repository) GetRouterByID(ctx context.Context, id string) (*Router, error) {
	var out Router
	err := r.db.WithContext(ctx).First(&out, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, apperrors.New(apperrors.NotFound, "router not found: "+id)
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *Repository) GetRoutersByStatus(ctx context.Context, status RouterStatus) ([]Router, error) {
	var out []Router
	if err := r.db.WithContext(ctx).Where("status = ?", status).Order("device_name").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repository) InsertRouter(ctx context.Context, in Router) (*Router, error) {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if in.Status == "" {
		in.Status = RouterStatusUnknown
	}
	if err := r.db.WithContext(ctx).Create(&in).Error; err != nil {
		return nil, err
	}
	return &in, nil
}

// InsertManyRouters inserts a batch inside one transaction, skipping any
// router whose ip_address already exists; existing rows are left entirely
// unchanged (a re-import does not reset an in-progress router, nor update
// its name or credentials).
func (r *Repository) InsertManyRouters(ctx context.Context, routers []Router) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, rt := range routers {
			if rt.ID == "" {
				rt.ID = uuid.NewString()
			}
			if rt.Status == "" {
				rt.Status = RouterStatusUnknown
			}
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "ip_address"}},
				DoNothing: true,
			}).Create(&rt).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *Repository) UpdateRouterFirmwareInfo(ctx context.Context, id string, current, available *string, status RouterStatus) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&Router{}).Where("id = ?", id).Updates(map[string]interface{}{
		"current_firmware":   current,
		"available_firmware": available,
		"status":             status,
		"last_check":         &now,
	}).Error
}

func (r *Repository) UpdateRouterStatus(ctx context.Context, id string, status RouterStatus) error {
	return r.db.WithContext(ctx).Model(&Router{}).Where("id = ?", id).Update("status", status).Error
}

func (r *Repository) DeleteAllRouters(ctx context.Context) error {
	return r.db.WithContext(ctx).Where("1 = 1").Delete(&Router{}).Error
}

func (r *Repository) CountRoutersByStatus(ctx context.Context, status RouterStatus) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&Router{}).Where("status = ?", status).Count(&n).Error
	return n, err
}

// --- Update history ------------------------------------------------------

func (r *Repository) GetHistoryByRouter(ctx context.Context, routerID string) ([]UpdateHistoryRecord, error) {
	var out []UpdateHistoryRecord
	err := r.db.WithContext(ctx).Where("router_id = ?", routerID).Order("started_at desc").Find(&out).Error
	return out, err
}

// HistoryWithRouter is a joined projection for the recent-activity feed.
type HistoryWithRouter struct {
	UpdateHistoryRecord
	DeviceName string
	IPAddress  string
}

func (r *Repository) GetRecentHistory(ctx context.Context, limit int) ([]HistoryWithRouter, error) {
	var out []HistoryWithRouter
	err := r.db.WithContext(ctx).
		Table("update_history").
		Select("update_history.*, routers.device_name as device_name, routers.ip_address as ip_address").
		Joins("join routers on routers.id = update_history.router_id").
		Order("update_history.started_at desc").
		Limit(limit).
		Scan(&out).Error
	return out, err
}

func (r *Repository) InsertHistory(ctx context.Context, in UpdateHistoryRecord) (*UpdateHistoryRecord, error) {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if in.StartedAt.IsZero() {
		in.StartedAt = time.Now()
	}
	if err := r.db.WithContext(ctx).Create(&in).Error; err != nil {
		return nil, err
	}
	return &in, nil
}

func (r *Repository) CompleteHistory(ctx context.Context, id string, status HistoryStatus, firmwareAfter, errMsg *string) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&UpdateHistoryRecord{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":         status,
		"firmware_after": firmwareAfter,
		"error_message":  errMsg,
		"completed_at":   &now,
	}).Error
}

// --- Batch jobs ------------------------------------------------------

func (r *Repository) InsertJob(ctx context.Context, in BatchJob) (*BatchJob, error) {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if in.Status == "" {
		in.Status = JobStatusPending
	}
	if err := r.db.WithContext(ctx).Create(&in).Error; err != nil {
		return nil, err
	}
	return &in, nil
}

func (r *Repository) UpdateJob(ctx context.Context, id string, fields map[string]interface{}) error {
	return r.db.WithContext(ctx).Model(&BatchJob{}).Where("id = ?", id).Updates(fields).Error
}

func (r *Repository) GetJobByID(ctx context.Context, id string) (*BatchJob, error) {
	var out BatchJob
	err := r.db.WithContext(ctx).First(&out, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, apperrors.New(apperrors.NotFound, "rollout job not found: "+id)
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetActiveJob returns the single pending or running job, or nil if none —
// the store-level half of the "one rollout at a time" invariant.
func (r *Repository) GetActiveJob(ctx context.Context) (*BatchJob, error) {
	var out BatchJob
	err := r.db.WithContext(ctx).
		Where("status in ?", []JobStatus{JobStatusPending, JobStatusRunning}).
		Order("created_at desc").
		First(&out).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *Repository) GetAllJobs(ctx context.Context) ([]BatchJob, error) {
	var out []BatchJob
	err := r.db.WithContext(ctx).Order("created_at desc").Find(&out).Error
	return out, err
}

// --- Settings ------------------------------------------------------

func (r *Repository) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var s Setting
	err := r.db.WithContext(ctx).First(&s, "key = ?", key).Error
	if err == gorm.ErrRecordNotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return s.Value, true, nil
}

func (r *Repository) SetSetting(ctx context.Context, key, value string) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&Setting{Key: key, Value: value}).Error
}

// GetGlobalCredentials returns the fleet-wide fallback username/password used
// when a router has none of its own.
func (r *Repository) GetGlobalCredentials(ctx context.Context) (username, password string, err error) {
	username, _, err = r.GetSetting(ctx, SettingGlobalUsername)
	if err != nil {
		return "", "", err
	}
	password, _, err = r.GetSetting(ctx, SettingGlobalPassword)
	if err != nil {
		return "", "", err
	}
	return username, password, nil
}

// GetBatchWaitMinutes returns the configured inter-batch pause, defaulting
// to defaultMinutes when unset or unparsable.
func (r *Repository) GetBatchWaitMinutes(ctx context.Context, defaultMinutes int) (int, error) {
	v, ok, err := r.GetSetting(ctx, SettingBatchWaitMinutes)
	if err != nil {
		return 0, err
	}
	if !ok {
		return defaultMinutes, nil
	}
	var n int
	if _, scanErr := fmt.Sscan(v, &n); scanErr != nil {
		return defaultMinutes, nil
	}
	return n, nil
}

// --- Firmware versions ------------------------------------------------------

func (r *Repository) GetFirmwareVersion(ctx context.Context, prefix string) (*FirmwareVersion, error) {
	var out FirmwareVersion
	err := r.db.WithContext(ctx).First(&out, "device_prefix = ?", prefix).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *Repository) GetAllFirmwareVersions(ctx context.Context) ([]FirmwareVersion, error) {
	var out []FirmwareVersion
	err := r.db.WithContext(ctx).Order("device_prefix").Find(&out).Error
	return out, err
}

func (r *Repository) UpsertFirmwareVersion(ctx context.Context, prefix, version string) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "device_prefix"}},
		DoUpdates: clause.AssignmentColumns([]string{"latest_version", "updated_at"}),
	}).Create(&FirmwareVersion{DevicePrefix: prefix, LatestVersion: version, UpdatedAt: time.Now()}).Error
}
