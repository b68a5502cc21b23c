// Package storage is the Inventory Store (C4): durable CRUD for routers,
// settings, update history, batch jobs and the firmware-version table,
// on top of a single-file embedded relational database.
package storage

import "time"

// RouterStatus enumerates the router's single current status; a router
// always has exactly one status at any time.
type RouterStatus string

const (
	RouterStatusUnknown          RouterStatus = "unknown"
	RouterStatusUpToDate         RouterStatus = "up_to_date"
	RouterStatusUpdateAvailable  RouterStatus = "update_available"
	RouterStatusUpdating         RouterStatus = "updating"
	RouterStatusUnreachable      RouterStatus = "unreachable"
	RouterStatusError            RouterStatus = "error"
)

// Router is the identity of one managed device.
type Router struct {
	ID                 string     `gorm:"column:id;primaryKey;type:text"`
	DeviceName         string     `gorm:"column:device_name;type:text;not null"`
	IPAddress          string     `gorm:"column:ip_address;type:text;not null;uniqueIndex"`
	Username           *string    `gorm:"column:username;type:text"`
	Password           *string    `gorm:"column:password;type:text"`
	CurrentFirmware    *string    `gorm:"column:current_firmware;type:text"`
	AvailableFirmware  *string    `gorm:"column:available_firmware;type:text"`
	Status             RouterStatus `gorm:"column:status;type:text;not null;index;default:unknown"`
	LastCheck          *time.Time `gorm:"column:last_check"`
	CreatedAt          time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (Router) TableName() string { return "routers" }

// HistoryStatus enumerates an update attempt's lifecycle status.
type HistoryStatus string

const (
	HistoryStatusRunning HistoryStatus = "running"
	HistoryStatusSuccess HistoryStatus = "success"
	HistoryStatusFailed  HistoryStatus = "failed"
)

// UpdateHistoryRecord is one update attempt for one router in one rollout.
type UpdateHistoryRecord struct {
	ID             string        `gorm:"column:id;primaryKey;type:text"`
	RouterID       string        `gorm:"column:router_id;type:text;not null;index"`
	FirmwareBefore *string       `gorm:"column:firmware_before;type:text"`
	FirmwareAfter  *string       `gorm:"column:firmware_after;type:text"`
	Status         HistoryStatus `gorm:"column:status;type:text;not null"`
	ErrorMessage   *string       `gorm:"column:error_message;type:text"`
	StartedAt      time.Time     `gorm:"column:started_at;not null"`
	CompletedAt    *time.Time    `gorm:"column:completed_at"`
}

func (UpdateHistoryRecord) TableName() string { return "update_history" }

// JobStatus enumerates a rollout's lifecycle status.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusCancelled JobStatus = "cancelled"
)

// BatchJob is one rollout.
type BatchJob struct {
	ID                string     `gorm:"column:id;primaryKey;type:text"`
	Status            JobStatus  `gorm:"column:status;type:text;not null;index"`
	BatchSize         int        `gorm:"column:batch_size;not null"`
	TotalRouters      int        `gorm:"column:total_routers;not null"`
	CompletedRouters  int        `gorm:"column:completed_routers;not null;default:0"`
	FailedRouters     int        `gorm:"column:failed_routers;not null;default:0"`
	CreatedAt         time.Time  `gorm:"column:created_at;autoCreateTime"`
	StartedAt         *time.Time `gorm:"column:started_at"`
	CompletedAt       *time.Time `gorm:"column:completed_at"`
}

func (BatchJob) TableName() string { return "batch_jobs" }

// Setting is one key/value pair. Known keys: global_username,
// global_password, batch_wait_minutes.
type Setting struct {
	Key   string `gorm:"column:key;primaryKey;type:text"`
	Value string `gorm:"column:value;type:text;not null"`
}

func (Setting) TableName() string { return "settings" }

const (
	SettingGlobalUsername   = "global_username"
	SettingGlobalPassword   = "global_password"
	SettingBatchWaitMinutes = "batch_wait_minutes"
)

// FirmwareVersion maps a device-family prefix to its latest known version.
type FirmwareVersion struct {
	DevicePrefix  string    `gorm:"column:device_prefix;primaryKey;type:text"`
	LatestVersion string    `gorm:"column:latest_version;type:text;not null"`
	UpdatedAt     time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (FirmwareVersion) TableName() string { return "firmware_versions" }

// AllModels lists every model for AutoMigrate.
func AllModels() []interface{} {
	return []interface{}{
		&Router{}, &UpdateHistoryRecord{}, &BatchJob{}, &Setting{}, &FirmwareVersion{},
	}
}
