package health

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// DatabaseChecker pings the embedded sqlite database.
type DatabaseChecker struct {
	db *gorm.DB
}

// NewDatabaseChecker creates a database health checker.
func NewDatabaseChecker(db *gorm.DB) *DatabaseChecker {
	return &DatabaseChecker{db: db}
}

// Name returns the checker name.
func (c *DatabaseChecker) Name() string {
	return "database"
}

// Check pings the database and reports connection pool stats.
func (c *DatabaseChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()

	sqlDB, err := c.db.DB()
	if err != nil {
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: fmt.Sprintf("sql.DB unavailable: %v", err),
			Latency: time.Since(start),
		}
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: fmt.Sprintf("ping failed: %v", err),
			Latency: time.Since(start),
		}
	}

	stats := sqlDB.Stats()

	return CheckResult{
		Status:  StatusHealthy,
		Message: "ok",
		Details: map[string]interface{}{
			"open_conns": stats.OpenConnections,
			"in_use":     stats.InUse,
			"idle":       stats.Idle,
		},
		Latency: time.Since(start),
	}
}
