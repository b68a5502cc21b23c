package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fleet-rollout/orchestrator/internal/scanengine"
)

// ScanHandler triggers and reports on the C6 scan engine.
type ScanHandler struct {
	engine *scanengine.Engine
}

func NewScanHandler(engine *scanengine.Engine) *ScanHandler {
	return &ScanHandler{engine: engine}
}

// StartScan kicks off a fleet-wide scan in the background and returns
// immediately; progress is observed over the C8 event stream.
func (h *ScanHandler) StartScan(c *gin.Context) {
	if h.engine.IsRunning() {
		c.JSON(http.StatusConflict, gin.H{"error": "a scan is already running"})
		return
	}
	go func() {
		_ = h.engine.ScanAll(context.Background())
	}()
	c.JSON(http.StatusAccepted, gin.H{"status": "scan started"})
}

func (h *ScanHandler) ScanStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"running": h.engine.IsRunning()})
}
