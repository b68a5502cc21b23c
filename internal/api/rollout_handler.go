package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fleet-rollout/orchestrator/internal/rollout"
	"github.com/fleet-rollout/orchestrator/internal/storage"
)

// RolloutHandler drives the C7 rollout engine and reads back job/history
// rows through the C4 store.
type RolloutHandler struct {
	engine            *rollout.Engine
	repo              *storage.Repository
	allowedBatchSizes []int
}

func NewRolloutHandler(engine *rollout.Engine, repo *storage.Repository, allowedBatchSizes []int) *RolloutHandler {
	return &RolloutHandler{engine: engine, repo: repo, allowedBatchSizes: allowedBatchSizes}
}

// StartRolloutRequest mirrors rollout.StartRequest for the wire format.
type StartRolloutRequest struct {
	RouterIDs     []string `json:"router_ids"`
	BatchSize     int      `json:"batch_size"`
	IncludeErrors bool     `json:"include_errors"`
}

func (h *RolloutHandler) StartRollout(c *gin.Context) {
	var req StartRolloutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	if req.BatchSize != 0 && !h.batchSizeAllowed(req.BatchSize) {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("batch_size must be one of %v", h.allowedBatchSizes)})
		return
	}

	job, err := h.engine.Start(c.Request.Context(), rollout.StartRequest{
		RouterIDs:     req.RouterIDs,
		BatchSize:     req.BatchSize,
		IncludeErrors: req.IncludeErrors,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job": job})
}

func (h *RolloutHandler) GetRollout(c *gin.Context) {
	job, err := h.repo.GetJobByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job})
}

func (h *RolloutHandler) CancelRollout(c *gin.Context) {
	if err := h.engine.Cancel(c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancel requested"})
}

// RolloutHistory reports the most recent update attempts. History rows
// carry no job reference, so "for this rollout" is approximated by
// capping the recent-history feed at the job's own router count.
func (h *RolloutHandler) RolloutHistory(c *gin.Context) {
	job, err := h.repo.GetJobByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	history, err := h.repo.GetRecentHistory(c.Request.Context(), job.TotalRouters)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": history})
}

func (h *RolloutHandler) ListRollouts(c *gin.Context) {
	jobs, err := h.repo.GetAllJobs(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

func (h *RolloutHandler) batchSizeAllowed(size int) bool {
	if len(h.allowedBatchSizes) == 0 {
		return true
	}
	for _, allowed := range h.allowedBatchSizes {
		if allowed == size {
			return true
		}
	}
	return false
}
