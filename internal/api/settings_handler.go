package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fleet-rollout/orchestrator/internal/storage"
)

// SettingsHandler exposes the fleet-wide settings and firmware-version
// table, both plain key/value CRUD over C4.
type SettingsHandler struct {
	repo *storage.Repository
}

func NewSettingsHandler(repo *storage.Repository) *SettingsHandler {
	return &SettingsHandler{repo: repo}
}

func (h *SettingsHandler) GetSetting(c *gin.Context) {
	value, ok, err := h.repo.GetSetting(c.Request.Context(), c.Param("key"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "setting not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": c.Param("key"), "value": value})
}

func (h *SettingsHandler) PutSetting(c *gin.Context) {
	var req struct {
		Value string `json:"value" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if err := h.repo.SetSetting(c.Request.Context(), c.Param("key"), req.Value); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": c.Param("key"), "value": req.Value})
}

func (h *SettingsHandler) ListFirmwareVersions(c *gin.Context) {
	versions, err := h.repo.GetAllFirmwareVersions(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"versions": versions})
}

func (h *SettingsHandler) PutFirmwareVersion(c *gin.Context) {
	var req struct {
		LatestVersion string `json:"latest_version" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if err := h.repo.UpsertFirmwareVersion(c.Request.Context(), c.Param("prefix"), req.LatestVersion); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"device_prefix": c.Param("prefix"), "latest_version": req.LatestVersion})
}
