package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fleet-rollout/orchestrator/internal/apperrors"
	"github.com/fleet-rollout/orchestrator/internal/storage"
)

// RouterHandler exposes the inventory store's router operations.
type RouterHandler struct {
	repo *storage.Repository
}

func NewRouterHandler(repo *storage.Repository) *RouterHandler {
	return &RouterHandler{repo: repo}
}

// ListRouters returns every known router, optionally filtered by status.
func (h *RouterHandler) ListRouters(c *gin.Context) {
	ctx := c.Request.Context()
	if status := c.Query("status"); status != "" {
		routers, err := h.repo.GetRoutersByStatus(ctx, storage.RouterStatus(status))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"routers": routers})
		return
	}

	routers, err := h.repo.GetAllRouters(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"routers": routers})
}

func (h *RouterHandler) GetRouter(c *gin.Context) {
	rt, err := h.repo.GetRouterByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"router": rt})
}

// CreateRouterRequest describes one router to add to the fleet.
type CreateRouterRequest struct {
	DeviceName string  `json:"device_name" binding:"required"`
	IPAddress  string  `json:"ip_address" binding:"required"`
	Username   *string `json:"username"`
	Password   *string `json:"password"`
}

func (h *RouterHandler) CreateRouter(c *gin.Context) {
	var req CreateRouterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	rt, err := h.repo.InsertRouter(c.Request.Context(), storage.Router{
		DeviceName: req.DeviceName,
		IPAddress:  req.IPAddress,
		Username:   req.Username,
		Password:   req.Password,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"router": rt})
}

// ImportRouters bulk-inserts a batch, skipping routers whose ip_address
// already exists.
func (h *RouterHandler) ImportRouters(c *gin.Context) {
	var req struct {
		Routers []CreateRouterRequest `json:"routers" binding:"required,dive"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	routers := make([]storage.Router, 0, len(req.Routers))
	for _, r := range req.Routers {
		routers = append(routers, storage.Router{
			DeviceName: r.DeviceName,
			IPAddress:  r.IPAddress,
			Username:   r.Username,
			Password:   r.Password,
		})
	}

	if err := h.repo.InsertManyRouters(c.Request.Context(), routers); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"imported": len(routers)})
}

// writeError maps an apperrors.Kind onto an HTTP status the way the C7/C6
// engines already classify their own failures.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch apperrors.Kindf(err) {
	case apperrors.NotFound:
		status = http.StatusNotFound
	case apperrors.Conflict:
		status = http.StatusConflict
	case apperrors.Validation:
		status = http.StatusBadRequest
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
