package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fleet-rollout/orchestrator/internal/storage"
)

func newTestRepo(t *testing.T) *storage.Repository {
	t.Helper()
	db, err := storage.Open(":memory:", zap.NewNop())
	require.NoError(t, err)
	return storage.NewRepository(db)
}

func newTestRouter(h *RouterHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/routers", h.ListRouters)
	r.GET("/routers/:id", h.GetRouter)
	r.POST("/routers", h.CreateRouter)
	r.POST("/routers/import", h.ImportRouters)
	return r
}

func TestCreateAndGetRouter(t *testing.T) {
	repo := newTestRepo(t)
	h := NewRouterHandler(repo)
	r := newTestRouter(h)

	body, _ := json.Marshal(CreateRouterRequest{DeviceName: "edge-1", IPAddress: "10.0.0.1"})
	req := httptest.NewRequest(http.MethodPost, "/routers", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	var created struct {
		Router storage.Router `json:"router"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.NotEmpty(t, created.Router.ID)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/routers/"+created.Router.ID, nil)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestGetRouterNotFound(t *testing.T) {
	repo := newTestRepo(t)
	r := newTestRouter(NewRouterHandler(repo))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/routers/missing", nil)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateRouterRejectsMissingFields(t *testing.T) {
	repo := newTestRepo(t)
	r := newTestRouter(NewRouterHandler(repo))

	body, _ := json.Marshal(map[string]string{"device_name": "edge-1"})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/routers", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestImportRoutersAndListByStatus(t *testing.T) {
	repo := newTestRepo(t)
	r := newTestRouter(NewRouterHandler(repo))

	importBody, _ := json.Marshal(map[string][]CreateRouterRequest{
		"routers": {
			{DeviceName: "edge-1", IPAddress: "10.0.0.1"},
			{DeviceName: "edge-2", IPAddress: "10.0.0.2"},
		},
	})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/routers/import", bytes.NewReader(importBody))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/routers?status=unknown", nil)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var listed struct {
		Routers []storage.Router `json:"routers"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	require.Len(t, listed.Routers, 2)
}
