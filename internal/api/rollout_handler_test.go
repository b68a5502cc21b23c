package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fleet-rollout/orchestrator/internal/eventbus"
	"github.com/fleet-rollout/orchestrator/internal/firmware"
	"github.com/fleet-rollout/orchestrator/internal/metrics"
	"github.com/fleet-rollout/orchestrator/internal/rollout"
	"github.com/fleet-rollout/orchestrator/internal/sshclient"
	"github.com/fleet-rollout/orchestrator/internal/storage"
)

func newTestRolloutEngine(repo *storage.Repository) *rollout.Engine {
	probe := firmware.New(sshclient.New(), firmware.Timeouts{
		Connect: 200 * time.Millisecond,
		Command: 200 * time.Millisecond,
		Ping:    200 * time.Millisecond,
	})
	bus := eventbus.New(zap.NewNop())
	reg := metrics.NewRegistry()
	return rollout.New(repo, probe, bus, zap.NewNop(), metrics.NewAppMetrics(reg)).
		WithBatchWaitTick(10 * time.Millisecond)
}

func newTestRolloutRouter(h *RolloutHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/rollouts", h.StartRollout)
	r.GET("/rollouts", h.ListRollouts)
	r.GET("/rollouts/:id", h.GetRollout)
	r.POST("/rollouts/:id/cancel", h.CancelRollout)
	r.GET("/rollouts/:id/history", h.RolloutHistory)
	return r
}

func TestStartRolloutThenGet(t *testing.T) {
	repo := newTestRepo(t)
	rt, err := repo.InsertRouter(context.Background(), storage.Router{DeviceName: "edge-1", IPAddress: "127.0.0.1"})
	require.NoError(t, err)

	h := NewRolloutHandler(newTestRolloutEngine(repo), repo, []int{5, 10, 25, 100})
	r := newTestRolloutRouter(h)

	body, _ := json.Marshal(StartRolloutRequest{RouterIDs: []string{rt.ID}, BatchSize: 5})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/rollouts", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code)

	var started struct {
		Job storage.BatchJob `json:"job"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &started))
	require.NotEmpty(t, started.Job.ID)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/rollouts/"+started.Job.ID, nil)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestStartRolloutConflictWhileActive(t *testing.T) {
	repo := newTestRepo(t)
	rt, err := repo.InsertRouter(context.Background(), storage.Router{DeviceName: "edge-1", IPAddress: "127.0.0.1"})
	require.NoError(t, err)

	engine := newTestRolloutEngine(repo)
	_, err = engine.Start(context.Background(), rollout.StartRequest{RouterIDs: []string{rt.ID}})
	require.NoError(t, err)

	h := NewRolloutHandler(engine, repo, []int{5, 10, 25, 100})
	r := newTestRolloutRouter(h)

	body, _ := json.Marshal(StartRolloutRequest{RouterIDs: []string{rt.ID}})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/rollouts", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestStartRolloutRejectsDisallowedBatchSize(t *testing.T) {
	repo := newTestRepo(t)
	rt, err := repo.InsertRouter(context.Background(), storage.Router{DeviceName: "edge-1", IPAddress: "127.0.0.1"})
	require.NoError(t, err)

	h := NewRolloutHandler(newTestRolloutEngine(repo), repo, []int{5, 10, 25, 100})
	r := newTestRolloutRouter(h)

	body, _ := json.Marshal(StartRolloutRequest{RouterIDs: []string{rt.ID}, BatchSize: 7})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/rollouts", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetRolloutNotFound(t *testing.T) {
	repo := newTestRepo(t)
	h := NewRolloutHandler(newTestRolloutEngine(repo), repo, []int{5, 10, 25, 100})
	r := newTestRolloutRouter(h)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/rollouts/missing", nil)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusNotFound, w.Code)
}
