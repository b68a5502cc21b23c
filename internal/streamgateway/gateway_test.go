package streamgateway

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fleet-rollout/orchestrator/internal/eventbus"
)

// closeNotifierRecorder satisfies http.CloseNotifier, which gin's
// Context.Stream requires of the underlying ResponseWriter.
type closeNotifierRecorder struct {
	*httptest.ResponseRecorder
	closeChannel chan bool
}

func (r *closeNotifierRecorder) CloseNotify() <-chan bool {
	return r.closeChannel
}

func TestHandleStopsOnClientDisconnect(t *testing.T) {
	gin.SetMode(gin.TestMode)
	bus := eventbus.New(nil)
	gw := New(bus)

	w := &closeNotifierRecorder{httptest.NewRecorder(), make(chan bool, 1)}
	reqCtx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest("GET", "/events/stream", nil).WithContext(reqCtx)

	ctx, _ := gin.CreateTestContext(w)
	ctx.Request = req

	done := make(chan struct{})
	go func() {
		gw.Handle(ctx)
		close(done)
	}()

	// give Handle time to subscribe, then emit one event and disconnect.
	time.Sleep(20 * time.Millisecond)
	bus.Emit(eventbus.UpdateEvent{Type: eventbus.EventJobStarted, JobID: "job-1"})
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Handle did not return after client disconnect")
	}
}
