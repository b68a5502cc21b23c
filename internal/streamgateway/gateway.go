// Package streamgateway is the Event Stream Gateway (C8): a long-lived
// server-sent-events handler that forwards events from the Event Bus to one
// HTTP client for the lifetime of its connection.
package streamgateway

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fleet-rollout/orchestrator/internal/eventbus"
)

// Gateway wires gin's SSE support onto the bus.
type Gateway struct {
	bus *eventbus.Bus
}

func New(bus *eventbus.Bus) *Gateway {
	return &Gateway{bus: bus}
}

// Handle serves GET /events/stream. An optional job_id query parameter
// scopes the subscription to one rollout/scan; absent, it receives every
// event on the bus.
func (g *Gateway) Handle(c *gin.Context) {
	jobID := c.Query("job_id")

	events := make(chan eventbus.UpdateEvent, 32)
	var unsubscribe func()
	if jobID != "" {
		unsubscribe = g.bus.Subscribe(jobID, func(ev eventbus.UpdateEvent) {
			select {
			case events <- ev:
			default:
				// slow client: drop rather than block event delivery to
				// other subscribers.
			}
		})
	} else {
		unsubscribe = g.bus.SubscribeAll(func(ev eventbus.UpdateEvent) {
			select {
			case events <- ev:
			default:
			}
		})
	}
	defer unsubscribe()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	clientGone := c.Request.Context().Done()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-clientGone:
			return false
		case ev, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(string(ev.Type), ev)
			return true
		}
	})
}

// Ping is a small liveness helper distinct from the event stream itself,
// useful for a dashboard's initial connectivity check.
func (g *Gateway) Ping(c *gin.Context) {
	c.String(http.StatusOK, "stream ok")
}
