package middleware

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
)

// RequestTracing stamps every request with an X-Request-ID, generating one
// when the caller didn't send it, so a request can be correlated across
// the access log and the event stream.
func RequestTracing() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func generateRequestID() string {
	return fmt.Sprintf("req-%d", time.Now().UnixNano())
}
