package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
)

const requestStartedKey = "request_started"

// WithResponseMeta stamps the request start so handlers can report processing time.
func WithResponseMeta() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(requestStartedKey, time.Now())
		c.Next()
	}
}

// ResponseMeta builds the meta block of a response envelope.
func ResponseMeta(c *gin.Context) map[string]interface{} {
	if c == nil {
		return nil
	}
	value, exists := c.Get(requestStartedKey)
	if !exists {
		return nil
	}
	started, ok := value.(time.Time)
	if !ok {
		return nil
	}
	return map[string]interface{}{"processing_time_ms": time.Since(started).Milliseconds()}
}
