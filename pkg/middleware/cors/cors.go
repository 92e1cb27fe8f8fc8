package cors

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

var staticHeaders = map[string]string{
	"Vary":                             "Origin",
	"Access-Control-Allow-Credentials": "true",
	"Access-Control-Allow-Headers":     "Authorization, Content-Type, X-Request-ID",
	"Access-Control-Allow-Methods":     "GET, POST, OPTIONS",
	"Access-Control-Expose-Headers":    "X-Request-ID, Content-Disposition",
	"Access-Control-Max-Age":           "600",
}

// New returns CORS handling for the timetable API. The API only exposes
// reads plus generation control, so preflights are answered directly.
// An empty origin list allows any origin.
func New(allowedOrigins []string) gin.HandlerFunc {
	allow := originMatcher(allowedOrigins)

	return func(c *gin.Context) {
		header := c.Writer.Header()
		if origin := c.GetHeader("Origin"); origin != "" {
			if allow(origin) {
				header.Set("Access-Control-Allow-Origin", origin)
			}
		} else if len(allowedOrigins) == 0 {
			header.Set("Access-Control-Allow-Origin", "*")
		}
		for key, value := range staticHeaders {
			header.Set(key, value)
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func originMatcher(allowedOrigins []string) func(string) bool {
	if len(allowedOrigins) == 0 {
		return func(string) bool { return true }
	}
	set := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		set[strings.TrimRight(origin, "/")] = struct{}{}
	}
	return func(origin string) bool {
		_, ok := set[strings.TrimRight(origin, "/")]
		return ok
	}
}
