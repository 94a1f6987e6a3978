package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// originSet is the parsed allow-list. A "*" entry allows any origin.
type originSet struct {
	any     bool
	origins map[string]struct{}
}

func newOriginSet(allowed []string) originSet {
	s := originSet{origins: make(map[string]struct{}, len(allowed))}
	for _, o := range allowed {
		o = strings.TrimSpace(o)
		switch o {
		case "":
		case "*":
			s.any = true
		default:
			s.origins[o] = struct{}{}
		}
	}
	return s
}

func (s originSet) allows(origin string) bool {
	if s.any {
		return true
	}
	_, ok := s.origins[origin]
	return ok
}

// OriginFilter rejects browser requests from origins outside the allow-list
// and sets CORS headers for the rest. Requests without an origin, such as
// native clients, pass through.
func OriginFilter(allowedOrigins []string) gin.HandlerFunc {
	set := newOriginSet(allowedOrigins)

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			origin = c.GetHeader("Sec-WebSocket-Origin")
		}

		if origin != "" {
			if !set.allows(origin) {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
					"error": "Origin not allowed",
				})
				return
			}
			h := c.Writer.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			h.Add("Vary", "Origin")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
