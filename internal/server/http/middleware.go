package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// publicRoutes skip auth: dashboard assets, health, read-only memory
// views, and the webhook (which carries its own HMAC).
var publicRoutes = map[string]bool{
	"/":              true,
	"/dashboard":     true,
	"/graph":         true,
	"/explorer":      true,
	"/favicon.ico":   true,
	"/webhook/github": true,
	"/status":        true,
	"/knowledge":     true,
	"/pinned":        true,
	"/recent":        true,
	"/summary":       true,
	"/search":        true,
	"/identity/soul": true,
	"/health":        true,
	"/brain":         true,
}

// publicPrefixes cover the coordination surface: it is localhost traffic
// from sibling sessions and the MCP client, which carry no API key.
var publicPrefixes = []string{"/instance", "/tasks", "/agents", "/handoffs", "/mcp"}

func normalizePath(p string) string {
	p = strings.TrimRight(p, "/")
	if p == "" {
		return "/"
	}
	return p
}

func (s *Server) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := normalizePath(c.Request.URL.Path)
		if publicRoutes[path] {
			return
		}
		for _, prefix := range publicPrefixes {
			if strings.HasPrefix(path, prefix) {
				return
			}
		}

		key := c.GetHeader("X-API-Key")
		if key == "" {
			key = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		}
		if key == "" {
			key = c.Query("key")
		}
		if key == s.apiKey {
			return
		}

		c.AbortWithStatusJSON(http.StatusUnauthorized,
			gin.H{"error": "Unauthorized. Pass X-API-Key header or ?key= param."})
	}
}

// countRequests feeds the per-route counter when metrics are wired.
func (s *Server) countRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if s.deps.Metrics == nil {
			return
		}
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		s.deps.Metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Inc()
	}
}
