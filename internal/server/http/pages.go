package http

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"howell/internal/config"
)

// The dashboard pages live in the bridge directory next to the secrets.
// Dashboard and graph get the API key injected so their fetch() calls
// pass auth; brain and explorer are read-only and served as-is.

func (s *Server) handleDashboard(c *gin.Context) {
	cfg := s.deps.Config.Current()
	s.servePage(c, pagePath(cfg, cfg.DashboardFile, "dashboard.html"), true, "Dashboard")
}

func (s *Server) handleGraphPage(c *gin.Context) {
	cfg := s.deps.Config.Current()
	s.servePage(c, pagePath(cfg, cfg.GraphFile, "graph.html"), true, "Graph view")
}

func (s *Server) handleBrainPage(c *gin.Context) {
	cfg := s.deps.Config.Current()
	s.servePage(c, pagePath(cfg, "", "brain.html"), false, "Brain view")
}

func (s *Server) handleExplorerPage(c *gin.Context) {
	cfg := s.deps.Config.Current()
	s.servePage(c, pagePath(cfg, "", "explorer.html"), false, "Explorer")
}

// pagePath resolves a page to its configured override or the default file
// in the bridge directory.
func pagePath(cfg config.Config, override, filename string) string {
	if override != "" {
		return override
	}
	return filepath.Join(cfg.BridgeDir(), filename)
}

func (s *Server) servePage(c *gin.Context, path string, injectKey bool, title string) {
	data, err := os.ReadFile(path)
	if err != nil {
		c.Data(http.StatusNotFound, "text/html; charset=utf-8",
			[]byte(fmt.Sprintf("<h1>%s not found</h1><p>Expected at %s</p>", title, path)))
		return
	}
	html := string(data)
	if injectKey {
		tag := fmt.Sprintf("<script>window.__HOWELL_API_KEY=%q;</script>", s.apiKey)
		html = strings.Replace(html, "</head>", tag+"</head>", 1)
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(html))
}

// identityPages is the subset of identity files exposed over HTTP.
var identityPages = map[string]bool{"soul": true, "context": true, "projects": true}

func (s *Server) handleIdentity(c *gin.Context) {
	name := c.Param("name")
	if !identityPages[name] {
		c.String(http.StatusNotFound, "Identity file '%s' not found.", name)
		return
	}
	content, err := s.deps.Memory.ReadIdentity(name)
	if err != nil {
		c.String(http.StatusNotFound, "Identity file '%s' not found.", name)
		return
	}
	c.String(http.StatusOK, "%s", content)
}

// textFile serves one memory file as plain text, 404ing by name.
func (s *Server) textFile(path func(config.Config) string, label string) gin.HandlerFunc {
	return func(c *gin.Context) {
		data, err := os.ReadFile(path(s.deps.Config.Current()))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": label + " not found"})
			return
		}
		c.Data(http.StatusOK, "text/plain; charset=utf-8", data)
	}
}
