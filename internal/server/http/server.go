// Package http serves the daemon's REST surface: memory and knowledge
// reads, the inbox write path, the generation and moltbook queues, fleet
// coordination (instances, tasks, agents, handoffs), the GitHub webhook,
// and the MCP mount. One gin engine, one port.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"howell/internal/config"
	"howell/internal/events"
	"howell/internal/genqueue"
	"howell/internal/knowledge"
	"howell/internal/logging"
	"howell/internal/mcp"
	"howell/internal/memory"
	"howell/internal/metrics"
	"howell/internal/moltbook"
	"howell/internal/registry"
	"howell/internal/stratigraphy"
	"howell/internal/task"
	"howell/internal/watcher"
	"howell/internal/worker"
)

// Deps wires the server to every subsystem it fronts.
type Deps struct {
	Config     *config.Manager
	Knowledge  *knowledge.Store
	Memory     *memory.Manager
	Inbox      *memory.Inbox
	SessionLog *memory.SessionLog
	Tasks      *task.Store
	Instances  *registry.Registry
	Agents     *stratigraphy.DB
	Watcher    *watcher.Watcher
	Queue      *genqueue.Store
	Processor  *genqueue.Processor
	Moltbook   *moltbook.Store
	Scheduler  *moltbook.Scheduler
	Workers    *worker.Watchdog
	Events     *events.Hub
	Metrics    *metrics.Metrics
	MCP        *mcp.Server
	Logger     logging.Logger
}

// Server is the daemon's HTTP front.
type Server struct {
	deps   Deps
	logger logging.Logger

	apiKey        string
	webhookSecret string

	engine    *gin.Engine
	httpd     *http.Server
	startTime time.Time
}

// New builds the server, loading (or minting) the API key and webhook
// secret from the bridge directory.
func New(deps Deps) (*Server, error) {
	cfg := deps.Config.Current()
	apiKey, err := ensureSecret(cfg.APIKeyFile(), newAPIKey)
	if err != nil {
		return nil, fmt.Errorf("api key: %w", err)
	}
	webhookSecret, err := ensureSecret(cfg.WebhookSecretFile(), newWebhookSecret)
	if err != nil {
		return nil, fmt.Errorf("webhook secret: %w", err)
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-API-Key", "Mcp-Session-Id", "X-Hub-Signature-256", "X-GitHub-Event"}
	corsConfig.AllowWebSockets = true
	// Preflights answer 200, not gin-contrib's default 204.
	corsConfig.OptionsResponseStatusCode = http.StatusOK
	engine.Use(cors.New(corsConfig))

	s := &Server{
		deps:          deps,
		logger:        logging.OrNop(deps.Logger),
		apiKey:        apiKey,
		webhookSecret: webhookSecret,
		engine:        engine,
		startTime:     time.Now(),
	}
	s.engine.Use(s.countRequests())
	s.engine.Use(s.requireAuth())
	s.routes()

	s.httpd = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.DaemonHost, cfg.DaemonPort),
		Handler:     engine,
		ReadTimeout: 30 * time.Second,
	}
	return s, nil
}

// APIKey exposes the active key, for the startup banner.
func (s *Server) APIKey() string { return s.apiKey }

// Handler exposes the engine for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("Listening on http://%s", s.httpd.Addr)
	if err := s.httpd.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpd.Shutdown(ctx)
}

func (s *Server) routes() {
	r := s.engine

	// Pages
	r.GET("/", s.handleDashboard)
	r.GET("/dashboard", s.handleDashboard)
	r.GET("/brain", s.handleBrainPage)
	r.GET("/explorer", s.handleExplorerPage)
	r.GET("/graph", s.handleGraphPage)
	r.GET("/identity/:name", s.handleIdentity)

	// Memory reads
	r.GET("/health", s.handleHealth)
	r.GET("/status", s.handleStatus)
	r.GET("/recent", s.textFile(func(c config.Config) string { return c.RecentFile() }, "RECENT.md"))
	r.GET("/pinned", s.textFile(func(c config.Config) string { return c.PinnedFile() }, "PINNED.md"))
	r.GET("/summary", s.textFile(func(c config.Config) string { return c.SummaryFile() }, "SUMMARY.md"))
	r.GET("/search", s.handleSearch)
	r.GET("/inbox", s.handleInboxGet)
	r.GET("/changes", s.handleChanges)
	r.GET("/knowledge", s.handleKnowledge)
	r.GET("/stats", s.handleStats)
	r.GET("/config", s.handleConfigGet)

	// Memory writes
	r.POST("/feed", s.handleFeed)
	r.POST("/session", s.handleSession)
	r.POST("/pin", s.handlePin)
	r.POST("/note", s.handleNote)
	r.POST("/inbox/clear", s.handleInboxClear)
	r.POST("/config", s.handleConfigSet)

	// Generation queue
	r.GET("/queue", s.handleQueueGet)
	r.POST("/queue", s.handleQueueSubmit)
	r.POST("/approve", s.handleApprove)

	// Moltbook
	r.GET("/moltbook", s.handleMoltbookGet)
	r.POST("/moltbook", s.handleMoltbookSchedule)
	r.POST("/moltbook/cancel", s.handleMoltbookCancel)

	// Instance registry
	r.GET("/instances", s.handleInstancesGet)
	r.POST("/instance/register", s.handleInstanceRegister)
	r.POST("/instance/heartbeat", s.handleInstanceHeartbeat)
	r.POST("/instance/deregister", s.handleInstanceDeregister)
	r.POST("/instance/status", s.handleInstanceStatus)
	r.POST("/instance/conflicts", s.handleInstanceConflicts)

	// Task board
	r.GET("/tasks", s.handleTasksGet)
	r.GET("/tasks/board", s.handleTasksBoard)
	r.GET("/tasks/available", s.handleTasksAvailable)
	r.GET("/tasks/templates", s.handleTaskTemplates)
	r.POST("/tasks", s.handleTaskCreate)
	r.POST("/tasks/claim", s.handleTaskClaim)
	r.POST("/tasks/start", s.taskTransition("start"))
	r.POST("/tasks/complete", s.taskTransition("complete"))
	r.POST("/tasks/fail", s.taskTransition("fail"))
	r.POST("/tasks/release", s.taskTransition("release"))
	r.POST("/tasks/note", s.handleTaskNote)
	r.POST("/tasks/delete", s.handleTaskDelete)
	r.POST("/tasks/from-template", s.handleTaskFromTemplate)

	// Stratigraphy
	r.GET("/agents", s.handleAgentsGet)
	r.GET("/agents/:id", s.handleAgentDetail)
	r.GET("/agents/:id/notes", s.handleAgentNotesGet)
	r.POST("/agents", s.handleAgentCreate)
	r.POST("/agents/:id/notes", s.handleAgentNoteCreate)
	r.POST("/agents/:id/end", s.handleAgentEnd)
	r.GET("/handoffs", s.handleHandoffsGet)
	r.POST("/handoffs", s.handleHandoffCreate)
	r.POST("/handoffs/claim", s.handleHandoffClaim)

	// Integrations
	r.POST("/webhook/github", s.handleGitHubWebhook)
	if s.deps.MCP != nil {
		mount := gin.WrapF(s.deps.MCP.HandleHTTP)
		r.Any("/mcp", mount)
		r.Any("/mcp/message", mount)
	}
	if s.deps.Events != nil {
		r.GET("/ws", gin.WrapH(s.deps.Events))
	}
	if s.deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("Unknown route: %s", c.Request.URL.Path)})
	})
}

// logSession appends to the session log when one is wired.
func (s *Server) logSession(action, details string) {
	if s.deps.SessionLog != nil {
		s.deps.SessionLog.Append(action, details)
	}
}

// publish broadcasts to websocket subscribers when a hub is wired.
func (s *Server) publish(eventType string, data any) {
	if s.deps.Events != nil {
		s.deps.Events.Publish(eventType, data)
	}
}
