// Package app assembles the daemon: one Coordinator value owning every
// store and worker, no package globals. cmd/howelld builds one and runs it.
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

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
	httpserver "howell/internal/server/http"
	"howell/internal/stratigraphy"
	"howell/internal/task"
	"howell/internal/watcher"
	"howell/internal/worker"
)

const shutdownGrace = 10 * time.Second

// staleClaimAge is how long a bootstrap claim may sit on a handoff whose
// claimer has vanished before the reaper returns it to the pool.
const staleClaimAge = 30 * time.Minute

// Coordinator owns every subsystem of the daemon.
type Coordinator struct {
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
	HTTP       *httpserver.Server

	logger logging.Logger
}

// New builds the full daemon from the config document at configPath.
func New(configPath string, logger logging.Logger) (*Coordinator, error) {
	logger = logging.OrNop(logger)

	mgr, err := config.NewManager(configPath, logger)
	if err != nil {
		return nil, err
	}
	cfg := mgr.Current()

	for _, dir := range []string{
		cfg.BridgeDir(), cfg.MemoryDir(), cfg.InboxDir(), cfg.ArchiveDir(),
		cfg.TasksDir(), cfg.ProceduresDir(), cfg.ComfyQueueDir(),
		cfg.MoltbookQueueDir(), cfg.LogsDir(),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("persist layout: %w", err)
		}
	}

	c := &Coordinator{Config: mgr, logger: logger}
	c.Metrics = metrics.New()
	c.Knowledge = knowledge.NewStore(cfg.KnowledgeFile(), logging.NewComponentLogger("Knowledge"))
	c.Memory = memory.NewManager(memory.Paths{
		RecentFile:  cfg.RecentFile(),
		SummaryFile: cfg.SummaryFile(),
		PinnedFile:  cfg.PinnedFile(),
		ArchiveDir:  cfg.ArchiveDir(),
		Identity:    cfg.IdentityFiles(),
	}, cfg.MaxRecentSessions, c.Knowledge, logging.NewComponentLogger("Memory"))
	c.Inbox = memory.NewInbox(cfg.InboxDir())
	c.SessionLog = memory.NewSessionLog(cfg.SessionsFile(), logging.NewComponentLogger("Sessions"))
	c.Tasks = task.NewStore(cfg.TasksFile(), cfg.TaskArchiveDir(), logging.NewComponentLogger("Tasks"))
	c.Instances = registry.New(logging.NewComponentLogger("Registry"))
	c.Instances.OnExpire = func(instanceID string) {
		if released := c.Tasks.ReleaseAllForInstance(instanceID); released > 0 {
			c.logger.Warn("Released %d task(s) from expired instance %s", released, instanceID)
		}
	}

	c.Agents, err = stratigraphy.Open(cfg.AgentDBFile(), logging.NewComponentLogger("Stratigraphy"))
	if err != nil {
		return nil, fmt.Errorf("agent db: %w", err)
	}

	c.Watcher = watcher.New(cfg.WatchDirs, cfg.ChangesLogFile(),
		time.Duration(cfg.WatcherIntervalSeconds)*time.Second, logging.NewComponentLogger("Watcher"))
	c.Queue = genqueue.NewStore(cfg.ComfyQueueDir(), logging.NewComponentLogger("Queue"))
	c.Processor = genqueue.NewProcessor(c.Queue,
		genqueue.NewClient(cfg.ComfyUIURL, cfg.ComfyQueueDir()),
		time.Duration(cfg.QueueIntervalSeconds)*time.Second, logging.NewComponentLogger("Queue"))
	c.Moltbook = moltbook.NewStore(cfg.MoltbookQueueDir(), logging.NewComponentLogger("Moltbook"))
	c.Scheduler = moltbook.NewScheduler(c.Moltbook, "", os.Getenv("MOLTBOOK_TOKEN"),
		logging.NewComponentLogger("Moltbook"))

	c.Workers = worker.New(logging.NewComponentLogger("Watchdog"))
	c.Workers.OnRestart = func(name string) {
		c.Metrics.WorkerRestarts.WithLabelValues(name).Inc()
	}
	c.Events = events.NewHub(logging.NewComponentLogger("Events"))

	c.MCP = mcp.NewServer(mcp.Deps{
		Knowledge:     c.Knowledge,
		Memory:        c.Memory,
		SessionLog:    c.SessionLog,
		Tasks:         c.Tasks,
		Instances:     c.Instances,
		Watcher:       c.Watcher,
		Queue:         c.Queue,
		ProceduresDir: cfg.ProceduresDir(),
		Metrics:       c.Metrics,
		Logger:        logging.NewComponentLogger("MCP"),
	})

	c.HTTP, err = httpserver.New(httpserver.Deps{
		Config:     mgr,
		Knowledge:  c.Knowledge,
		Memory:     c.Memory,
		Inbox:      c.Inbox,
		SessionLog: c.SessionLog,
		Tasks:      c.Tasks,
		Instances:  c.Instances,
		Agents:     c.Agents,
		Watcher:    c.Watcher,
		Queue:      c.Queue,
		Processor:  c.Processor,
		Moltbook:   c.Moltbook,
		Scheduler:  c.Scheduler,
		Workers:    c.Workers,
		Events:     c.Events,
		Metrics:    c.Metrics,
		MCP:        c.MCP,
		Logger:     logging.NewComponentLogger("HTTP"),
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Run starts the workers and the HTTP server and blocks until ctx is
// cancelled or the listener fails.
func (c *Coordinator) Run(ctx context.Context) error {
	cfg := c.Config.Current()
	tracked := c.Watcher.Init()
	hb := c.Memory.Heartbeat()

	c.logger.Info("Howell daemon starting")
	c.logger.Info("Persist root: %s", cfg.PersistRoot)
	c.logger.Info("Tracking %d files", tracked)
	c.logger.Info("%s", hb.Text)
	c.logger.Info("API key: %s", c.HTTP.APIKey())
	c.SessionLog.Append("daemon_start", fmt.Sprintf("Listening on %s:%d", cfg.DaemonHost, cfg.DaemonPort))

	g, ctx := errgroup.WithContext(ctx)

	c.Workers.Go(ctx, "heartbeat", c.heartbeatLoop)
	c.Workers.Go(ctx, "watcher", c.watchLoop)
	c.Workers.Go(ctx, "queue", c.Processor.Run)
	c.Workers.Go(ctx, "moltbook", c.moltbookLoop)

	g.Go(c.HTTP.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return c.HTTP.Shutdown(shutCtx)
	})

	err := g.Wait()
	c.Workers.Wait()
	c.Events.Close()
	if dbErr := c.Agents.Close(); dbErr != nil {
		c.logger.Warn("Agent db close: %v", dbErr)
	}
	c.SessionLog.Append("daemon_stop", "Clean shutdown")
	c.logger.Info("Clean shutdown")
	return err
}

// heartbeatLoop runs the periodic integrity audit, the stale-claim reaper,
// and gauge refreshes.
func (c *Coordinator) heartbeatLoop(ctx context.Context) {
	interval := time.Duration(c.Config.Current().HeartbeatIntervalHours) * time.Hour
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hb := c.Memory.Heartbeat()
			c.SessionLog.Append("background_heartbeat", "Automatic integrity check")
			c.logger.Info("%s", hb.Text)

			if released, err := c.Agents.ReleaseStaleClaims(c.Instances.IDs(), staleClaimAge); err != nil {
				c.logger.Warn("Stale claim sweep failed: %v", err)
			} else if released > 0 {
				c.logger.Info("Released %d stale handoff claim(s)", released)
			}

			st := c.Tasks.Stats()
			c.Metrics.SetTaskCounts(st.Pending, st.Claimed, st.InProgress, st.Completed, st.Failed)
			c.Metrics.ActiveInstances.Set(float64(c.Instances.Count()))
			c.Metrics.EventSubscribers.Set(float64(c.Events.Count()))
		}
	}
}

// watchLoop polls the filesystem and fans detected changes out to the
// event hub.
func (c *Coordinator) watchLoop(ctx context.Context) {
	interval := time.Duration(c.Config.Current().WatcherIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			changes := c.Watcher.Poll()
			if len(changes) == 0 {
				continue
			}
			c.Metrics.FileChanges.Add(float64(len(changes)))
			c.Events.Publish("file_change", changes)
		}
	}
}

func (c *Coordinator) moltbookLoop(ctx context.Context) {
	c.Scheduler.Start()
	<-ctx.Done()
	c.Scheduler.Stop()
}
