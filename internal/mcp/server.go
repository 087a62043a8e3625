// Package mcp serves the daemon's brain over the Model Context Protocol
// (2024-11-05): a 22-tool catalog covering the knowledge graph, memory
// artifacts, the task board, and the instance registry, reachable over
// both the Streamable HTTP and the legacy SSE transport.
package mcp

import (
	"bytes"
	"encoding/json"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"howell/internal/knowledge"
	"howell/internal/logging"
	"howell/internal/memory"
	"howell/internal/metrics"
	"howell/internal/registry"
	"howell/internal/task"
)

const (
	ProtocolVersion = "2024-11-05"
	ServerName      = "howell-brain"
	ServerVersion   = "2.2.0"
)

// streamable clients are remembered so a returning Mcp-Session-Id can be
// told apart from a stale one.
const sessionCacheSize = 128

// Summarizer is the one-line status view a subsystem contributes to the
// howell_status composite.
type Summarizer interface {
	Summary() string
}

// Deps collects everything the tool handlers reach into.
type Deps struct {
	Knowledge  *knowledge.Store
	Memory     *memory.Manager
	SessionLog *memory.SessionLog
	Tasks      *task.Store
	Instances  *registry.Registry
	Watcher    Summarizer
	Queue      Summarizer

	// ProceduresDir holds the *.md procedural memory files.
	ProceduresDir string

	// Metrics may be nil; tool call counters are skipped then.
	Metrics *metrics.Metrics
	Logger  logging.Logger
}

// Server dispatches JSON-RPC requests against the tool catalog and owns
// the transport sessions.
type Server struct {
	deps   Deps
	logger logging.Logger

	sessions *sseSessions
	known    *lru.Cache[string, struct{}]
}

// NewServer wires the MCP surface to the daemon's stores.
func NewServer(deps Deps) *Server {
	known, _ := lru.New[string, struct{}](sessionCacheSize)
	return &Server{
		deps:     deps,
		logger:   logging.OrNop(deps.Logger),
		sessions: newSSESessions(),
		known:    known,
	}
}

// Tools returns the catalog served by tools/list.
func Tools() []Tool {
	return toolCatalog
}

// Process handles one JSON-RPC request. Notifications return nil.
func (s *Server) Process(req *Request) *Response {
	if req.IsNotification() {
		return nil
	}

	switch req.Method {
	case "initialize":
		return NewResponse(req.ID, map[string]any{
			"protocolVersion": ProtocolVersion,
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo":      map[string]any{"name": ServerName, "version": ServerVersion},
		})

	case "tools/list":
		return NewResponse(req.ID, map[string]any{"tools": toolCatalog})

	case "tools/call":
		name, _ := req.Params["name"].(string)
		args, _ := req.Params["arguments"].(map[string]any)
		return NewResponse(req.ID, s.callTool(name, args))

	case "ping":
		return NewResponse(req.ID, map[string]any{})

	default:
		return NewErrorResponse(req.ID, MethodNotFound, fmt.Sprintf("Method not found: %s", req.Method), nil)
	}
}

// CallResult is the tools/call result envelope.
type CallResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError"`
}

// Content is one content block in a tool result.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (s *Server) callTool(name string, args map[string]any) CallResult {
	handler, ok := toolHandlers[name]
	if !ok {
		return errorResult(map[string]any{"error": fmt.Sprintf("Unknown tool: %s", name)})
	}

	if s.deps.Metrics != nil {
		s.deps.Metrics.ToolCalls.WithLabelValues(name).Inc()
	}
	s.logger.Debug("Tool call: %s", name)

	result := handler(s, args)
	return CallResult{
		Content: []Content{{Type: "text", Text: renderJSON(result)}},
		IsError: isErrorValue(result),
	}
}

func errorResult(v map[string]any) CallResult {
	return CallResult{
		Content: []Content{{Type: "text", Text: renderJSON(v)}},
		IsError: true,
	}
}

// A handler signals failure by returning a map whose only key is "error".
func isErrorValue(v any) bool {
	m, ok := v.(map[string]any)
	if !ok {
		return false
	}
	_, hasErr := m["error"]
	return hasErr && len(m) == 1
}

// renderJSON pretty-prints a tool result without HTML escaping, so entity
// names and relation arrows come through readable.
func renderJSON(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Sprintf(`{"error": "encode failed: %v"}`, err)
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n"))
}
