package mcp

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"howell/internal/knowledge"
	"howell/internal/memory"
	"howell/internal/registry"
	"howell/internal/task"
)

type staticSummary string

func (s staticSummary) Summary() string { return string(s) }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()

	identityDir := filepath.Join(dir, "identity")
	require.NoError(t, os.MkdirAll(identityDir, 0o755))
	soulPath := filepath.Join(identityDir, "SOUL.md")
	require.NoError(t, os.WriteFile(soulPath, []byte("# SOUL\n\nKeeper of the kiln.\n"), 0o644))

	graph := knowledge.NewStore(filepath.Join(dir, "knowledge.json"), nil)
	mem := memory.NewManager(memory.Paths{
		RecentFile:  filepath.Join(dir, "RECENT.md"),
		SummaryFile: filepath.Join(dir, "SUMMARY.md"),
		PinnedFile:  filepath.Join(dir, "PINNED.md"),
		ArchiveDir:  filepath.Join(dir, "archive"),
		Identity: map[string]string{
			"soul":   soulPath,
			"memory": filepath.Join(dir, "RECENT.md"),
			"pinned": filepath.Join(dir, "PINNED.md"),
		},
	}, 5, graph, nil)

	return NewServer(Deps{
		Knowledge:     graph,
		Memory:        mem,
		SessionLog:    memory.NewSessionLog(filepath.Join(dir, "session_log.json"), nil),
		Tasks:         task.NewStore(filepath.Join(dir, "tasks.json"), filepath.Join(dir, "tasks_archive"), nil),
		Instances:     registry.New(nil),
		Watcher:       staticSummary("no changes"),
		Queue:         staticSummary("Generation queue empty"),
		ProceduresDir: filepath.Join(dir, "procedures"),
	})
}

func call(t *testing.T, s *Server, tool string, args map[string]any) (map[string]any, bool) {
	t.Helper()
	resp := s.Process(&Request{
		JSONRPC: JSONRPCVersion,
		ID:      1,
		Method:  "tools/call",
		Params:  map[string]any{"name": tool, "arguments": args},
	})
	require.NotNil(t, resp)
	require.Nil(t, resp.Error)

	result, ok := resp.Result.(CallResult)
	require.True(t, ok)
	require.Len(t, result.Content, 1)

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(result.Content[0].Text), &payload))
	return payload, result.IsError
}

func TestInitialize(t *testing.T) {
	s := newTestServer(t)
	resp := s.Process(&Request{JSONRPC: JSONRPCVersion, ID: "init-1", Method: "initialize"})

	require.NotNil(t, resp)
	result := resp.Result.(map[string]any)
	assert.Equal(t, ProtocolVersion, result["protocolVersion"])
	info := result["serverInfo"].(map[string]any)
	assert.Equal(t, ServerName, info["name"])
	assert.Equal(t, ServerVersion, info["version"])
}

func TestToolsList(t *testing.T) {
	s := newTestServer(t)
	resp := s.Process(&Request{JSONRPC: JSONRPCVersion, ID: 2, Method: "tools/list"})

	require.NotNil(t, resp)
	tools := resp.Result.(map[string]any)["tools"].([]Tool)
	assert.Len(t, tools, 22)

	names := make(map[string]bool, len(tools))
	for _, tool := range tools {
		names[tool.Name] = true
		assert.NotEmpty(t, tool.Description)
		assert.Equal(t, "object", tool.InputSchema["type"])
	}
	assert.True(t, names["howell_bootstrap"])
	assert.True(t, names["howell_task_update"])
}

func TestPingAndUnknownMethod(t *testing.T) {
	s := newTestServer(t)

	resp := s.Process(&Request{JSONRPC: JSONRPCVersion, ID: 3, Method: "ping"})
	require.NotNil(t, resp)
	assert.Nil(t, resp.Error)

	resp = s.Process(&Request{JSONRPC: JSONRPCVersion, ID: 4, Method: "resources/list"})
	require.NotNil(t, resp)
	require.True(t, resp.IsError())
	assert.Equal(t, MethodNotFound, resp.Error.Code)

	assert.Nil(t, s.Process(&Request{JSONRPC: JSONRPCVersion, Method: "notifications/initialized"}))
}

func TestUnknownTool(t *testing.T) {
	s := newTestServer(t)
	payload, isErr := call(t, s, "howell_teleport", nil)
	assert.True(t, isErr)
	assert.Equal(t, "Unknown tool: howell_teleport", payload["error"])
}

func TestEntityLifecycle(t *testing.T) {
	s := newTestServer(t)

	payload, isErr := call(t, s, "howell_add_entity", map[string]any{
		"name":         "Kiln Project",
		"entity_type":  "Project",
		"observations": []any{"fires at cone 6"},
	})
	require.False(t, isErr)
	assert.Equal(t, "Created entity 'Kiln Project' (Project) with 1 observations", payload["result"])

	payload, isErr = call(t, s, "howell_add_entity", map[string]any{
		"name":         "Kiln Project",
		"entity_type":  "Project",
		"observations": []any{"fires at cone 6", "rebuilt arch in spring"},
	})
	require.False(t, isErr)
	assert.Equal(t, "Updated existing entity 'Kiln Project' with 2 observations", payload["result"])

	// Duplicate observation was deduped on the update path.
	g := s.deps.Knowledge.Load()
	require.Len(t, g.Entities["Kiln Project"].Observations, 2)

	payload, isErr = call(t, s, "howell_add_observation", map[string]any{
		"entity":      "Kiln Project",
		"observation": "door bricks need replacing",
	})
	require.False(t, isErr)
	assert.Equal(t, "Added observation to 'Kiln Project': door bricks need replacing", payload["result"])

	payload, isErr = call(t, s, "howell_add_observation", map[string]any{
		"entity":      "Ghost",
		"observation": "boo",
	})
	assert.True(t, isErr)
	assert.Contains(t, payload["error"], "Entity 'Ghost' not found. Available:")
	assert.Contains(t, payload["error"], "Kiln Project")
}

func TestRelationsAndQuery(t *testing.T) {
	s := newTestServer(t)
	_, _ = call(t, s, "howell_add_entity", map[string]any{"name": "Ryan", "entity_type": "Person"})
	_, _ = call(t, s, "howell_add_entity", map[string]any{"name": "Kiln", "entity_type": "Tool"})

	payload, isErr := call(t, s, "howell_add_relation", map[string]any{
		"from_entity": "Ryan", "relation_type": "built", "to_entity": "Kiln",
	})
	require.False(t, isErr)
	assert.Equal(t, "Added relation: Ryan --[built]--> Kiln", payload["result"])

	payload, isErr = call(t, s, "howell_add_relation", map[string]any{
		"from_entity": "Ryan", "relation_type": "built", "to_entity": "Shed",
	})
	assert.True(t, isErr)
	assert.Contains(t, payload["error"], "Entity not found: [Shed]")

	payload, isErr = call(t, s, "howell_query", map[string]any{"term": "kiln"})
	require.False(t, isErr)
	assert.Equal(t, float64(2), payload["total_matches"])

	payload, isErr = call(t, s, "howell_delete_relation", map[string]any{
		"from_entity": "Ryan", "relation_type": "built", "to_entity": "Kiln",
	})
	require.False(t, isErr)
	assert.Equal(t, "Deleted relation: Ryan --[built]--> Kiln", payload["result"])

	payload, isErr = call(t, s, "howell_delete_relation", map[string]any{
		"from_entity": "Ryan", "relation_type": "built", "to_entity": "Kiln",
	})
	assert.True(t, isErr)
	assert.Equal(t, "Relation not found: Ryan --[built]--> Kiln", payload["error"])
}

func TestDeleteObservationCountsZeroMatches(t *testing.T) {
	s := newTestServer(t)
	_, _ = call(t, s, "howell_add_entity", map[string]any{
		"name": "Studio", "entity_type": "Place",
		"observations": []any{"North wall leaks", "wheel needs a new belt"},
	})

	payload, isErr := call(t, s, "howell_delete_observation", map[string]any{
		"entity": "Studio", "substring": "WALL",
	})
	require.False(t, isErr)
	assert.Equal(t, "Removed 1 observation(s) matching 'WALL' from 'Studio'", payload["result"])

	payload, isErr = call(t, s, "howell_delete_observation", map[string]any{
		"entity": "Studio", "substring": "chimney",
	})
	require.False(t, isErr)
	assert.Equal(t, "Removed 0 observation(s) matching 'chimney' from 'Studio'", payload["result"])

	payload, isErr = call(t, s, "howell_delete_observation", map[string]any{
		"entity": "Nowhere", "substring": "x",
	})
	assert.True(t, isErr)
	assert.Equal(t, "Entity 'Nowhere' not found", payload["error"])
}

func TestMergeAndRename(t *testing.T) {
	s := newTestServer(t)
	_, _ = call(t, s, "howell_add_entity", map[string]any{"name": "Old Kiln", "entity_type": "Tool", "observations": []any{"a"}})
	_, _ = call(t, s, "howell_add_entity", map[string]any{"name": "New Kiln", "entity_type": "Tool", "observations": []any{"b"}})

	payload, isErr := call(t, s, "howell_merge_entities", map[string]any{"source": "Old Kiln", "target": "New Kiln"})
	require.False(t, isErr)
	assert.Equal(t, "Merged 'Old Kiln' into 'New Kiln'", payload["result"])

	payload, isErr = call(t, s, "howell_merge_entities", map[string]any{"source": "Old Kiln", "target": "New Kiln"})
	assert.True(t, isErr)
	assert.Equal(t, "Source entity 'Old Kiln' not found", payload["error"])

	payload, isErr = call(t, s, "howell_rename_entity", map[string]any{"old_name": "New Kiln", "new_name": "Anagama"})
	require.False(t, isErr)
	assert.Equal(t, "Renamed 'New Kiln' -> 'Anagama'", payload["result"])

	payload, isErr = call(t, s, "howell_delete_entity", map[string]any{"name": "Anagama"})
	require.False(t, isErr)
	assert.Equal(t, "Deleted entity 'Anagama' and 0 relations", payload["result"])
}

func TestTaskToolsRoundTrip(t *testing.T) {
	s := newTestServer(t)

	payload, isErr := call(t, s, "howell_task_create", map[string]any{
		"title":      "Fix watcher flake",
		"priority":   "high",
		"scope_tags": []any{"watcher"},
	})
	require.False(t, isErr)
	created := payload["task"].(map[string]any)
	taskID := created["id"].(string)
	assert.Equal(t, "Created task "+taskID, payload["result"])
	assert.Equal(t, "claude-howell", created["created_by"])

	payload, isErr = call(t, s, "howell_task_claim", map[string]any{"task_id": taskID})
	require.False(t, isErr)
	assert.Equal(t, "Claimed task "+taskID, payload["result"])

	// Second claim of the same task fails.
	payload, isErr = call(t, s, "howell_task_claim", map[string]any{"task_id": taskID})
	assert.True(t, isErr)
	assert.Equal(t, "Cannot claim task '"+taskID+"' - not found, already claimed, or scope conflict", payload["error"])

	for _, action := range []string{"start", "note", "complete"} {
		payload, isErr = call(t, s, "howell_task_update", map[string]any{
			"task_id": taskID, "action": action, "message": "progress",
		})
		require.False(t, isErr, action)
		assert.Equal(t, "Task "+taskID+": "+action, payload["result"])
	}

	payload, isErr = call(t, s, "howell_task_update", map[string]any{
		"task_id": taskID, "action": "start",
	})
	assert.True(t, isErr)
	assert.Equal(t, "Cannot start task '"+taskID+"' - not found or not claimed by you", payload["error"])

	payload, isErr = call(t, s, "howell_tasks", map[string]any{"status": "completed"})
	require.False(t, isErr)
	assert.Equal(t, float64(1), payload["count"])

	payload, _ = call(t, s, "howell_tasks", map[string]any{"status": "all"})
	assert.Equal(t, float64(1), payload["count"])
}

func TestIdentityAndProcedures(t *testing.T) {
	s := newTestServer(t)

	payload, isErr := call(t, s, "howell_read_identity", map[string]any{"file": "soul"})
	require.False(t, isErr)
	assert.Contains(t, payload["content"], "Keeper of the kiln")

	payload, isErr = call(t, s, "howell_read_identity", map[string]any{"file": "projects"})
	assert.True(t, isErr)
	assert.Equal(t, "Unknown identity file: projects", payload["error"])

	payload, isErr = call(t, s, "howell_procedure", map[string]any{"topic": "list"})
	require.False(t, isErr)
	assert.Empty(t, payload["procedures"])

	procDir := s.deps.ProceduresDir
	require.NoError(t, os.MkdirAll(procDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(procDir, "kiln-firing.md"), []byte("# Firing\nSoak at 999C."), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(procDir, "README.md"), []byte("index"), 0o644))

	payload, isErr = call(t, s, "howell_procedure", map[string]any{"topic": "list"})
	require.False(t, isErr)
	assert.Equal(t, []any{"kiln-firing"}, payload["procedures"])

	payload, isErr = call(t, s, "howell_procedure", map[string]any{"topic": "Firing"})
	require.False(t, isErr)
	assert.Equal(t, "kiln-firing", payload["name"])
	assert.Contains(t, payload["content"], "Soak at 999C")

	payload, isErr = call(t, s, "howell_procedure", map[string]any{"topic": "glazing"})
	assert.True(t, isErr)
	assert.Equal(t, "No procedure found for 'glazing'", payload["error"])
}

func TestBootstrapAndStatusComposites(t *testing.T) {
	s := newTestServer(t)
	s.deps.Instances.Register("/work/howell", "vscode", "active")
	_, _ = call(t, s, "howell_add_entity", map[string]any{"name": "Howell", "entity_type": "Project"})

	payload, isErr := call(t, s, "howell_bootstrap", nil)
	require.False(t, isErr)
	for _, key := range []string{"identity", "soul", "pinned", "recent", "knowledge_graph", "heartbeat", "siblings", "tasks", "timestamp"} {
		assert.Contains(t, payload, key)
	}
	kg := payload["knowledge_graph"].(map[string]any)
	assert.Equal(t, float64(1), kg["total_entities"])
	assert.Equal(t, "Keeper of the kiln.", payload["identity"])
	assert.Equal(t, "[not found]", payload["recent"])
	assert.Len(t, payload["siblings"], 1)

	payload, isErr = call(t, s, "howell_status", nil)
	require.False(t, isErr)
	assert.Equal(t, "no changes", payload["file_changes"])
	assert.Equal(t, "Generation queue empty", payload["queue"])
	for _, key := range []string{"heartbeat", "tasks", "instances", "timestamp"} {
		assert.Contains(t, payload, key)
	}
}

func TestBroadcastAndInstances(t *testing.T) {
	s := newTestServer(t)
	s.deps.Instances.Register("/work/howell", "vscode", "active")

	payload, isErr := call(t, s, "howell_broadcast", map[string]any{
		"activity":     "refactoring the watcher",
		"active_files": []any{"internal/watcher/watcher.go"},
	})
	require.False(t, isErr)
	assert.Equal(t, "Activity noted: refactoring the watcher", payload["result"])
	assert.Equal(t, float64(1), payload["sibling_count"])

	payload, isErr = call(t, s, "howell_instances", nil)
	require.False(t, isErr)
	assert.Equal(t, float64(1), payload["count"])
}

func TestEndSessionAndPin(t *testing.T) {
	s := newTestServer(t)

	payload, isErr := call(t, s, "howell_end_session", map[string]any{
		"summary":      "Rebuilt the task board",
		"what_learned": "scope overlap needs normalized dirs",
	})
	require.False(t, isErr)
	assert.Equal(t, "Session captured", payload["result"])

	payload, isErr = call(t, s, "howell_pin", map[string]any{
		"title": "Ship small", "text": "One store at a time.", "reason": "keeps reviews sane",
	})
	require.False(t, isErr)
	assert.Equal(t, "Pinned: Ship small", payload["result"])

	payload, isErr = call(t, s, "howell_log_session", map[string]any{"action": "review", "details": "board pass"})
	require.False(t, isErr)
	assert.Equal(t, "Logged: review", payload["result"])
}

// ── Transport ──

func rpcBody(t *testing.T, id any, method string, params map[string]any) *bytes.Reader {
	t.Helper()
	req := Request{JSONRPC: JSONRPCVersion, ID: id, Method: method, Params: params}
	data, err := json.Marshal(req)
	require.NoError(t, err)
	return bytes.NewReader(data)
}

func TestStreamableHTTP(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.HandleHTTP(rec, httptest.NewRequest("POST", "/mcp", rpcBody(t, 1, "initialize", nil)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Mcp-Session-Id"))

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, JSONRPCVersion, resp.JSONRPC)
	assert.Contains(t, rec.Body.String(), ProtocolVersion)
}

func TestStreamableReusesSessionID(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest("POST", "/mcp", rpcBody(t, 1, "ping", nil))
	req.Header.Set("Mcp-Session-Id", "session-42")
	rec := httptest.NewRecorder()
	s.HandleHTTP(rec, req)

	assert.Equal(t, "session-42", rec.Header().Get("Mcp-Session-Id"))
}

func TestStreamableNotificationAccepted(t *testing.T) {
	s := newTestServer(t)

	body := strings.NewReader(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	rec := httptest.NewRecorder()
	s.HandleHTTP(rec, httptest.NewRequest("POST", "/mcp", body))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestStreamableBatch(t *testing.T) {
	s := newTestServer(t)

	batch := `[
		{"jsonrpc":"2.0","id":1,"method":"ping"},
		{"jsonrpc":"2.0","method":"notifications/initialized"},
		{"jsonrpc":"2.0","id":2,"method":"tools/list"}
	]`
	rec := httptest.NewRecorder()
	s.HandleHTTP(rec, httptest.NewRequest("POST", "/mcp", strings.NewReader(batch)))

	require.Equal(t, http.StatusOK, rec.Code)
	var responses []Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &responses))
	assert.Len(t, responses, 2)
}

func TestDeleteClosesSession(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("DELETE", "/mcp", nil)
	req.Header.Set("Mcp-Session-Id", "session-42")
	s.HandleHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
}

func TestUnknownRoute(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.HandleHTTP(rec, httptest.NewRequest("GET", "/mcp/nope", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "Unknown MCP route: /mcp/nope")
}

func TestMessageWithoutSession(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.HandleHTTP(rec, httptest.NewRequest("POST", "/mcp/message?sessionId=gone", rpcBody(t, 1, "ping", nil)))
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "Session not found or expired")
}

func TestSSERoundTrip(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(http.HandlerFunc(s.HandleHTTP))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/mcp")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	event, data := readSSEEvent(t, reader)
	require.Equal(t, "endpoint", event)
	require.True(t, strings.HasPrefix(data, "/mcp/message?sessionId="))

	post, err := http.Post(srv.URL+data, "application/json",
		strings.NewReader(`{"jsonrpc":"2.0","id":7,"method":"ping"}`))
	require.NoError(t, err)
	defer func() { _ = post.Body.Close() }()
	assert.Equal(t, http.StatusAccepted, post.StatusCode)

	event, data = readSSEEvent(t, reader)
	assert.Equal(t, "message", event)

	var rpcResp Response
	require.NoError(t, json.Unmarshal([]byte(data), &rpcResp))
	assert.Equal(t, float64(7), rpcResp.ID)
	assert.Nil(t, rpcResp.Error)
}

func readSSEEvent(t *testing.T, r *bufio.Reader) (event, data string) {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "" && event != "":
			return event, data
		}
	}
}
