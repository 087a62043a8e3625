package mcp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// maxBodyBytes bounds a single JSON-RPC POST.
const maxBodyBytes = 4 << 20

const keepaliveInterval = 30 * time.Second

// sseSessions tracks live legacy-SSE streams by session id. Each stream
// owns a response channel the message endpoint feeds.
type sseSessions struct {
	mu       sync.Mutex
	channels map[string]chan *Response
}

func newSSESessions() *sseSessions {
	return &sseSessions{channels: make(map[string]chan *Response)}
}

func (s *sseSessions) add(id string) chan *Response {
	ch := make(chan *Response, 16)
	s.mu.Lock()
	s.channels[id] = ch
	s.mu.Unlock()
	return ch
}

func (s *sseSessions) get(id string) chan *Response {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channels[id]
}

func (s *sseSessions) remove(id string) {
	s.mu.Lock()
	delete(s.channels, id)
	s.mu.Unlock()
}

// HandleHTTP is the single mount point for the MCP surface. It serves the
// Streamable HTTP transport (POST /mcp), the legacy SSE transport
// (GET /mcp plus POST /mcp/message), and session teardown (DELETE /mcp).
func (s *Server) HandleHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSuffix(r.URL.Path, "/")
	if path == "" {
		path = "/mcp"
	}

	switch {
	case r.Method == http.MethodPost && path == "/mcp":
		s.handleStreamable(w, r)
	case r.Method == http.MethodGet && path == "/mcp":
		s.handleSSE(w, r)
	case r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/mcp/message"):
		s.handleMessage(w, r)
	case r.Method == http.MethodOptions:
		corsHeaders(w)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key, Authorization, Mcp-Session-Id")
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodDelete && path == "/mcp":
		if sid := r.Header.Get("Mcp-Session-Id"); sid != "" {
			s.known.Remove(sid)
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeJSON(w, http.StatusNotFound, map[string]any{"error": fmt.Sprintf("Unknown MCP route: %s", r.URL.Path)})
	}
}

// handleStreamable answers POST /mcp: the JSON-RPC response (or batch of
// responses) comes back directly in the HTTP body. Pure notification
// traffic gets 202 Accepted with no body.
func (s *Server) handleStreamable(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unreadable body"})
		return
	}

	sessionID := r.Header.Get("Mcp-Session-Id")
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	s.known.Add(sessionID, struct{}{})

	var responses []*Response
	if isBatch(body) {
		var raw []json.RawMessage
		if err := json.Unmarshal(body, &raw); err != nil {
			responses = append(responses, NewErrorResponse(nil, ParseError, "Failed to parse JSON-RPC batch", err.Error()))
		} else {
			for _, item := range raw {
				if resp := s.processRaw(item); resp != nil {
					responses = append(responses, resp)
				}
			}
		}
	} else {
		if resp := s.processRaw(body); resp != nil {
			responses = append(responses, resp)
		}
	}

	corsHeaders(w)
	w.Header().Set("Mcp-Session-Id", sessionID)
	if len(responses) == 0 {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	var payload any = responses[0]
	if isBatch(body) {
		payload = responses
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(payload)
}

// processRaw parses one JSON-RPC message and runs it. Parse failures come
// back as error responses; notifications come back as nil.
func (s *Server) processRaw(data []byte) *Response {
	req, err := UnmarshalRequest(data)
	if err != nil {
		if rpcErr, ok := err.(*RPCError); ok {
			return &Response{JSONRPC: JSONRPCVersion, Error: rpcErr}
		}
		return NewErrorResponse(nil, ParseError, err.Error(), nil)
	}
	return s.Process(req)
}

// handleSSE answers GET /mcp: opens the legacy SSE stream, announces the
// message endpoint, then relays responses until the client goes away.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sessionID := uuid.New().String()
	ch := s.sessions.add(sessionID)
	defer s.sessions.remove(sessionID)

	corsHeaders(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, "event: endpoint\ndata: /mcp/message?sessionId=%s\n\n", sessionID)
	flusher.Flush()
	s.logger.Info("SSE session %s... connected", sessionID[:8])
	defer s.logger.Info("SSE session %s... disconnected", sessionID[:8])

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case resp := <-ch:
			data, err := json.Marshal(resp)
			if err != nil {
				s.logger.Warn("SSE response marshal failed: %v", err)
				continue
			}
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", data)
			flusher.Flush()
		case <-keepalive.C:
			// Comment frame keeps proxies from timing the stream out.
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// handleMessage answers POST /mcp/message: the request is processed here
// but the response travels back over the session's SSE stream. The POST
// itself just gets 202 Accepted.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	ch := s.sessions.get(sessionID)
	if ch == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "Session not found or expired"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unreadable body"})
		return
	}

	if resp := s.processRaw(body); resp != nil {
		select {
		case ch <- resp:
		default:
			s.logger.Warn("SSE session %s... backed up, dropping response", sessionID[:8])
		}
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

func isBatch(body []byte) bool {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '['
}

func corsHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	corsHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
