// Package httpapi exposes the scene coordinator over REST and WebSocket.
// Each handler acquires no lock of its own — the coordinator owns the
// scene lock and every call here goes through it.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/google/uuid"
	"github.com/mirmik/webkin/internal/coordinator"
	"github.com/mirmik/webkin/internal/kinematics"
)

// TransportInfo describes the active ingest transport for introspection
// responses. cmd/webkin sets Kind to "none" when no transport is configured.
type TransportInfo struct {
	Kind      string
	Connected func() bool
}

// Server wires the coordinator onto an http.ServeMux, following the
// teacher's own net/http-only routing style (no third-party mux anywhere
// in the retrieval pack).
type Server struct {
	coord     *coordinator.Coordinator
	log       *slog.Logger
	upgrader  websocket.Upgrader
	zUp       bool
	transport TransportInfo
}

// NewServer returns an http.Handler exposing the full REST and WebSocket
// surface over coord.
func NewServer(coord *coordinator.Coordinator, zUp bool, transport TransportInfo, log *slog.Logger) http.Handler {
	s := &Server{
		coord: coord,
		log:   log,
		zUp:   zUp,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		transport: transport,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/tree", s.handleGetTree)
	mux.HandleFunc("POST /api/tree", s.handlePostTree)
	mux.HandleFunc("GET /api/scene", s.handleGetScene)
	mux.HandleFunc("POST /api/joints", s.handlePostJoints)
	mux.HandleFunc("POST /api/offset/set_zero", s.handleSetZero)
	mux.HandleFunc("POST /api/axis/override", s.handleSetOverride)
	mux.HandleFunc("GET /api/axis/overrides", s.handleGetOverrides)
	mux.HandleFunc("DELETE /api/axis/overrides", s.handleClearAllOverrides)
	mux.HandleFunc("DELETE /api/axis/overrides/{name}", s.handleClearOneOverride)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/config", s.handleConfig)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleGetTree(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.coord.TreeDoc()
	if !ok {
		writeError(w, http.StatusNotFound, "no tree loaded")
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handlePostTree(w http.ResponseWriter, r *http.Request) {
	var doc kinematics.Doc
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeError(w, http.StatusBadRequest, "malformed tree document")
		return
	}
	if err := s.coord.LoadTree(doc); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetScene(w http.ResponseWriter, r *http.Request) {
	nodes, ok := s.coord.SceneSnapshot()
	if !ok {
		writeError(w, http.StatusNotFound, "no tree loaded")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"nodes": nodes})
}

func (s *Server) handlePostJoints(w http.ResponseWriter, r *http.Request) {
	var values map[string]float64
	if err := json.NewDecoder(r.Body).Decode(&values); err != nil {
		writeError(w, http.StatusBadRequest, "malformed joint values")
		return
	}
	if err := s.coord.UpdateJoints(values); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type jointNameBody struct {
	JointName string `json:"joint_name"`
}

func (s *Server) handleSetZero(w http.ResponseWriter, r *http.Request) {
	var body jointNameBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.JointName == "" {
		writeError(w, http.StatusBadRequest, "joint_name required")
		return
	}
	if err := s.coord.SetZero(body.JointName); err != nil {
		s.writeCoordError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type overrideBody struct {
	JointName  string   `json:"joint_name"`
	AxisOffset *float64 `json:"axis_offset"`
	AxisScale  *float64 `json:"axis_scale"`
	SliderMin  *float64 `json:"slider_min"`
	SliderMax  *float64 `json:"slider_max"`
}

func (s *Server) handleSetOverride(w http.ResponseWriter, r *http.Request) {
	var body overrideBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.JointName == "" {
		writeError(w, http.StatusBadRequest, "joint_name required")
		return
	}
	err := s.coord.SetOverride(body.JointName, body.AxisOffset, body.AxisScale, body.SliderMin, body.SliderMax)
	if err != nil {
		s.writeCoordError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetOverrides(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"overrides": s.coord.Overrides()})
}

func (s *Server) handleClearAllOverrides(w http.ResponseWriter, r *http.Request) {
	if err := s.coord.ClearAllOverrides(); err != nil {
		s.writeCoordError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleClearOneOverride(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.coord.ClearOverride(name); err != nil {
		s.writeCoordError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeCoordError maps coordinator sentinel errors onto status codes: 400
// for no tree loaded (malformed precondition), 404 for an unknown joint
// name.
func (s *Server) writeCoordError(w http.ResponseWriter, err error) {
	switch err {
	case coordinator.ErrUnknownJoint:
		writeError(w, http.StatusNotFound, err.Error())
	case coordinator.ErrNoTree:
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	connected := false
	if s.transport.Connected != nil {
		connected = s.transport.Connected()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"treeLoaded":  s.coord.HasTree(),
		"clients":     s.coord.ClientCount(),
		"transport":   s.transport.Kind,
		"transportUp": connected,
	})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"zUp":       s.zUp,
		"transport": s.transport.Kind,
	})
}

// wsClient adapts a *websocket.Conn to coordinator.ClientHandle. Writes are
// serialized with their own mutex since gorilla/websocket forbids
// concurrent writers on one connection.
type wsClient struct {
	conn *websocket.Conn
	mu   chan struct{}
}

func newWSClient(conn *websocket.Conn) *wsClient {
	c := &wsClient{conn: conn, mu: make(chan struct{}, 1)}
	c.mu <- struct{}{}
	return c
}

func (c *wsClient) Send(data []byte) error {
	<-c.mu
	defer func() { c.mu <- struct{}{} }()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

type jointUpdateMessage struct {
	Type   string             `json:"type"`
	Joints map[string]float64 `json:"joints"`
}

// handleWebSocket upgrades the connection, registers it with the
// coordinator (which immediately sends a scene_init), then reads inbound
// joint_update frames until the connection closes.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("httpapi: websocket upgrade failed", "err", err)
		return
	}

	id := uuid.NewString()
	client := newWSClient(conn)
	s.coord.RegisterClient(id, client)
	defer func() {
		s.coord.UnregisterClient(id)
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg jointUpdateMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.log.Warn("httpapi: dropping malformed websocket frame", "err", err)
			continue
		}
		if msg.Type != "joint_update" {
			continue
		}
		if err := s.coord.UpdateJoints(msg.Joints); err != nil {
			s.log.Warn("httpapi: joint_update from client failed", "client", id, "err", err)
		}
	}
}
