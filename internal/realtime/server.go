// Package realtime streams a supervised session to WebSocket observers and
// exposes its status over HTTP.
package realtime

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"claude-auto/internal/logger"
	"claude-auto/internal/protocol"
	"claude-auto/internal/session"
)

const (
	pingInterval  = 30 * time.Second
	readDeadline  = 60 * time.Second
	writeDeadline = 10 * time.Second

	defaultHistoryCapacity = 1000
	clientSendBuffer       = 256
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Observers are local tools.
	},
}

var (
	errNoSession  = errors.New("session not found")
	errTerminated = errors.New("session already terminated")
)

// Status is the observable state of the supervised session.
type Status struct {
	ID        string    `json:"id"`
	State     string    `json:"state"`
	PID       int       `json:"pid"`
	Command   string    `json:"command"`
	Args      []string  `json:"args"`
	StartedAt time.Time `json:"startedAt"`
	Responses int       `json:"responses"`
	ExitCode  *int      `json:"exitCode,omitempty"`
	Cancelled bool      `json:"cancelled"`
}

// Server implements session.Observer and fans session activity out to
// connected WebSocket clients. Every observer method returns without
// waiting on a client.
type Server struct {
	log    *logger.Logger
	cancel func()

	mu      sync.Mutex
	clients map[*client]bool
	history *history[[]byte]
	status  *Status
}

var _ session.Observer = (*Server)(nil)

type client struct {
	conn   *websocket.Conn
	send   chan []byte
	server *Server
}

// New creates a server. cancel is invoked when an observer asks for the
// session to be stopped.
func New(log *logger.Logger, cancel func()) *Server {
	if log == nil {
		log = logger.Nop()
	}
	return &Server{
		log:     log,
		cancel:  cancel,
		clients: make(map[*client]bool),
		history: newHistory[[]byte](defaultHistoryCapacity),
	}
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("GET /session", s.handleGetSession)
	mux.HandleFunc("DELETE /session", s.handleDeleteSession)

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Close disconnects every client.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		c.conn.Close()
	}
}

// handleWebSocket upgrades the connection, replays the current status and
// the history, then registers the client for live messages. Replay and
// registration happen under one lock so nothing is missed or duplicated.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		conn:   conn,
		send:   make(chan []byte, defaultHistoryCapacity+clientSendBuffer),
		server: s,
	}

	s.mu.Lock()
	if s.status != nil {
		if data, err := s.encodeStatusLocked(); err == nil {
			c.send <- data
		}
	}
	for _, data := range s.history.items() {
		c.send <- data
	}
	s.clients[c] = true
	s.mu.Unlock()

	s.log.Debug("observer connected", zap.String("remote", r.RemoteAddr))

	go c.writePump()
	go c.readPump()
}

// readPump reads messages from the WebSocket connection.
func (c *client) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.log.Debug("websocket read error", zap.Error(err))
			}
			return
		}

		c.server.handleMessage(c, message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) removeClient(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clients[c] {
		delete(s.clients, c)
		close(c.send)
	}
}

// handleMessage processes a client message.
func (s *Server) handleMessage(c *client, raw []byte) {
	msg, err := protocol.ValidateClientMessage(raw)
	if err != nil {
		s.sendError(c, protocol.ErrInvalidMessage, err.Error())
		return
	}

	switch msg.Type {
	case protocol.TypeSessionKill:
		var payload protocol.SessionKillPayload
		json.Unmarshal(msg.Payload, &payload)

		switch err := s.requestCancel(payload.SessionID); {
		case errors.Is(err, errTerminated):
			s.sendError(c, protocol.ErrSessionTerminated, err.Error())
		case err != nil:
			s.sendError(c, protocol.ErrSessionNotFound, err.Error())
		}
	}
}

// requestCancel cancels the session if id names the running one. An empty
// id matches whatever session is current.
func (s *Server) requestCancel(id string) error {
	s.mu.Lock()
	st := s.status
	var state string
	var current string
	if st != nil {
		state, current = st.State, st.ID
	}
	s.mu.Unlock()

	if st == nil || (id != "" && id != current) || s.cancel == nil {
		return errNoSession
	}
	if state == string(session.StateTerminated) {
		return errTerminated
	}

	s.log.Info("session cancel requested by observer", zap.String("session_id", current))
	s.cancel()
	return nil
}

func (s *Server) sendError(c *client, code, message string) {
	data, err := protocol.EncodeError(code, message)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.clients[c] {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// broadcastLocked sends data to every client, dropping it for clients whose
// buffer is full. s.mu must be held.
func (s *Server) broadcastLocked(data []byte) {
	for c := range s.clients {
		select {
		case c.send <- data:
		default:
		}
	}
}

func (s *Server) encodeStatusLocked() ([]byte, error) {
	st := s.status
	return protocol.Encode(protocol.TypeSessionUpdate, protocol.SessionUpdatePayload{
		ID:        st.ID,
		State:     st.State,
		PID:       st.PID,
		Command:   st.Command,
		Args:      st.Args,
		StartedAt: st.StartedAt.Format(time.RFC3339Nano),
		Responses: st.Responses,
	})
}

func (s *Server) publishStatusLocked() {
	data, err := s.encodeStatusLocked()
	if err != nil {
		s.log.Warn("encode session update", zap.Error(err))
		return
	}
	s.broadcastLocked(data)
}

// publish records msgType in the history and broadcasts it.
func (s *Server) publish(msgType string, payload any) {
	data, err := protocol.Encode(msgType, payload)
	if err != nil {
		s.log.Warn("encode message", zap.String("type", msgType), zap.Error(err))
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history.add(data)
	s.broadcastLocked(data)
}

// SessionStarted implements session.Observer.
func (s *Server) SessionStarted(info session.Info) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = &Status{
		ID:        info.ID,
		State:     string(session.StateRunning),
		PID:       info.PID,
		Command:   info.Command,
		Args:      info.Args,
		StartedAt: info.StartedAt,
	}
	s.publishStatusLocked()
}

// StateChanged implements session.Observer.
func (s *Server) StateChanged(sessionID string, state session.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == nil || s.status.ID != sessionID {
		return
	}
	s.status.State = string(state)
	s.publishStatusLocked()
}

// Output implements session.Observer.
func (s *Server) Output(event session.OutputEvent) {
	s.publish(protocol.TypeSessionOutput, protocol.SessionOutputPayload{
		SessionID: event.SessionID,
		Stream:    string(event.Stream),
		Data:      event.Data,
	})
}

// Responded implements session.Observer.
func (s *Server) Responded(event session.ResponseEvent) {
	s.mu.Lock()
	if s.status != nil && s.status.ID == event.SessionID {
		s.status.Responses++
	}
	s.mu.Unlock()

	s.publish(protocol.TypeSessionResponse, protocol.SessionResponsePayload{
		SessionID: event.SessionID,
		Response:  event.Response,
		Pattern:   event.Pattern,
		Source:    event.Source,
	})
}

// Exited implements session.Observer.
func (s *Server) Exited(sessionID string, exitCode int, cancelled bool) {
	s.mu.Lock()
	if s.status != nil && s.status.ID == sessionID {
		s.status.ExitCode = &exitCode
		s.status.Cancelled = cancelled
	}
	s.mu.Unlock()

	s.publish(protocol.TypeSessionTerminated, protocol.SessionTerminatedPayload{
		SessionID: sessionID,
		ExitCode:  exitCode,
		Cancelled: cancelled,
	})
}

// Snapshot returns a copy of the current status, or nil before a session
// has started.
func (s *Server) Snapshot() *Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == nil {
		return nil
	}
	st := *s.status
	st.Args = append([]string(nil), s.status.Args...)
	if s.status.ExitCode != nil {
		code := *s.status.ExitCode
		st.ExitCode = &code
	}
	return &st
}
