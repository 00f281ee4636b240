// Package websocket exposes the conversation controller over a gorilla
// WebSocket endpoint: one socket per session carrying presentation segments,
// question answers, and playback control commands.
package websocket

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"presentkit/conversation"
	"presentkit/core"
	"presentkit/playback"
	"presentkit/protocol"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
)

// ServerConfig tunes the WebSocket endpoint.
type ServerConfig struct {
	// ReadLimitBytes caps inbound message size.
	ReadLimitBytes int64 `json:"read_limit_bytes"`
	// WriteTimeoutSeconds bounds each outbound write.
	WriteTimeoutSeconds int `json:"write_timeout_seconds"`
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ReadLimitBytes:      1 << 20,
		WriteTimeoutSeconds: 10,
	}
}

// Transcriber converts base64-encoded audio into text. Implementations call
// an external speech service.
type Transcriber interface {
	Transcribe(ctx context.Context, audio string) (string, error)
}

// Session is one connected WebSocket client. Writes are serialized under its
// lock because playback tasks and the read loop send concurrently.
type Session struct {
	conversationID string
	conn           *websocket.Conn
	writeTimeout   time.Duration

	mu sync.Mutex
}

// Send encodes and writes one envelope. It implements playback.Sender.
func (s *Session) Send(env protocol.ResponseEnvelope) error {
	data, err := protocol.EncodeEnvelope(env)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return fmt.Errorf("websocket: set deadline: %w", err)
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("websocket: write: %w", err)
	}
	return nil
}

// Server serves session creation and the per-session WebSocket channel.
type Server struct {
	controller  *conversation.Controller
	commands    *conversation.CommandHandler
	driver      *playback.Driver
	tasks       *playback.TaskRegistry
	transcriber Transcriber
	onClose     func(conversationID string)
	config      ServerConfig
	logger      *core.Logger
	upgrader    websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewServer wires the controller's outbound path to connected sessions and
// builds the command handler around the shared playback task registry.
func NewServer(controller *conversation.Controller, driver *playback.Driver, tasks *playback.TaskRegistry, config ServerConfig, logger *core.Logger) *Server {
	if config.ReadLimitBytes <= 0 {
		config.ReadLimitBytes = DefaultServerConfig().ReadLimitBytes
	}
	if config.WriteTimeoutSeconds <= 0 {
		config.WriteTimeoutSeconds = DefaultServerConfig().WriteTimeoutSeconds
	}
	if logger == nil {
		logger = core.GetLogger()
	}

	s := &Server{
		controller: controller,
		driver:     driver,
		tasks:      tasks,
		config:     config,
		logger:     logger.With(map[string]any{"component": "websocket"}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		sessions: make(map[string]*Session),
	}
	s.commands = conversation.NewCommandHandler(controller, tasks, s.StartPlayback, logger)
	controller.SetTransport(s.Emit, s.StartPlayback)
	return s
}

// WithTranscriber attaches a speech-to-text backend for audio messages.
func (s *Server) WithTranscriber(t Transcriber) *Server {
	s.transcriber = t
	return s
}

// WithCloseHook registers a callback invoked after a session's socket
// closes, once its playback task has stopped.
func (s *Server) WithCloseHook(fn func(conversationID string)) *Server {
	s.onClose = fn
	return s
}

// Emit sends a server-initiated envelope to a session's socket.
func (s *Server) Emit(conversationID string, env protocol.ResponseEnvelope) error {
	s.mu.Lock()
	session, ok := s.sessions[conversationID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("websocket: no session for conversation %q", conversationID)
	}
	return session.Send(env)
}

// StartPlayback launches a playback task streaming to the session's socket,
// replacing any running one. Returns false when the session is not
// connected.
func (s *Server) StartPlayback(conversationID string) bool {
	s.mu.Lock()
	session, ok := s.sessions[conversationID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	s.tasks.Start(conversationID, func(ctx context.Context) {
		s.driver.Run(ctx, conversationID, session)
	})
	return true
}

// Routes returns the HTTP mux for the transport.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/conversation/start", s.HandleStart)
	mux.HandleFunc("/ws/", s.HandleConversation)
	return mux
}

// HandleStart creates a new conversation and returns its id.
func (s *Server) HandleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	conversationID := s.controller.CreateConversation()
	body, err := sonic.Marshal(map[string]string{"conversation_id": conversationID})
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

// HandleConversation upgrades /ws/{conversation_id} and runs the session's
// read loop. Presentation playback starts as soon as the socket is up.
func (s *Server) HandleConversation(w http.ResponseWriter, r *http.Request) {
	conversationID := strings.TrimPrefix(r.URL.Path, "/ws/")
	if conversationID == "" {
		http.Error(w, "missing conversation id", http.StatusBadRequest)
		return
	}
	if _, err := s.controller.State(conversationID); err != nil {
		http.Error(w, "conversation not found", http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("upgrade failed", "conversation_id", conversationID, "error", err)
		return
	}
	conn.SetReadLimit(s.config.ReadLimitBytes)

	session := &Session{
		conversationID: conversationID,
		conn:           conn,
		writeTimeout:   time.Duration(s.config.WriteTimeoutSeconds) * time.Second,
	}

	s.mu.Lock()
	s.sessions[conversationID] = session
	s.mu.Unlock()

	logger := s.logger.With(map[string]any{"conversation_id": conversationID})
	logger.Info("session connected")

	s.StartPlayback(conversationID)
	s.readLoop(r.Context(), session, logger)

	s.tasks.Cancel(conversationID)
	s.mu.Lock()
	if s.sessions[conversationID] == session {
		delete(s.sessions, conversationID)
	}
	s.mu.Unlock()
	_ = conn.Close()
	if s.onClose != nil {
		s.onClose(conversationID)
	}
	logger.Info("session closed")
}

func (s *Server) readLoop(ctx context.Context, session *Session, logger *core.Logger) {
	for {
		_, data, err := session.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("read failed", "error", err)
			}
			return
		}

		msg, err := protocol.DecodeClientMessage(data)
		if err != nil {
			logger.Warn("malformed client message", "error", err)
			s.sendError(session, "Sorry, I couldn't understand that message.")
			continue
		}

		if msg.Command != "" {
			s.commands.Handle(session.conversationID, msg.Command)
			continue
		}

		text := msg.Text
		if text == "" && msg.Audio != "" {
			if s.transcriber == nil {
				s.sendError(session, "Audio messages are not supported.")
				continue
			}
			text, err = s.transcriber.Transcribe(ctx, msg.Audio)
			if err != nil {
				logger.Error("transcription failed", "error", err)
				s.sendError(session, "Sorry, I couldn't hear that. Could you try again?")
				continue
			}
		}
		if strings.TrimSpace(text) == "" {
			continue
		}

		// Stop the playback task promptly; the controller's interrupt
		// bookkeeping would halt it on its next poll anyway.
		if s.controller.PresentationActive(session.conversationID) {
			s.tasks.Cancel(session.conversationID)
		}

		env, err := s.controller.HandleMessage(ctx, session.conversationID, text)
		if err != nil {
			logger.Error("message handling failed", "error", err)
			s.sendError(session, "Something went wrong handling your question.")
			continue
		}
		if err := session.Send(env); err != nil {
			logger.Error("answer send failed", "error", err)
			return
		}
	}
}

func (s *Server) sendError(session *Session, text string) {
	_ = session.Send(protocol.ResponseEnvelope{
		Type: protocol.EnvelopeError,
		Text: text,
	})
}
