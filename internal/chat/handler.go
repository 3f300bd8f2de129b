package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"github.com/heartclinic/clinic-assistant/internal/assistant"
	"github.com/heartclinic/clinic-assistant/internal/identity"
	"github.com/heartclinic/clinic-assistant/pkg/logging"
)

// Responder turns one utterance into assistant replies.
type Responder interface {
	Reply(ctx context.Context, subject identity.Subject, sess *assistant.Session, utterance string) []string
}

// Handler owns the live chat sessions. Sessions are keyed by subject ID so a
// patient resumes the same conversation from any tab or transport, and each
// session processes utterances one at a time under its own lock.
type Handler struct {
	responder  Responder
	transcript *TranscriptStore
	logger     *logging.Logger

	mu       sync.RWMutex
	sessions map[string]*sessionEntry
}

type sessionEntry struct {
	mu   sync.Mutex
	sess *assistant.Session
}

// InboundMessage is what the chat widget sends over the WebSocket.
type InboundMessage struct {
	Type string `json:"type"` // "message", "ping"
	Text string `json:"text"`
}

// OutboundMessage is what we send back to the widget.
type OutboundMessage struct {
	Type      string           `json:"type"` // "message", "history", "pong", "error"
	Role      string           `json:"role,omitempty"`
	Text      string           `json:"text,omitempty"`
	Timestamp string           `json:"timestamp,omitempty"`
	Messages  []HistoryMessage `json:"messages,omitempty"`
}

// HistoryMessage is a transcript line for history responses.
type HistoryMessage struct {
	Role      string `json:"role"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

// NewHandler builds the chat handler. transcript may be nil.
func NewHandler(responder Responder, transcript *TranscriptStore, logger *logging.Logger) *Handler {
	if responder == nil {
		panic("chat: responder required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		responder:  responder,
		transcript: transcript,
		logger:     logger,
		sessions:   make(map[string]*sessionEntry),
	}
}

// session returns the subject's live session, creating it on first contact.
// Creation reports whether the session is new so callers can greet.
func (h *Handler) session(subjectID string) (*sessionEntry, bool) {
	h.mu.RLock()
	entry, ok := h.sessions[subjectID]
	h.mu.RUnlock()
	if ok {
		return entry, false
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if entry, ok := h.sessions[subjectID]; ok {
		return entry, false
	}
	entry = &sessionEntry{sess: assistant.NewSession(subjectID)}
	h.sessions[subjectID] = entry
	return entry, true
}

// process runs one utterance through the assistant under the session lock and
// persists both sides of the exchange.
func (h *Handler) process(ctx context.Context, subject identity.Subject, text string) []string {
	entry, fresh := h.session(subject.ID)

	entry.mu.Lock()
	replies := h.responder.Reply(ctx, subject, entry.sess, text)
	entry.mu.Unlock()

	if h.transcript != nil {
		h.persist(ctx, subject.ID, "user", text)
		for _, reply := range replies {
			h.persist(ctx, subject.ID, "assistant", reply)
		}
	}

	if fresh {
		replies = append([]string{assistant.WelcomeMessage}, replies...)
	}
	return replies
}

func (h *Handler) persist(ctx context.Context, subjectID, role, text string) {
	err := h.transcript.Append(ctx, subjectID, TranscriptMessage{
		Role:      role,
		Text:      text,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		h.logger.Warn("chat: transcript append failed", "subject_id", subjectID, "error", err)
	}
}

// HandleMessage is the HTTP transport: POST /chat/message with {"text": ...}.
func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	subject, ok := identity.SubjectFromContext(r.Context())
	if !ok {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		http.Error(w, "text is required", http.StatusBadRequest)
		return
	}

	replies := h.process(r.Context(), subject, req.Text)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"replies": replies,
	})
}

// HandleHistory returns the persisted transcript: GET /chat/history?limit=N.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	subject, ok := identity.SubjectFromContext(r.Context())
	if !ok {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	limit := int64(50)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 1 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	msgs, err := h.transcript.List(r.Context(), subject.ID, limit)
	if err != nil {
		h.logger.Error("chat: transcript list failed", "subject_id", subject.ID, "error", err)
		http.Error(w, "failed to load history", http.StatusInternalServerError)
		return
	}

	history := make([]HistoryMessage, 0, len(msgs))
	for _, m := range msgs {
		history = append(history, HistoryMessage{
			Role:      m.Role,
			Text:      m.Text,
			Timestamp: m.Timestamp.Format(time.RFC3339),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"messages": history,
	})
}

// HandleWebSocket upgrades to WebSocket for real-time chat.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	subject, ok := identity.SubjectFromContext(r.Context())
	if !ok {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}
	websocket.Handler(func(conn *websocket.Conn) {
		h.serveWS(conn, r, subject)
	}).ServeHTTP(w, r)
}

func (h *Handler) serveWS(conn *websocket.Conn, r *http.Request, subject identity.Subject) {
	// Replay recent history so a reconnecting tab sees the conversation.
	if msgs, err := h.transcript.List(r.Context(), subject.ID, 50); err == nil && len(msgs) > 0 {
		history := make([]HistoryMessage, 0, len(msgs))
		for _, m := range msgs {
			history = append(history, HistoryMessage{
				Role:      m.Role,
				Text:      m.Text,
				Timestamp: m.Timestamp.Format(time.RFC3339),
			})
		}
		_ = websocket.JSON.Send(conn, OutboundMessage{Type: "history", Messages: history})
	}

	if _, fresh := h.session(subject.ID); fresh {
		h.send(conn, assistant.WelcomeMessage)
	}

	h.logger.Info("chat: connection opened", "subject_id", subject.ID)

	for {
		var msg InboundMessage
		if err := websocket.JSON.Receive(conn, &msg); err != nil {
			h.logger.Debug("chat: connection closed", "subject_id", subject.ID, "error", err)
			return
		}

		if msg.Type == "ping" {
			_ = websocket.JSON.Send(conn, OutboundMessage{Type: "pong"})
			continue
		}
		if msg.Type != "message" || strings.TrimSpace(msg.Text) == "" {
			continue
		}

		entry, _ := h.session(subject.ID)
		entry.mu.Lock()
		replies := h.responder.Reply(r.Context(), subject, entry.sess, msg.Text)
		entry.mu.Unlock()

		if h.transcript != nil {
			h.persist(r.Context(), subject.ID, "user", msg.Text)
			for _, reply := range replies {
				h.persist(r.Context(), subject.ID, "assistant", reply)
			}
		}
		for _, reply := range replies {
			h.send(conn, reply)
		}
	}
}

func (h *Handler) send(conn *websocket.Conn, text string) {
	_ = websocket.JSON.Send(conn, OutboundMessage{
		Type:      "message",
		Role:      "assistant",
		Text:      text,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
