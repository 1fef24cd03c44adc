package stream

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	chatService "github.com/fengnong/fengnong-agent/backend/internal/service/chat"
	historyService "github.com/fengnong/fengnong-agent/backend/internal/service/history"
)

const (
	defaultSessionID = int64(1)
	writeTimeout     = 10 * time.Second
)

// Streamer runs history-augmented streaming exchanges.
type Streamer interface {
	Stream(ctx context.Context, sessionID int64, message string) (*chatService.Reply, error)
}

// Handler serves streaming chat over a websocket. Each inbound request is a
// full exchange; requests on one connection are handled in order.
type Handler struct {
	streamer Streamer
	upgrader websocket.Upgrader
}

// New creates a websocket stream handler.
func New(streamer Streamer) *Handler {
	return &Handler{
		streamer: streamer,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

// RegisterRoutes mounts the websocket endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
}

// Request is one chat message sent by the client. A missing sessionId
// selects session 1, matching /ai/generateStream; 0 is a valid session.
type Request struct {
	Message   string `json:"message"`
	SessionID *int64 `json:"sessionId,omitempty"`
}

// StreamResponse represents a streaming response frame
type StreamResponse struct {
	Event     string `json:"event"`
	Content   string `json:"content,omitempty"`
	SessionID int64  `json:"sessionId,omitempty"`
	Stream    string `json:"stream,omitempty"`
	Finished  bool   `json:"finished,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	requests := make(chan Request)
	go func() {
		// the read side owns cancellation: a closed socket aborts the
		// exchange in flight
		defer cancel()
		defer close(requests)
		for {
			var req Request
			if err := conn.ReadJSON(&req); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Debug().Err(err).Msg("websocket read ended")
				}
				return
			}
			select {
			case requests <- req:
			case <-ctx.Done():
				return
			}
		}
	}()

	for req := range requests {
		if err := h.serveExchange(ctx, conn, req); err != nil {
			log.Debug().Err(err).Msg("websocket write failed")
			return
		}
	}
}

func (h *Handler) serveExchange(ctx context.Context, conn *websocket.Conn, req Request) error {
	if req.Message == "" {
		return writeFrame(conn, StreamResponse{Event: "error", Error: "message is required"})
	}
	sessionID := defaultSessionID
	if req.SessionID != nil {
		sessionID = *req.SessionID
	}

	reply, err := h.streamer.Stream(ctx, sessionID, req.Message)
	if err != nil {
		msg := "streaming failed"
		if errors.Is(err, historyService.ErrPersistence) {
			msg = "failed to persist chat history"
		}
		log.Error().Err(err).Int64("session", sessionID).Msg("websocket exchange failed")
		return writeFrame(conn, StreamResponse{Event: "error", SessionID: sessionID, Error: msg})
	}

	var writeErr error
	if writeErr = writeFrame(conn, StreamResponse{Event: "start", SessionID: sessionID, Stream: reply.ID}); writeErr != nil {
		// still drain below so the producer can finish
		log.Debug().Err(writeErr).Msg("failed to write start frame")
	}
	for fragment := range reply.Fragments() {
		if writeErr != nil {
			continue
		}
		writeErr = writeFrame(conn, StreamResponse{Event: "delta", SessionID: sessionID, Content: fragment})
	}
	if writeErr != nil {
		return writeErr
	}

	if err := reply.Err(); err != nil {
		return writeFrame(conn, StreamResponse{Event: "error", SessionID: sessionID, Stream: reply.ID, Error: err.Error()})
	}
	return writeFrame(conn, StreamResponse{Event: "end", SessionID: sessionID, Stream: reply.ID, Finished: true})
}

func writeFrame(conn *websocket.Conn, frame StreamResponse) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(frame)
}
