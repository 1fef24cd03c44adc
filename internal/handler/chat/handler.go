package chat

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	historyModel "github.com/fengnong/fengnong-agent/backend/internal/model/history"
	aiService "github.com/fengnong/fengnong-agent/backend/internal/service/ai"
	chatService "github.com/fengnong/fengnong-agent/backend/internal/service/chat"
	historyService "github.com/fengnong/fengnong-agent/backend/internal/service/history"
	"github.com/fengnong/fengnong-agent/backend/pkg/utils"
)

const (
	defaultMessage   = "Tell me a joke"
	defaultSessionID = int64(1)
)

// Completer runs a single-shot completion.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userMessage string) (string, error)
}

// Embedder converts text to a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Streamer runs history-augmented streaming exchanges.
type Streamer interface {
	Stream(ctx context.Context, sessionID int64, message string) (*chatService.Reply, error)
	History(ctx context.Context, sessionID int64) ([]historyModel.Turn, error)
}

// Handler serves the /ai endpoints.
type Handler struct {
	completer      Completer
	embedder       Embedder
	streamer       Streamer
	generatePrompt string
	embeddingModel string
}

// Options carries the handler's collaborators and fixed prompts.
type Options struct {
	Completer      Completer
	Embedder       Embedder
	Streamer       Streamer
	GeneratePrompt string
	EmbeddingModel string
}

// New 创建聊天处理器
func New(opts Options) *Handler {
	return &Handler{
		completer:      opts.Completer,
		embedder:       opts.Embedder,
		streamer:       opts.Streamer,
		generatePrompt: opts.GeneratePrompt,
		embeddingModel: opts.EmbeddingModel,
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/generate", h.handleGenerate)
	r.Get("/generateStream", h.handleGenerateStream)
	r.Get("/embedding", h.handleEmbedding)
	r.Get("/history", h.handleHistory)
}

// EmbeddingResult is one vector of an embedding response.
type EmbeddingResult struct {
	Index  int       `json:"index"`
	Output []float32 `json:"output"`
}

// EmbeddingResponse mirrors the provider response: one result per input.
type EmbeddingResponse struct {
	Results  []EmbeddingResult `json:"results"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// handleGenerate 单轮问答
func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	message := messageParam(r)

	content, err := h.completer.Complete(r.Context(), h.generatePrompt, message)
	if err != nil {
		respondServiceError(w, "generate", err)
		return
	}

	utils.RespondText(w, http.StatusOK, content)
}

// handleGenerateStream 流式输出，并读写会话历史
func (h *Handler) handleGenerateStream(w http.ResponseWriter, r *http.Request) {
	message := messageParam(r)
	sessionID, err := sessionIDParam(r)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	reply, err := h.streamer.Stream(r.Context(), sessionID, message)
	if err != nil {
		respondServiceError(w, "generateStream", err)
		return
	}

	if wantsEventStream(r) {
		h.writeEventStream(w, flusher, reply)
		return
	}

	utils.SetupChunkedTextHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	writeFailed := false
	for fragment := range reply.Fragments() {
		if writeFailed {
			continue
		}
		if err := utils.WriteChunk(w, flusher, fragment); err != nil {
			// keep draining until the producer sees the canceled context
			writeFailed = true
			log.Debug().Err(err).Str("stream", reply.ID).Msg("client stopped reading")
		}
	}
	if err := reply.Err(); err != nil {
		log.Warn().Err(err).Str("stream", reply.ID).Int64("session", sessionID).Msg("stream terminated early")
		// 中断连接，不写结束块，客户端读到 unexpected EOF
		panic(http.ErrAbortHandler)
	}
}

func (h *Handler) writeEventStream(w http.ResponseWriter, flusher http.Flusher, reply *chatService.Reply) {
	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	sessionID := strconv.FormatInt(reply.SessionID, 10)
	writeFailed := utils.SendSSEEvent(w, flusher, "start", map[string]string{"sessionId": sessionID, "stream": reply.ID}) != nil

	for fragment := range reply.Fragments() {
		if writeFailed {
			continue
		}
		if err := utils.SendSSEEvent(w, flusher, "delta", map[string]string{"content": fragment}); err != nil {
			writeFailed = true
		}
	}
	if writeFailed {
		return
	}

	if err := reply.Err(); err != nil {
		log.Warn().Err(err).Str("stream", reply.ID).Msg("stream terminated early")
		_ = utils.SendSSEEvent(w, flusher, "error", map[string]string{"error": err.Error()})
		return
	}
	_ = utils.SendSSEEvent(w, flusher, "end", map[string]any{"sessionId": sessionID, "finished": true})
}

// handleEmbedding 向量化
func (h *Handler) handleEmbedding(w http.ResponseWriter, r *http.Request) {
	message := messageParam(r)

	vector, err := h.embedder.Embed(r.Context(), message)
	if err != nil {
		respondServiceError(w, "embedding", err)
		return
	}

	resp := EmbeddingResponse{Results: []EmbeddingResult{{Index: 0, Output: vector}}}
	if h.embeddingModel != "" {
		resp.Metadata = map[string]string{"model": h.embeddingModel}
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"embedding": resp})
}

// handleHistory 查询会话记录
func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID, err := sessionIDParam(r)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	turns, err := h.streamer.History(r.Context(), sessionID)
	if err != nil {
		respondServiceError(w, "history", err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, turns)
}

func messageParam(r *http.Request) string {
	if message := r.URL.Query().Get("message"); message != "" {
		return message
	}
	return defaultMessage
}

func sessionIDParam(r *http.Request) (int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("sessionId"))
	if raw == "" {
		return defaultSessionID, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, errors.Errorf("invalid sessionId %q", raw)
	}
	return id, nil
}

func wantsEventStream(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

func respondServiceError(w http.ResponseWriter, op string, err error) {
	status := http.StatusInternalServerError
	message := "internal error"
	switch {
	case errors.Is(err, historyService.ErrPersistence):
		message = "failed to persist chat history"
	case errors.Is(err, aiService.ErrUpstream):
		status = http.StatusBadGateway
		message = "model provider request failed"
	}

	log.Error().Err(err).Str("op", op).Int("status", status).Msg("request failed")
	utils.RespondError(w, status, message)
}
