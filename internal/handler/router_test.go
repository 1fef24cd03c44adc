package handler

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fengnong/fengnong-agent/backend/internal/metrics"
	historyModel "github.com/fengnong/fengnong-agent/backend/internal/model/history"
	personaModel "github.com/fengnong/fengnong-agent/backend/internal/model/persona"
	"github.com/fengnong/fengnong-agent/backend/internal/service/ai"
	chatService "github.com/fengnong/fengnong-agent/backend/internal/service/chat"
	historyService "github.com/fengnong/fengnong-agent/backend/internal/service/history"
)

type eofStream struct{}

func (eofStream) Recv() (string, error) { return "", io.EOF }
func (eofStream) Close()                {}

type stubAI struct {
	prompt string
}

func (s *stubAI) Complete(_ context.Context, systemPrompt, _ string) (string, error) {
	s.prompt = systemPrompt
	return "ok", nil
}

func (s *stubAI) Embed(context.Context, string) ([]float32, error) {
	return []float32{1}, nil
}

func (s *stubAI) StreamComplete(context.Context, string, string, []historyModel.Turn) (ai.FragmentStream, error) {
	return eofStream{}, nil
}

func get(h http.Handler, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestRouterWiresAIRoutes(t *testing.T) {
	client := &stubAI{}
	svc, err := chatService.NewService(historyService.NewMemoryStore(), client, chatService.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	m := metrics.New()
	router := NewRouter(Deps{
		Personas: personaModel.NewMemoryStore(personaModel.Seed()),
		AI:       client,
		Chat:     svc,
		Metrics:  m,
	})

	rec := get(router, "/ai/generate?message=hi")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
	assert.Equal(t, "你是java大师", client.prompt)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	assert.Equal(t, http.StatusOK, get(router, "/healthz").Code)
	assert.Equal(t, http.StatusOK, get(router, "/ai/personas").Code)

	metricsBody := get(router, "/metrics").Body.String()
	assert.Contains(t, metricsBody, `route="/ai/generate"`)
}

func TestRouterWithoutAI(t *testing.T) {
	router := NewRouter(Deps{Personas: personaModel.NewMemoryStore(personaModel.Seed())})

	rec := get(router, "/ai/generateStream")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, http.StatusOK, get(router, "/ai/personas").Code)
	assert.Equal(t, http.StatusNotFound, get(router, "/metrics").Code)
}
