package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sevigo/policyrag/llms"
	"github.com/sevigo/policyrag/schema"
)

type fakeServer struct {
	modelPresent atomic.Bool
	showCalls    atomic.Int32
	pullCalls    atomic.Int32
	lastChat     chan map[string]any
}

func (f *fakeServer) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/show", func(w http.ResponseWriter, r *http.Request) {
		f.showCalls.Add(1)
		if !f.modelPresent.Load() {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"model not found"}`))
			return
		}
		_, _ = w.Write([]byte(`{}`))
	})
	mux.HandleFunc("/api/pull", func(w http.ResponseWriter, r *http.Request) {
		f.pullCalls.Add(1)
		f.modelPresent.Store(true)
		_, _ = w.Write([]byte("{\"status\":\"pulling\",\"total\":10,\"completed\":5}\n{\"status\":\"success\"}\n"))
	})
	mux.HandleFunc("/api/embed", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		vectors := make([][]float32, len(req.Input))
		for i := range req.Input {
			vectors[i] = []float32{float32(i + 1), 0}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": vectors})
	})
	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if f.lastChat != nil {
			f.lastChat <- req
		}
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"You get 20 days."},"done":true,"done_reason":"stop","eval_count":5,"prompt_eval_count":7}` + "\n"))
	})
	return mux
}

func newTestLLM(t *testing.T, f *fakeServer, opts ...Option) *LLM {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)

	llm, err := New(append([]Option{WithModel("llama3.2"), WithServerURL(srv.URL)}, opts...)...)
	require.NoError(t, err)
	return llm
}

func TestNew_RequiresModel(t *testing.T) {
	_, err := New()
	require.Error(t, err)
	assert.True(t, errors.Is(err, schema.ErrConfig))
}

func TestGenerateContent(t *testing.T) {
	f := &fakeServer{lastChat: make(chan map[string]any, 1)}
	f.modelPresent.Store(true)
	llm := newTestLLM(t, f)

	temp := 0.2
	resp, err := llm.GenerateContent(context.Background(), []schema.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, "Answer from policy."),
		llms.TextParts(schema.ChatMessageTypeHuman, "How many vacation days?"),
	}, llms.WithTemperature(temp), llms.WithMaxTokens(64))
	require.NoError(t, err)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "You get 20 days.", resp.Choices[0].Content)
	assert.Equal(t, "stop", resp.Choices[0].StopReason)
	assert.Equal(t, 12, resp.Choices[0].GenerationInfo["TotalTokens"])

	req := <-f.lastChat
	assert.Equal(t, "llama3.2", req["model"])
	assert.Equal(t, false, req["stream"])
	messages, ok := req["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].(map[string]any)["role"])
	options, ok := req["options"].(map[string]any)
	require.True(t, ok)
	assert.InDelta(t, 0.2, options["temperature"], 1e-9)
	assert.InDelta(t, 64, options["num_predict"], 1e-9)
}

func TestGenerateContent_NoMessages(t *testing.T) {
	f := &fakeServer{}
	f.modelPresent.Store(true)
	llm := newTestLLM(t, f)
	_, err := llm.GenerateContent(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoMessages)
}

func TestEmbedDocuments(t *testing.T) {
	f := &fakeServer{}
	f.modelPresent.Store(true)
	llm := newTestLLM(t, f)

	vectors, err := llm.EmbedDocuments(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {2, 0}, {3, 0}}, vectors)

	_, err = llm.EmbedQuery(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.showCalls.Load(), "model presence is checked once")
}

func TestEnsureModel(t *testing.T) {
	t.Run("missing model without pull", func(t *testing.T) {
		f := &fakeServer{}
		llm := newTestLLM(t, f)

		_, err := llm.EmbedDocuments(context.Background(), []string{"a"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, schema.ErrProvider))
		assert.Equal(t, int32(0), f.pullCalls.Load())
	})

	t.Run("missing model is pulled", func(t *testing.T) {
		f := &fakeServer{}
		llm := newTestLLM(t, f, WithPullMissing(true))

		require.NoError(t, llm.EnsureModel(context.Background()))
		assert.Equal(t, int32(1), f.pullCalls.Load())

		require.NoError(t, llm.EnsureModel(context.Background()))
		assert.Equal(t, int32(1), f.showCalls.Load())
	})
}
