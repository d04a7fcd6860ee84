package gemini

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "github.com/kart-io/docchat/pkg/errors"
	"github.com/kart-io/docchat/pkg/llm"
	"github.com/kart-io/docchat/pkg/utils/json"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := DefaultConfig()
	cfg.BaseURL = server.URL
	cfg.APIKey = "test-key"
	cfg.MaxRetries = 0
	cfg.Timeout = 5 * time.Second
	return NewProviderWithConfig(cfg)
}

func TestNewProvider_RequiresAPIKey(t *testing.T) {
	_, err := llm.NewProvider(ProviderName, map[string]any{})
	assert.Error(t, err)

	p, err := llm.NewProvider(ProviderName, map[string]any{"api_key": "k", "chat_model": "gemini-pro"})
	require.NoError(t, err)
	assert.Equal(t, "gemini-pro", llm.ChatModelOf(p))
	assert.Equal(t, "embedding-001", llm.EmbeddingModelOf(p))
}

func TestEmbed(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/embedding-001:batchEmbedContents", r.URL.Path)
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))

		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Requests, 2)
		assert.Equal(t, "models/embedding-001", req.Requests[0].Model)

		_, _ = io.WriteString(w, `{"embeddings":[{"values":[1,0]},{"values":[0,1]}]}`)
	})

	vecs, err := p.Embed(context.Background(), []string{"alpha", "beta"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, vecs)
}

func TestEmbed_CountMismatch(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"embeddings":[{"values":[1,0]}]}`)
	})

	_, err := p.Embed(context.Background(), []string{"alpha", "beta"})
	assert.ErrorIs(t, err, errs.ErrProviderFailure)
}

func TestGenerate_SendsGenerationConfig(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/models/gemini-1.5-flash-002:generateContent"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotNil(t, req.GenerationConfig)
		assert.Equal(t, 0.7, req.GenerationConfig.Temperature)
		assert.Equal(t, 3, req.GenerationConfig.TopK)
		assert.Equal(t, 0.8, req.GenerationConfig.TopP)
		assert.Equal(t, 1024, req.GenerationConfig.MaxOutputTokens)
		require.NotNil(t, req.SystemInstruction)
		assert.Equal(t, "be brief", req.SystemInstruction.Parts[0].Text)
		assert.Equal(t, "user", req.Contents[0].Role)

		_, _ = io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":"Hello "},{"text":"there"}]}}]}`)
	})

	text, err := p.Generate(context.Background(), "hi", "be brief")
	require.NoError(t, err)
	assert.Equal(t, "Hello there", text)
}

func TestGenerate_NoCandidates(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"candidates":[]}`)
	})

	text, err := p.Generate(context.Background(), "hi", "")
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestGenerate_ResourceExhausted(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"code":429,"status":"RESOURCE_EXHAUSTED"}}`)
	})

	_, err := p.Generate(context.Background(), "hi", "")
	assert.True(t, errs.IsResourceExhausted(err))
}
