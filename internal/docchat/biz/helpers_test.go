package biz

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kart-io/docchat/internal/docchat/metrics"
	"github.com/kart-io/docchat/internal/docchat/store"
	"github.com/kart-io/docchat/pkg/infra/pool"
	"github.com/kart-io/docchat/pkg/llm"
	"github.com/kart-io/docchat/pkg/llm/resilience"
)

// keywordEmbed 按关键词出现次数生成单位向量：cat、dog、fish 各占一维，都不出现时落在第四维。
func keywordEmbed(text string) []float32 {
	lower := strings.ToLower(text)
	v := []float32{
		float32(strings.Count(lower, "cat")),
		float32(strings.Count(lower, "dog")),
		float32(strings.Count(lower, "fish")),
		0,
	}
	var norm float64
	for _, x := range v {
		norm += float64(x * x)
	}
	if norm == 0 {
		return []float32{0, 0, 0, 1}
	}
	n := float32(math.Sqrt(norm))
	for i := range v {
		v[i] /= n
	}
	return v
}

type fakeEmbedder struct {
	mu    sync.Mutex
	model string
	calls int
	texts []string
	err   func(call int) error
}

func (f *fakeEmbedder) Name() string           { return "fake" }
func (f *fakeEmbedder) EmbeddingModel() string { return f.model }
func (f *fakeEmbedder) ChatModel() string      { return "" }

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.texts = append(f.texts, texts...)
	f.mu.Unlock()

	if f.err != nil {
		if err := f.err(call); err != nil {
			return nil, err
		}
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = keywordEmbed(t)
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	v, err := f.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func (f *fakeEmbedder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeChat struct {
	mu      sync.Mutex
	prompts []string
	reply   func(call int, prompt string) (string, error)
}

func (f *fakeChat) Name() string { return "fake" }

func (f *fakeChat) Chat(ctx context.Context, messages []llm.Message) (string, error) {
	var sb strings.Builder
	for _, m := range messages {
		sb.WriteString(m.Content)
	}
	return f.Generate(ctx, sb.String(), "")
}

func (f *fakeChat) Generate(_ context.Context, prompt, _ string) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	call := len(f.prompts)
	f.mu.Unlock()

	if f.reply == nil {
		return "ok", nil
	}
	return f.reply(call, prompt)
}

func (f *fakeChat) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts...)
}

// testEnv 使用本地后端和临时目录组装的完整环境。
type testEnv struct {
	root     string
	registry *Registry
	embedder *fakeEmbedder
	chat     *fakeChat
	gateway  *Gateway
	metrics  *metrics.Metrics
	sleeps   *sleepRecorder
	pool     *pool.Pool
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	root := t.TempDir()

	cfg := RegistryConfig{
		IndexDir:     filepath.Join(root, "vector_stores"),
		MetadataDir:  filepath.Join(root, "metadata"),
		DocumentsDir: filepath.Join(root, "media", "documents"),
	}
	m := metrics.New()
	sleeps := &sleepRecorder{}

	retry := resilience.ExhaustionRetryConfig()
	retry.Sleep = sleeps.sleep

	embedder := &fakeEmbedder{model: "fake-embed-v1"}
	chat := &fakeChat{}

	p, err := pool.NewPool("test-embed", pool.EmbeddingPool, pool.EmbeddingPoolConfig(2))
	require.NoError(t, err)
	t.Cleanup(p.Release)

	return &testEnv{
		root:     root,
		registry: NewRegistry(cfg, store.NewLocalBackend(cfg.IndexDir)),
		embedder: embedder,
		chat:     chat,
		gateway:  NewGateway(embedder, chat, WithRetry(retry), WithGatewayMetrics(m)),
		metrics:  m,
		sleeps:   sleeps,
		pool:     p,
	}
}

func (e *testEnv) ingestor(t *testing.T, cfg IngestConfig) *Ingestor {
	t.Helper()
	in, err := NewIngestor(e.registry, e.gateway, e.pool, cfg, e.metrics)
	require.NoError(t, err)
	return in
}

func (e *testEnv) engine(cfg EngineConfig) *Engine {
	return NewEngine(e.registry, e.gateway, cfg, WithSleep(e.sleeps.sleep), WithEngineMetrics(e.metrics))
}

// writeSource 在临时目录写入源文件。
func (e *testEnv) writeSource(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(e.root, "uploads", name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// ingestText 写入并入库一个文本文档，返回索引位置。
func (e *testEnv) ingestText(t *testing.T, docID, content string) string {
	t.Helper()
	loc, err := e.ingestor(t, DefaultIngestConfig()).Ingest(context.Background(), e.writeSource(t, docID+".txt", content), docID)
	require.NoError(t, err)
	return loc
}

// sleepRecorder 记录等待时长，不真正等待。
type sleepRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) count(d time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, w := range s.waits {
		if w == d {
			n++
		}
	}
	return n
}

func (s *sleepRecorder) all() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.waits...)
}
