package biz

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/kart-io/logger"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/kart-io/docchat/internal/docchat/metrics"
	"github.com/kart-io/docchat/internal/model"
	errs "github.com/kart-io/docchat/pkg/errors"
	"github.com/kart-io/docchat/pkg/llm"
	"github.com/kart-io/docchat/pkg/llm/resilience"
)

// 生成失败时返回给用户的固定回复。
const (
	EmptyReplyMessage = "Sorry, I didn't get a response. Please try again."
	ErrorReplyMessage = "An error occurred while processing your request. Please try again later."
)

// GenerateKind 生成结果类型。
type GenerateKind string

const (
	// GenerateOK 生成成功。
	GenerateOK GenerateKind = "none"
	// GenerateEmpty 供应商没有返回内容。
	GenerateEmpty GenerateKind = "empty"
	// GenerateExhausted 重试后仍然配额耗尽。
	GenerateExhausted GenerateKind = "exhausted"
	// GenerateProvider 其他供应商或传输错误。
	GenerateProvider GenerateKind = "provider"
)

// GenerateResult 生成结果。Kind 不为 GenerateOK 时 Text 为空。
type GenerateResult struct {
	Text string
	Kind GenerateKind
	Err  error
}

// OK 判断是否生成成功。
func (r GenerateResult) OK() bool {
	return r.Kind == GenerateOK
}

// Reply 返回可直接展示给用户的文本，失败时为固定的致歉语。
func (r GenerateResult) Reply() string {
	switch r.Kind {
	case GenerateOK:
		return r.Text
	case GenerateEmpty:
		return EmptyReplyMessage
	default:
		return ErrorReplyMessage
	}
}

// Gateway 封装 Embedding 与生成模型调用。
// 配额耗尽按 retry 配置重试，其他错误立即返回。
type Gateway struct {
	embedder llm.EmbeddingProvider
	chat     llm.ChatProvider
	retry    *resilience.RetryConfig
	metrics  *metrics.Metrics
}

// GatewayOption 配置 Gateway。
type GatewayOption func(*Gateway)

// WithRetry 设置重试策略。
func WithRetry(cfg *resilience.RetryConfig) GatewayOption {
	return func(g *Gateway) {
		if cfg != nil {
			g.retry = cfg
		}
	}
}

// WithGatewayMetrics 设置指标实例。
func WithGatewayMetrics(m *metrics.Metrics) GatewayOption {
	return func(g *Gateway) {
		if m != nil {
			g.metrics = m
		}
	}
}

// NewGateway 创建 Gateway，默认使用 resilience.ExhaustionRetryConfig。
func NewGateway(embedder llm.EmbeddingProvider, chat llm.ChatProvider, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		embedder: embedder,
		chat:     chat,
		retry:    resilience.ExhaustionRetryConfig(),
		metrics:  metrics.Global(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Direct 返回不做重试的副本，由调用方自行处理配额耗尽。
func (g *Gateway) Direct() *Gateway {
	cfg := *g.retry
	cfg.MaxAttempts = 1
	cp := *g
	cp.retry = &cfg
	return &cp
}

// EmbeddingModel 返回当前 Embedding 模型名，写入索引元数据。
func (g *Gateway) EmbeddingModel() string {
	return llm.EmbeddingModelOf(g.embedder)
}

// ChatModel 返回当前生成模型名。
func (g *Gateway) ChatModel() string {
	return llm.ChatModelOf(g.chat)
}

// Embed 为多个文本生成向量，返回顺序与输入一致。
func (g *Gateway) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var vectors [][]float32
	err := g.call(ctx, "embed", func() error {
		v, err := g.embedder.Embed(ctx, texts)
		if err != nil {
			return llm.ClassifyError(g.embedder.Name(), "embed", err)
		}
		vectors = v
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(vectors) != len(texts) {
		return nil, errs.ErrProviderFailure.WithMessage(
			fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(vectors)))
	}
	for i, v := range vectors {
		for _, x := range v {
			if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
				return nil, errs.ErrProviderFailure.WithMessagef("embedding %d contains non-finite values", i)
			}
		}
	}
	return vectors, nil
}

// EmbedQuery 为查询文本生成向量。
func (g *Gateway) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := g.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// Complete 单轮生成。供应商返回空文本时结果为空字符串且无错误。
func (g *Gateway) Complete(ctx context.Context, prompt string) (string, error) {
	var text string
	err := g.call(ctx, "generate", func() error {
		t, err := g.chat.Generate(ctx, prompt, "")
		if err != nil {
			return llm.ClassifyError(g.chat.Name(), "generate", err)
		}
		text = t
		return nil
	})
	return text, err
}

// Generate 结合对话历史直接生成回答，从不返回错误。
func (g *Gateway) Generate(ctx context.Context, message string, history []model.ConversationTurn) GenerateResult {
	ctx, span := tracer.Start(ctx, "generate")
	defer span.End()

	text, err := g.Complete(ctx, BuildChatPrompt(message, history))
	switch {
	case err != nil && errs.IsResourceExhausted(err):
		span.SetStatus(codes.Error, err.Error())
		logger.Errorw("generation failed: provider resource exhausted", "error", err.Error())
		return GenerateResult{Kind: GenerateExhausted, Err: err}
	case err != nil:
		span.SetStatus(codes.Error, err.Error())
		logger.Errorw("generation failed", "error", err.Error())
		return GenerateResult{Kind: GenerateProvider, Err: err}
	case text == "":
		span.SetAttributes(attribute.String("generate.kind", string(GenerateEmpty)))
		return GenerateResult{Kind: GenerateEmpty}
	default:
		return GenerateResult{Text: text, Kind: GenerateOK}
	}
}

// call 执行一次带重试的模型调用并记录指标。
func (g *Gateway) call(ctx context.Context, op string, fn func() error) error {
	return resilience.RetryWithBackoff(ctx, g.retry, func() error {
		start := time.Now()
		err := fn()
		g.metrics.RecordLLMCall(time.Since(start), err, errs.IsResourceExhausted(err))
		if err != nil {
			logger.Debugw("model call failed", "op", op, "error", err.Error())
		}
		return err
	})
}
