package biz

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/kart-io/logger"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/kart-io/docchat/internal/docchat/metrics"
	"github.com/kart-io/docchat/internal/docchat/store"
	"github.com/kart-io/docchat/internal/model"
	"github.com/kart-io/docchat/internal/pkg/rag/textutil"
	errs "github.com/kart-io/docchat/pkg/errors"
	"github.com/kart-io/docchat/pkg/llm/resilience"
)

// EngineConfig 问答引擎配置。
type EngineConfig struct {
	// RelevanceThreshold 最近块距离超过该值的文档被跳过。
	RelevanceThreshold float64
	// K 每个文档送入生成的块数。
	K int
	// FetchK MMR 候选池大小。
	FetchK int
	// Lambda MMR 相关性权重。
	Lambda float64
	// Cooldown 配额耗尽后的等待时间。
	Cooldown time.Duration
	// Attempts 配额耗尽时整个问答的最大尝试次数。
	Attempts int
	// CondenseQuestion 有历史时先将追问改写为独立问题。
	CondenseQuestion bool
}

// DefaultEngineConfig 返回默认问答配置。
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		RelevanceThreshold: 0.7,
		K:                  2,
		FetchK:             5,
		Lambda:             0.7,
		Cooldown:           30 * time.Second,
		Attempts:           3,
		CondenseQuestion:   true,
	}
}

// Answer 问答结果。
type Answer struct {
	// Text 合并后的回答。
	Text string
	// Grounded 是否至少有一个文档给出了回答。
	Grounded bool
	// Sources 给出回答的索引位置。
	Sources []string
	// Kind 回退生成的结果类型，基于文档的回答为 GenerateOK。
	Kind GenerateKind
}

// Engine 基于候选文档索引回答问题。
type Engine struct {
	registry *Registry
	gateway  *Gateway
	cfg      EngineConfig
	metrics  *metrics.Metrics
	sleep    func(ctx context.Context, d time.Duration) error
}

// EngineOption 配置 Engine。
type EngineOption func(*Engine)

// WithSleep 替换等待函数，测试中使用。
func WithSleep(fn func(ctx context.Context, d time.Duration) error) EngineOption {
	return func(e *Engine) {
		if fn != nil {
			e.sleep = fn
		}
	}
}

// WithEngineMetrics 设置指标实例。
func WithEngineMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// NewEngine 创建问答引擎。引擎内部的模型调用不重试，配额耗尽统一由 Answer 的外层重试处理。
func NewEngine(registry *Registry, gateway *Gateway, cfg EngineConfig, opts ...EngineOption) *Engine {
	e := &Engine{
		registry: registry,
		gateway:  gateway.Direct(),
		cfg:      cfg,
		metrics:  metrics.Global(),
		sleep:    resilience.SleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Answer 依次处理候选索引并合并各文档的回答，没有文档给出回答时直接生成。
//
//   - 配额耗尽：等待 Cooldown 后整体重试，最多 Attempts 次，仍失败时返回该错误
//   - 其他失败：返回 (nil, nil)，调用方应回退到直接生成
func (e *Engine) Answer(ctx context.Context, locations []string, query string, history []model.ConversationTurn) (*Answer, error) {
	ctx, span := tracer.Start(ctx, "answer")
	span.SetAttributes(attribute.Int("answer.candidates", len(locations)))
	defer span.End()

	retry := resilience.ExhaustionRetryConfig()
	retry.MaxAttempts = e.cfg.Attempts
	retry.Sleep = e.sleep

	var answer *Answer
	err := resilience.RetryWithBackoff(ctx, retry, func() error {
		a, err := e.attempt(ctx, locations, query, history)
		if err != nil && errs.IsResourceExhausted(err) {
			logger.Warnw("provider resource exhausted, cooling down before retry",
				"cooldown", e.cfg.Cooldown, "error", err.Error())
			e.metrics.RecordCooldown()
			if sleepErr := e.sleep(ctx, e.cfg.Cooldown); sleepErr != nil {
				return sleepErr
			}
			return err
		}
		answer = a
		return err
	})

	switch {
	case err == nil:
		return answer, nil
	case errs.IsResourceExhausted(err):
		span.SetStatus(codes.Error, err.Error())
		e.metrics.RecordAnswer(metrics.AnswerAbsent)
		return nil, err
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		span.SetStatus(codes.Error, err.Error())
		e.metrics.RecordAnswer(metrics.AnswerAbsent)
		return nil, err
	default:
		span.SetStatus(codes.Error, err.Error())
		logger.Errorw("query failed", "error", err.Error())
		e.metrics.RecordAnswer(metrics.AnswerAbsent)
		return nil, nil
	}
}

// attemptState 单次尝试内缓存的查询向量和改写后的问题。
type attemptState struct {
	query      string
	history    []model.ConversationTurn
	queryVec   []float32
	standalone string
	retrVec    []float32
	condensed  bool
}

func (e *Engine) attempt(ctx context.Context, locations []string, query string, history []model.ConversationTurn) (*Answer, error) {
	st := &attemptState{query: query, history: CompleteTurns(history)}

	var answers, sources []string
	for _, loc := range locations {
		text, err := e.answerOne(ctx, st, loc)
		if err != nil {
			return nil, err
		}
		if text != "" {
			answers = append(answers, text)
			sources = append(sources, loc)
		}
	}

	if len(answers) > 0 {
		e.metrics.RecordAnswer(metrics.AnswerGrounded)
		return &Answer{Text: strings.Join(answers, " "), Grounded: true, Sources: sources, Kind: GenerateOK}, nil
	}

	res := e.gateway.Generate(ctx, query, history)
	switch res.Kind {
	case GenerateExhausted:
		return nil, res.Err
	case GenerateProvider:
		// 直接返回致歉语，调用方无需再次请求供应商
		e.metrics.RecordAnswer(metrics.AnswerAbsent)
		return &Answer{Text: res.Reply(), Kind: res.Kind}, nil
	}
	e.metrics.RecordAnswer(metrics.AnswerFallback)
	return &Answer{Text: res.Reply(), Kind: res.Kind}, nil
}

// answerOne 处理单个候选索引，被跳过时返回空字符串。
func (e *Engine) answerOne(ctx context.Context, st *attemptState, location string) (string, error) {
	unlock := e.registry.RLock(location)
	defer unlock()

	backend := e.registry.Backend()
	exists, err := backend.Exists(ctx, location)
	if err != nil {
		return "", err
	}
	if !exists {
		logger.Debugw("index not found, skipping", "location", location)
		e.metrics.RecordMissingSkip()
		return "", nil
	}

	idx, err := backend.Load(ctx, location)
	if err != nil {
		if errors.Is(err, errs.ErrIndexNotFound) {
			e.metrics.RecordMissingSkip()
			return "", nil
		}
		return "", err
	}

	e.checkEmbeddingModel(location)

	if st.queryVec == nil {
		if st.queryVec, err = e.gateway.EmbedQuery(ctx, st.query); err != nil {
			return "", err
		}
	}

	top, err := idx.Search(ctx, st.queryVec, 1)
	if err != nil {
		return "", err
	}
	if len(top) > 0 && top[0].Score > e.cfg.RelevanceThreshold {
		logger.Debugw("document below relevance threshold, skipping",
			"location", location, "distance", top[0].Score)
		e.metrics.RecordRelevanceSkip()
		return "", nil
	}

	if err := e.standalone(ctx, st); err != nil {
		return "", err
	}

	results, err := store.MMRSearch(ctx, idx, st.retrVec, e.cfg.K, e.cfg.FetchK, e.cfg.Lambda)
	if err != nil {
		return "", err
	}

	text, err := e.gateway.Complete(ctx, BuildAnswerPrompt(results, st.history, st.standalone))
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	return text, nil
}

// standalone 有历史时把追问改写为独立问题，用于检索和生成；每次尝试只改写一次。
func (e *Engine) standalone(ctx context.Context, st *attemptState) error {
	if st.condensed {
		return nil
	}
	st.condensed = true
	st.standalone, st.retrVec = st.query, st.queryVec

	if !e.cfg.CondenseQuestion || len(st.history) == 0 {
		return nil
	}

	rewritten, err := e.gateway.Complete(ctx, BuildCondensePrompt(st.history, st.query))
	if err != nil {
		return err
	}
	rewritten = strings.TrimSpace(rewritten)
	if rewritten == "" || rewritten == st.query {
		return nil
	}

	vec, err := e.gateway.EmbedQuery(ctx, rewritten)
	if err != nil {
		return err
	}
	e.metrics.RecordCondensed()
	logger.Debugw("follow-up question condensed",
		"question", textutil.TruncateString(st.query, 80),
		"standalone", textutil.TruncateString(rewritten, 80),
	)
	st.standalone, st.retrVec = rewritten, vec
	return nil
}

// checkEmbeddingModel 比较索引元数据中的 Embedding 模型与当前模型，不一致时告警但继续检索。
func (e *Engine) checkEmbeddingModel(location string) {
	metaPath, err := e.registry.MetadataPathFor(location)
	if err != nil {
		return
	}
	meta, err := store.ReadMetadata(metaPath)
	if err != nil {
		logger.Warnw("index metadata unavailable", "location", location, "error", err.Error())
		return
	}
	if current := e.gateway.EmbeddingModel(); meta.EmbeddingModel != "" && meta.EmbeddingModel != current {
		logger.Warnw("embedding model mismatch, retrieval quality may degrade",
			"location", location,
			"index_model", meta.EmbeddingModel,
			"current_model", current,
		)
		e.metrics.RecordModelMismatch()
	}
}
