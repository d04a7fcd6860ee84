// Package docchat 根据配置组装文档问答运行时：模型供应商、向量索引后端、文档目录和业务服务。
package docchat

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/docchat/internal/docchat/biz"
	"github.com/kart-io/docchat/internal/docchat/catalog"
	"github.com/kart-io/docchat/internal/docchat/metrics"
	"github.com/kart-io/docchat/internal/docchat/store"
	"github.com/kart-io/docchat/pkg/component/database"
	"github.com/kart-io/docchat/pkg/component/milvus"
	"github.com/kart-io/docchat/pkg/component/redis"
	"github.com/kart-io/docchat/pkg/component/storage"
	"github.com/kart-io/docchat/pkg/infra/pool"
	"github.com/kart-io/docchat/pkg/infra/tracing"
	"github.com/kart-io/docchat/pkg/llm"
	"github.com/kart-io/docchat/pkg/llm/resilience"
	docchatopts "github.com/kart-io/docchat/pkg/options/docchat"
	llmopts "github.com/kart-io/docchat/pkg/options/llm"
	milvusopts "github.com/kart-io/docchat/pkg/options/milvus"

	// 注册模型供应商
	_ "github.com/kart-io/docchat/pkg/llm/gemini"
	_ "github.com/kart-io/docchat/pkg/llm/ollama"
	_ "github.com/kart-io/docchat/pkg/llm/openai"
)

const defaultReleaseTimeout = 5 * time.Second

// Config 运行时的完整配置，由命令行选项生成。
type Config struct {
	DocChat   *docchatopts.Options
	Embedding *llmopts.ProviderOptions
	Chat      *llmopts.ProviderOptions
	Redis     *redis.Options
	Milvus    *milvusopts.Options
	DB        *database.Options
	Tracing   *tracing.Options
}

// Runtime 组装好的服务。使用完毕后调用 Close 释放所有连接。
type Runtime struct {
	Service  *biz.Service
	Storage  *storage.Manager
	Metrics  *metrics.Metrics
	Backend  string
	embedder llm.EmbeddingProvider
	chat     llm.ChatProvider
	pools    []*pool.Pool
	tracer   *tracing.Provider
}

// New 创建 Runtime。中途失败时关闭已经打开的连接。
func (c *Config) New(ctx context.Context) (rt *Runtime, err error) {
	checks, err := pool.NewPool("storage-health", pool.HealthCheckPool, pool.HealthCheckPoolConfig())
	if err != nil {
		return nil, err
	}
	rt = &Runtime{
		Storage: storage.NewManager(checks),
		Metrics: metrics.Global(),
		pools:   []*pool.Pool{checks},
	}
	defer func() {
		if err != nil {
			_ = rt.Close()
			rt = nil
		}
	}()

	if rt.tracer, err = tracing.NewProvider(ctx, c.Tracing); err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	if err := rt.initProviders(ctx, c); err != nil {
		return nil, err
	}

	backend, err := rt.initBackend(ctx, c)
	if err != nil {
		return nil, err
	}

	db, err := database.New(ctx, c.DB, filepath.Join(c.DocChat.Root, "docchat.db"))
	if err != nil {
		return nil, fmt.Errorf("open catalog database: %w", err)
	}
	if err := rt.Storage.Register("db", db); err != nil {
		_ = db.Close()
		return nil, err
	}
	docs, err := catalog.New(ctx, db.DB())
	if err != nil {
		return nil, fmt.Errorf("migrate catalog: %w", err)
	}

	embedPool, err := pool.NewPool("embedding", pool.EmbeddingPool, pool.EmbeddingPoolConfig(c.DocChat.EmbedWorkers))
	if err != nil {
		return nil, err
	}
	rt.pools = append(rt.pools, embedPool)

	o := c.DocChat
	registry := biz.NewRegistry(biz.RegistryConfig{
		IndexDir:     o.IndexDir,
		MetadataDir:  o.MetadataDir,
		DocumentsDir: o.DocumentsDir,
	}, backend)

	gateway := biz.NewGateway(rt.embedder, rt.chat, biz.WithGatewayMetrics(rt.Metrics))

	ingestor, err := biz.NewIngestor(registry, gateway, embedPool, biz.IngestConfig{
		ChunkSize:      o.ChunkSize,
		ChunkOverlap:   o.ChunkOverlap,
		EmbedBatchSize: o.EmbedBatchSize,
	}, rt.Metrics)
	if err != nil {
		return nil, err
	}

	engine := biz.NewEngine(registry, gateway, biz.EngineConfig{
		RelevanceThreshold: o.RelevanceThreshold,
		K:                  o.K,
		FetchK:             o.FetchK,
		Lambda:             o.Lambda,
		Cooldown:           o.Cooldown,
		Attempts:           o.QueryAttempts,
		CondenseQuestion:   o.CondenseQuestion,
	}, biz.WithEngineMetrics(rt.Metrics))

	rt.Service = biz.NewService(registry, docs, gateway, ingestor, engine, biz.NewCleaner(registry, rt.Metrics), rt.Metrics)

	logger.Infow("docchat runtime ready",
		"backend", rt.Backend,
		"embedding_model", gateway.EmbeddingModel(),
		"chat_model", gateway.ChatModel(),
		"root", o.Root,
	)
	return rt, nil
}

func (rt *Runtime) initProviders(ctx context.Context, c *Config) error {
	embedder, err := llm.NewEmbeddingProvider(c.Embedding.Provider, c.Embedding.ToConfigMap())
	if err != nil {
		return fmt.Errorf("create embedding provider: %w", err)
	}
	chat, err := llm.NewChatProvider(c.Chat.Provider, c.Chat.ToConfigMap())
	if err != nil {
		return fmt.Errorf("create chat provider: %w", err)
	}

	// 熔断器只负责快速失败，配额耗尽的重试由 Gateway 处理
	breakerOnly := &resilience.RetryConfig{MaxAttempts: 1}
	if c.Embedding.CircuitBreaker {
		embedder = resilience.NewResilientEmbeddingProvider(embedder, breakerOnly, resilience.DefaultCircuitBreakerConfig())
	}
	if c.Chat.CircuitBreaker {
		chat = resilience.NewResilientChatProvider(chat, breakerOnly, resilience.DefaultCircuitBreakerConfig())
	}

	if c.Redis != nil && c.Redis.Enabled {
		client, err := redis.New(ctx, c.Redis)
		if err != nil {
			// 缓存不可用时不影响主流程
			logger.Warnw("embedding cache disabled", "addr", c.Redis.Addr(), "error", err.Error())
		} else {
			if err := rt.Storage.Register("redis", client); err != nil {
				_ = client.Close()
				return err
			}
			embedder = llm.NewCachedEmbeddingProvider(embedder, client.Client(), &llm.EmbeddingCacheConfig{
				Enabled:   true,
				TTL:       c.Redis.TTL,
				KeyPrefix: c.Redis.KeyPrefix,
			})
		}
	}

	rt.embedder, rt.chat = embedder, chat
	return nil
}

func (rt *Runtime) initBackend(ctx context.Context, c *Config) (store.Backend, error) {
	switch c.DocChat.Backend {
	case docchatopts.BackendMilvus:
		client, err := milvus.New(ctx, c.Milvus)
		if err != nil {
			return nil, fmt.Errorf("connect milvus: %w", err)
		}
		if err := rt.Storage.Register("milvus", client); err != nil {
			_ = client.Close()
			return nil, err
		}
		rt.Backend = store.BackendMilvus
		return store.NewMilvusBackend(client), nil
	default:
		rt.Backend = store.BackendLocal
		return store.NewLocalBackend(c.DocChat.IndexDir), nil
	}
}

// Close 释放协程池和存储客户端，并导出未完成的 Span。
func (rt *Runtime) Close() error {
	var errList []error
	for _, p := range rt.pools {
		if err := p.ReleaseTimeout(defaultReleaseTimeout); err != nil {
			errList = append(errList, err)
		}
	}
	if err := rt.Storage.CloseAll(); err != nil {
		errList = append(errList, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultReleaseTimeout)
	defer cancel()
	if err := rt.tracer.Shutdown(ctx); err != nil {
		errList = append(errList, err)
	}
	return errors.Join(errList...)
}
