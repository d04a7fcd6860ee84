package biz

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kart-io/logger"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/kart-io/docchat/internal/docchat/metrics"
	"github.com/kart-io/docchat/internal/docchat/store"
	"github.com/kart-io/docchat/internal/pkg/rag/docutil"
	"github.com/kart-io/docchat/internal/pkg/rag/splitter"
	errs "github.com/kart-io/docchat/pkg/errors"
	"github.com/kart-io/docchat/pkg/infra/pool"
	"github.com/kart-io/docchat/pkg/utils/id"
)

// IngestConfig 入库配置。
type IngestConfig struct {
	ChunkSize      int
	ChunkOverlap   int
	EmbedBatchSize int
}

// DefaultIngestConfig 返回默认入库配置。
func DefaultIngestConfig() IngestConfig {
	return IngestConfig{ChunkSize: 1000, ChunkOverlap: 200, EmbedBatchSize: 100}
}

// Ingestor 将源文档转换为持久化的向量索引和元数据。
type Ingestor struct {
	registry *Registry
	gateway  *Gateway
	splitter *splitter.Recursive
	pool     *pool.Pool
	cfg      IngestConfig
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewIngestor 创建 Ingestor。embedPool 用于并发执行 Embedding 批次。
func NewIngestor(registry *Registry, gateway *Gateway, embedPool *pool.Pool, cfg IngestConfig, m *metrics.Metrics) (*Ingestor, error) {
	sp, err := splitter.New(splitter.Config{ChunkSize: cfg.ChunkSize, ChunkOverlap: cfg.ChunkOverlap})
	if err != nil {
		return nil, err
	}
	if cfg.EmbedBatchSize <= 0 {
		return nil, fmt.Errorf("embed batch size must be positive, got %d", cfg.EmbedBatchSize)
	}
	if embedPool == nil {
		return nil, errors.New("embedding pool is required")
	}
	if m == nil {
		m = metrics.Global()
	}
	return &Ingestor{
		registry: registry,
		gateway:  gateway,
		splitter: sp,
		pool:     embedPool,
		cfg:      cfg,
		metrics:  m,
		now:      time.Now,
	}, nil
}

// Ingest 提取、切分、向量化并保存文档，返回索引位置。
// 提取失败返回 errs.ErrExtraction（或 errs.ErrUnsupportedFormat），其他失败包装为 errs.ErrIngestion。
// 索引与元数据在文档写锁内成对写入，元数据写入失败时删除刚写入的索引。
func (in *Ingestor) Ingest(ctx context.Context, sourceFile, documentID string) (location string, err error) {
	ctx, span := tracer.Start(ctx, "ingest")
	span.SetAttributes(attribute.String("document.id", documentID))
	defer func() {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	chunks := 0
	defer func() { in.metrics.RecordIngest(chunks, err) }()

	location, err = in.registry.Location(documentID)
	if err != nil {
		return "", err
	}
	_, metaPath, err := in.registry.Paths(documentID)
	if err != nil {
		return "", err
	}

	pages, err := docutil.ExtractPages(sourceFile)
	if err != nil {
		return "", err
	}
	text := docutil.JoinPages(pages)
	if strings.TrimSpace(text) == "" {
		return "", errs.ErrExtraction.WithMessage("no extractable text in " + sourceFile)
	}

	pieces := in.splitter.Split(text)
	vectors, err := in.embed(ctx, splitter.Texts(pieces))
	if err != nil {
		return "", errs.ErrIngestion.WithCause(fmt.Errorf("embed %s: %w", documentID, err))
	}

	records := make([]*store.Chunk, len(pieces))
	for i, p := range pieces {
		records[i] = &store.Chunk{
			ID:         id.ChunkID(documentID, i),
			DocumentID: documentID,
			Position:   i,
			Content:    p.Text,
			Embedding:  vectors[i],
		}
	}

	meta := &store.Metadata{
		DocumentID:     documentID,
		ChunkSize:      in.cfg.ChunkSize,
		ChunkOverlap:   in.cfg.ChunkOverlap,
		NumChunks:      len(records),
		EmbeddingModel: in.gateway.EmbeddingModel(),
		Dimension:      len(vectors[0]),
		CreatedAt:      in.now().UTC(),
	}

	if err := in.persist(ctx, location, metaPath, records, meta); err != nil {
		return "", errs.ErrIngestion.WithCause(err)
	}

	chunks = len(records)
	logger.Infow("document ingested",
		"document_id", documentID,
		"location", location,
		"chunks", chunks,
		"embedding_model", meta.EmbeddingModel,
	)
	return location, nil
}

// embed 按批次并发调用 Embedding，结果按批次下标放回，顺序与输入一致。
func (in *Ingestor) embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	size := in.cfg.EmbedBatchSize

	tasks := make([]func(context.Context) error, 0, (len(texts)+size-1)/size)
	for start := 0; start < len(texts); start += size {
		start, end := start, min(start+size, len(texts))
		tasks = append(tasks, func(ctx context.Context) error {
			batch, err := in.gateway.Embed(ctx, texts[start:end])
			if err != nil {
				return fmt.Errorf("batch [%d:%d]: %w", start, end, err)
			}
			copy(vectors[start:end], batch)
			return nil
		})
	}

	if err := in.pool.RunAll(ctx, tasks...); err != nil {
		return nil, err
	}

	dim := len(vectors[0])
	for i, v := range vectors {
		if len(v) == 0 || len(v) != dim {
			return nil, errs.ErrProviderFailure.WithMessagef("embedding %d has dimension %d, want %d", i, len(v), dim)
		}
	}
	return vectors, nil
}

func (in *Ingestor) persist(ctx context.Context, location, metaPath string, records []*store.Chunk, meta *store.Metadata) error {
	unlock := in.registry.Lock(location)
	defer unlock()

	backend := in.registry.Backend()
	if err := backend.Save(ctx, location, records); err != nil {
		return fmt.Errorf("save index %s: %w", location, err)
	}

	if err := store.WriteMetadata(metaPath, meta); err != nil {
		if rbErr := backend.Delete(ctx, location); rbErr != nil {
			logger.Errorw("failed to roll back index after metadata failure",
				"location", location, "error", rbErr.Error())
		}
		_ = docutil.RemoveIfExists(metaPath)
		return fmt.Errorf("write metadata %s: %w", metaPath, err)
	}
	return nil
}
