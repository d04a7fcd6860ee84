package biz

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	"github.com/kart-io/logger"

	"github.com/kart-io/docchat/internal/docchat/catalog"
	"github.com/kart-io/docchat/internal/docchat/metrics"
	"github.com/kart-io/docchat/internal/model"
	"github.com/kart-io/docchat/internal/pkg/rag/docutil"
	errs "github.com/kart-io/docchat/pkg/errors"
	"github.com/kart-io/docchat/pkg/utils/id"
	"github.com/kart-io/docchat/pkg/validator"
)

// UploadRequest 文档上传请求。
type UploadRequest struct {
	SessionID  string `json:"session_id" validate:"required,max=64"`
	UserID     string `json:"user_id" validate:"omitempty,max=64"`
	Title      string `json:"title" validate:"omitempty,max=255"`
	SourcePath string `json:"source_path" validate:"required"`
	// DocumentID 为空时生成 ULID。
	DocumentID string `json:"document_id" validate:"omitempty,docid"`
}

// Reply 对话回复。
type Reply struct {
	Text     string
	Grounded bool
	Sources  []string
	Kind     GenerateKind
}

// Stats 存储概况。
type Stats struct {
	Documents      int64
	Processed      int64
	Indexes        int
	Backend        string
	EmbeddingModel string
	ChatModel      string
	Metrics        map[string]uint64
}

// Service 组合入库、问答和清理，供命令行使用。
type Service struct {
	registry *Registry
	catalog  catalog.Store
	gateway  *Gateway
	ingestor *Ingestor
	engine   *Engine
	cleaner  *Cleaner
	metrics  *metrics.Metrics
}

// NewService 创建 Service。
func NewService(registry *Registry, docs catalog.Store, gateway *Gateway, ingestor *Ingestor, engine *Engine, cleaner *Cleaner, m *metrics.Metrics) *Service {
	if m == nil {
		m = metrics.Global()
	}
	return &Service{
		registry: registry,
		catalog:  docs,
		gateway:  gateway,
		ingestor: ingestor,
		engine:   engine,
		cleaner:  cleaner,
		metrics:  m,
	}
}

// Upload 保存源文件、创建文档记录并入库。任一步失败时删除记录和已复制的文件，返回结构化错误。
func (s *Service) Upload(ctx context.Context, req *UploadRequest) (*model.Document, error) {
	if req == nil {
		return nil, errs.ErrInvalidRequest.WithMessage("upload request cannot be nil")
	}
	if err := validator.Struct(req); err != nil {
		return nil, errs.ErrInvalidRequest.WithCause(err)
	}
	if !docutil.IsSupported(req.SourcePath) {
		return nil, errs.ErrUnsupportedFormat.WithMessagef("unsupported file type %q", filepath.Ext(req.SourcePath))
	}

	documentID := req.DocumentID
	if documentID == "" {
		documentID = id.NewULID()
	}
	title := req.Title
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(req.SourcePath), filepath.Ext(req.SourcePath))
	}

	// 同一 ID 的文档已存在时不能覆盖其源文件
	if _, err := s.catalog.Get(ctx, documentID); err == nil {
		return nil, errs.ErrDocumentExists.WithMessagef("document %q already exists", documentID)
	} else if !errors.Is(err, errs.ErrDocumentNotFound) {
		return nil, errs.ErrCatalog.WithCause(err)
	}

	dst := s.registry.DocumentPath(documentID, req.SourcePath)
	if err := docutil.EnsureDir(filepath.Dir(dst)); err != nil {
		return nil, errs.ErrInternal.WithCause(err)
	}
	if err := docutil.CopyFile(req.SourcePath, dst); err != nil {
		return nil, errs.ErrExtraction.WithCause(err)
	}

	doc := &model.Document{
		ID:        documentID,
		SessionID: req.SessionID,
		UserID:    req.UserID,
		Title:     title,
		File:      dst,
	}
	if err := s.catalog.Create(ctx, doc); err != nil {
		_ = docutil.RemoveIfExists(dst)
		return nil, errs.ErrCatalog.WithCause(err)
	}

	location, err := s.ingestor.Ingest(ctx, dst, documentID)
	if err == nil {
		err = s.catalog.MarkProcessed(ctx, documentID, location)
	}
	if err != nil {
		s.discard(ctx, documentID, dst)
		logger.Errorw("document upload failed", "document_id", documentID, "error", err.Error())
		var e *errs.Errno
		if !errors.As(err, &e) {
			err = errs.ErrIngestion.WithCause(err)
		}
		return nil, err
	}

	doc.Processed = true
	doc.EmbeddingStore = location
	return doc, nil
}

// discard 删除上传失败的文档记录和所有相关存储。
func (s *Service) discard(ctx context.Context, documentID, sourceFile string) {
	if err := s.catalog.Delete(ctx, documentID); err != nil {
		logger.Errorw("failed to delete document record", "document_id", documentID, "error", err.Error())
	}
	_ = s.cleaner.DeleteDocument(ctx, documentID, sourceFile)
}

// Chat 基于会话中已处理的文档回答，没有可用回答时直接生成，最终失败时返回致歉语。从不返回错误。
func (s *Service) Chat(ctx context.Context, sessionID, message string, history []model.ConversationTurn) Reply {
	var locations []string
	if sessionID != "" {
		var err error
		locations, err = s.catalog.CandidateLocations(ctx, sessionID)
		if err != nil {
			logger.Warnw("failed to load candidate documents", "session_id", sessionID, "error", err.Error())
		}
	}

	if len(locations) > 0 {
		answer, err := s.engine.Answer(ctx, locations, message, history)
		if err != nil {
			logger.Warnw("document answer failed, falling back to plain generation",
				"session_id", sessionID, "error", err.Error())
		}
		if answer != nil {
			return Reply{Text: answer.Text, Grounded: answer.Grounded, Sources: answer.Sources, Kind: answer.Kind}
		}
	}

	res := s.gateway.Generate(ctx, message, history)
	if len(locations) == 0 {
		// 有候选文档时已由 Engine 记录
		if res.OK() {
			s.metrics.RecordAnswer(metrics.AnswerFallback)
		} else {
			s.metrics.RecordAnswer(metrics.AnswerAbsent)
		}
	}
	return Reply{Text: res.Reply(), Kind: res.Kind}
}

// RemoveDocument 删除单个文档的记录、索引、元数据和源文件，不影响其他文档。
func (s *Service) RemoveDocument(ctx context.Context, documentID string) error {
	doc, err := s.catalog.Get(ctx, documentID)
	if err != nil {
		return err
	}
	if err := s.cleaner.DeleteDocument(ctx, documentID, doc.File); err != nil {
		return errs.ErrInternal.WithCause(err)
	}
	return s.catalog.Delete(ctx, documentID)
}

// Purge 删除所有持久化的索引、元数据和源文件。文档记录保留，之后的问答会跳过缺失的索引。
func (s *Service) Purge(ctx context.Context) PurgeReport {
	return s.cleaner.PurgeAll(ctx)
}

// Stats 返回文档和索引数量以及进程内指标。
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	total, processed, err := s.catalog.Count(ctx)
	if err != nil {
		return nil, errs.ErrCatalog.WithCause(err)
	}
	backend := s.registry.Backend()
	locations, err := backend.List(ctx)
	if err != nil {
		logger.Warnw("failed to list indexes", "backend", backend.Name(), "error", err.Error())
	}
	return &Stats{
		Documents:      total,
		Processed:      processed,
		Indexes:        len(locations),
		Backend:        backend.Name(),
		EmbeddingModel: s.gateway.EmbeddingModel(),
		ChatModel:      s.gateway.ChatModel(),
		Metrics:        s.metrics.Snapshot(),
	}, nil
}
