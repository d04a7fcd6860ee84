package biz

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/kart-io/logger"
	"go.opentelemetry.io/otel/attribute"

	"github.com/kart-io/docchat/internal/docchat/metrics"
	"github.com/kart-io/docchat/internal/pkg/rag/docutil"
)

// PurgeReport 全量清理结果。
type PurgeReport struct {
	IndexesRemoved   int
	MetadataRemoved  int
	DocumentsRemoved int
	Failures         int
}

// Cleaner 删除入库产生的索引、元数据和源文件。
type Cleaner struct {
	registry *Registry
	metrics  *metrics.Metrics
}

// NewCleaner 创建 Cleaner。
func NewCleaner(registry *Registry, m *metrics.Metrics) *Cleaner {
	if m == nil {
		m = metrics.Global()
	}
	return &Cleaner{registry: registry, metrics: m}
}

// Delete 删除一对索引和元数据，不存在的部分直接忽略。
func (c *Cleaner) Delete(ctx context.Context, indexLocation, metadataLocation string) error {
	unlock := c.registry.Lock(indexLocation)
	defer unlock()

	var errList []error
	if indexLocation != "" {
		if err := c.registry.Backend().Delete(ctx, indexLocation); err != nil {
			errList = append(errList, err)
		}
	}
	if metadataLocation != "" {
		if err := docutil.RemoveIfExists(metadataLocation); err != nil {
			errList = append(errList, err)
		}
	}
	return errors.Join(errList...)
}

// DeleteDocument 删除单个文档的索引、元数据和源文件。sourceFile 为空时只删除索引和元数据。
func (c *Cleaner) DeleteDocument(ctx context.Context, documentID, sourceFile string) error {
	location, err := c.registry.Location(documentID)
	if err != nil {
		return err
	}
	_, metaPath, err := c.registry.Paths(documentID)
	if err != nil {
		return err
	}

	err = c.Delete(ctx, location, metaPath)
	if sourceFile != "" {
		if rmErr := docutil.RemoveIfExists(sourceFile); rmErr != nil {
			err = errors.Join(err, rmErr)
		}
	}

	if err != nil {
		c.metrics.RecordCleanup(0, 1)
		logger.Errorw("failed to delete document", "document_id", documentID, "error", err.Error())
		return err
	}
	c.metrics.RecordCleanup(1, 0)
	logger.Infow("document deleted", "document_id", documentID, "location", location)
	return nil
}

// PurgeAll 删除所有索引、元数据和源文件。每项删除相互独立，失败只记录日志，不中断其余删除。
// 重复执行是幂等的。
func (c *Cleaner) PurgeAll(ctx context.Context) PurgeReport {
	ctx, span := tracer.Start(ctx, "purge")
	defer span.End()

	var report PurgeReport
	backend := c.registry.Backend()

	locations, err := backend.List(ctx)
	if err != nil {
		logger.Errorw("failed to list indexes", "backend", backend.Name(), "error", err.Error())
		report.Failures++
	}
	for _, loc := range locations {
		if err := c.deleteIndex(ctx, loc); err != nil {
			report.Failures++
			continue
		}
		report.IndexesRemoved++

		if metaPath, err := c.registry.MetadataPathFor(loc); err == nil {
			removed, err := removeFile(metaPath)
			switch {
			case err != nil:
				logger.Errorw("failed to remove metadata", "path", metaPath, "error", err.Error())
				report.Failures++
			case removed:
				report.MetadataRemoved++
			}
		}
	}

	abandoned, err := backend.Abandoned(ctx)
	if err != nil {
		logger.Errorw("failed to list abandoned indexes", "backend", backend.Name(), "error", err.Error())
		report.Failures++
	}
	for _, loc := range abandoned {
		if err := c.deleteIndex(ctx, loc); err != nil {
			report.Failures++
		}
	}

	// 没有对应索引的元数据
	cfg := c.registry.Config()
	n, failed := sweepDir(cfg.MetadataDir, func(name string) bool {
		return strings.HasPrefix(name, MetadataPrefix) && strings.HasSuffix(name, ".json") ||
			docutil.IsTempSibling(name)
	})
	report.MetadataRemoved += n
	report.Failures += failed

	n, failed = sweepDir(cfg.DocumentsDir, func(string) bool { return true })
	report.DocumentsRemoved += n
	report.Failures += failed

	span.SetAttributes(
		attribute.Int("purge.indexes", report.IndexesRemoved),
		attribute.Int("purge.documents", report.DocumentsRemoved),
		attribute.Int("purge.failures", report.Failures),
	)
	c.metrics.RecordCleanup(report.IndexesRemoved+report.MetadataRemoved+report.DocumentsRemoved, report.Failures)
	logger.Infow("purge completed",
		"indexes", report.IndexesRemoved,
		"metadata", report.MetadataRemoved,
		"documents", report.DocumentsRemoved,
		"failures", report.Failures,
	)
	return report
}

func (c *Cleaner) deleteIndex(ctx context.Context, location string) error {
	unlock := c.registry.Lock(location)
	defer unlock()

	if err := c.registry.Backend().Delete(ctx, location); err != nil {
		logger.Errorw("failed to delete index", "location", location, "error", err.Error())
		return err
	}
	logger.Debugw("index deleted", "location", location)
	return nil
}

// sweepDir 删除目录下匹配的普通文件，返回删除数和失败数。目录不存在时什么也不做。
func sweepDir(dir string, match func(name string) bool) (removed, failures int) {
	if dir == "" {
		return 0, 0
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Errorw("failed to read directory", "dir", dir, "error", err.Error())
			failures++
		}
		return removed, failures
	}

	for _, entry := range entries {
		if !entry.Type().IsRegular() || !match(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		ok, err := removeFile(path)
		if err != nil {
			logger.Errorw("failed to remove file", "path", path, "error", err.Error())
			failures++
			continue
		}
		if ok {
			removed++
		}
	}
	return removed, failures
}

func removeFile(path string) (bool, error) {
	err := os.Remove(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}
