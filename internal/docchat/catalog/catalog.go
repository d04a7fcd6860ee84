// Package catalog 保存文档记录，为问答提供候选索引集合。
package catalog

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/kart-io/docchat/internal/model"
	errs "github.com/kart-io/docchat/pkg/errors"
)

// Store 文档目录接口。
type Store interface {
	Create(ctx context.Context, doc *model.Document) error
	Get(ctx context.Context, id string) (*model.Document, error)
	MarkProcessed(ctx context.Context, id, location string) error
	Delete(ctx context.Context, id string) error
	ListBySession(ctx context.Context, sessionID string) ([]*model.Document, error)
	CandidateLocations(ctx context.Context, sessionID string) ([]string, error)
	Count(ctx context.Context) (total, processed int64, err error)
}

type documents struct {
	db *gorm.DB
}

// New 在 db 上创建文档目录并迁移表结构。
func New(ctx context.Context, db *gorm.DB) (Store, error) {
	if err := db.WithContext(ctx).AutoMigrate(&model.Document{}); err != nil {
		return nil, err
	}
	return &documents{db: db}, nil
}

// Create 创建文档记录。
func (d *documents) Create(ctx context.Context, doc *model.Document) error {
	return d.db.WithContext(ctx).Create(doc).Error
}

// Get 按 ID 获取文档，不存在时返回 errs.ErrDocumentNotFound。
func (d *documents) Get(ctx context.Context, id string) (*model.Document, error) {
	var doc model.Document
	if err := d.db.WithContext(ctx).Where("id = ?", id).First(&doc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrDocumentNotFound.WithCause(err)
		}
		return nil, err
	}
	return &doc, nil
}

// MarkProcessed 记录入库完成的文档及其索引位置。
func (d *documents) MarkProcessed(ctx context.Context, id, location string) error {
	res := d.db.WithContext(ctx).Model(&model.Document{}).Where("id = ?", id).
		Updates(map[string]any{"processed": true, "embedding_store": location})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errs.ErrDocumentNotFound
	}
	return nil
}

// Delete 删除文档记录，记录不存在时不报错。
func (d *documents) Delete(ctx context.Context, id string) error {
	return d.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Document{}).Error
}

// ListBySession 按创建时间升序列出会话中的文档。
func (d *documents) ListBySession(ctx context.Context, sessionID string) ([]*model.Document, error) {
	var docs []*model.Document
	err := d.db.WithContext(ctx).Where("session_id = ?", sessionID).
		Order("created_at ASC, id ASC").Find(&docs).Error
	return docs, err
}

// CandidateLocations 返回会话中已处理文档的索引位置。
func (d *documents) CandidateLocations(ctx context.Context, sessionID string) ([]string, error) {
	var locations []string
	err := d.db.WithContext(ctx).Model(&model.Document{}).
		Where("session_id = ? AND processed = ? AND embedding_store <> ''", sessionID, true).
		Order("created_at ASC, id ASC").
		Pluck("embedding_store", &locations).Error
	return locations, err
}

// Count 返回文档总数和已处理的文档数。
func (d *documents) Count(ctx context.Context) (total, processed int64, err error) {
	if err = d.db.WithContext(ctx).Model(&model.Document{}).Count(&total).Error; err != nil {
		return 0, 0, err
	}
	err = d.db.WithContext(ctx).Model(&model.Document{}).Where("processed = ?", true).Count(&processed).Error
	return total, processed, err
}
