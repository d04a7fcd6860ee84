// Package store 持久化文档向量索引和元数据。
package store

import (
	"context"
	"time"
)

// IndexPrefix 索引位置名前缀，store_<document id>。
const IndexPrefix = "store_"

// Chunk 带向量的文档块。
type Chunk struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	Position   int       `json:"position"`
	Content    string    `json:"content"`
	Embedding  []float32 `json:"embedding"`
}

// SearchResult 检索结果，Score 为与查询向量的平方欧氏距离，越小越相似。
type SearchResult struct {
	Chunk *Chunk
	Score float64
}

// Metadata 与索引成对保存的元数据。
type Metadata struct {
	DocumentID     string    `json:"document_id"`
	ChunkSize      int       `json:"chunk_size"`
	ChunkOverlap   int       `json:"chunk_overlap"`
	NumChunks      int       `json:"num_chunks"`
	EmbeddingModel string    `json:"embedding_model"`
	Dimension      int       `json:"dimension"`
	CreatedAt      time.Time `json:"created_at"`
}

// Index 已加载的单文档索引。
type Index interface {
	// Search 返回距离最近的 k 个块，按距离升序。
	Search(ctx context.Context, vector []float32, k int) ([]SearchResult, error)
	// Len 返回块数量。
	Len() int
	// Dimension 返回向量维度。
	Dimension() int
}

// Backend 索引存储后端。location 是后端内部的索引位置字符串。
type Backend interface {
	// Name 返回后端名称。
	Name() string

	// Locate 返回文档的索引位置，不做任何 I/O。
	Locate(documentID string) string

	// DocumentID 从索引位置反推文档标识。
	DocumentID(location string) (string, bool)

	// Exists 判断索引是否存在。
	Exists(ctx context.Context, location string) (bool, error)

	// Save 写入索引，已存在时整体替换。读者只会看到旧索引或完整的新索引。
	Save(ctx context.Context, location string, chunks []*Chunk) error

	// Load 加载索引，不存在时返回 errs.ErrIndexNotFound。
	Load(ctx context.Context, location string) (Index, error)

	// Delete 删除索引，不存在时不报错。
	Delete(ctx context.Context, location string) error

	// List 列出所有索引位置。
	List(ctx context.Context) ([]string, error)

	// Abandoned 列出中断写入遗留的临时数据位置。
	Abandoned(ctx context.Context) ([]string, error)
}
