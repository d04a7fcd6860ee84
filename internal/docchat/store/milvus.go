package store

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/milvus-io/milvus/client/v2/entity"

	"github.com/kart-io/docchat/pkg/component/milvus"
	errs "github.com/kart-io/docchat/pkg/errors"
)

const (
	// BackendMilvus Milvus 索引后端名称。
	BackendMilvus = "milvus"

	// maxCollectionName Milvus 集合名长度上限。
	maxCollectionName = 255

	// stagingSuffix 暂存集合后缀，转义方案不会产生 "_s"。
	stagingSuffix = "_s"
)

// MilvusBackend 每个文档一个集合（IVF_FLAT, L2）。
// 检索时同时取回向量，MMR 在客户端完成。
type MilvusBackend struct {
	client *milvus.Client
}

// NewMilvusBackend 创建 Milvus 索引后端。
func NewMilvusBackend(client *milvus.Client) *MilvusBackend {
	return &MilvusBackend{client: client}
}

// Name 返回后端名称。
func (b *MilvusBackend) Name() string { return BackendMilvus }

// Locate 返回集合名。集合名只允许字母、数字和下划线，文档标识中的其他字符被转义。
func (b *MilvusBackend) Locate(documentID string) string {
	return IndexPrefix + EscapeCollectionName(documentID)
}

// DocumentID 从集合名反推文档标识。
func (b *MilvusBackend) DocumentID(location string) (string, bool) {
	if !strings.HasPrefix(location, IndexPrefix) || len(location) == len(IndexPrefix) {
		return "", false
	}
	return UnescapeCollectionName(strings.TrimPrefix(location, IndexPrefix))
}

// EscapeCollectionName 将 '_' '.' '-' 分别转义为 "_u" "_d" "_h"。
func EscapeCollectionName(s string) string {
	var sb strings.Builder
	for _, r := range s {
		switch r {
		case '_':
			sb.WriteString("_u")
		case '.':
			sb.WriteString("_d")
		case '-':
			sb.WriteString("_h")
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// UnescapeCollectionName 是 EscapeCollectionName 的逆变换。
func UnescapeCollectionName(s string) (string, bool) {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '_' {
			sb.WriteByte(s[i])
			continue
		}
		if i+1 >= len(s) {
			return "", false
		}
		i++
		switch s[i] {
		case 'u':
			sb.WriteByte('_')
		case 'd':
			sb.WriteByte('.')
		case 'h':
			sb.WriteByte('-')
		default:
			return "", false
		}
	}
	return sb.String(), true
}

// Exists 判断集合是否存在。
func (b *MilvusBackend) Exists(ctx context.Context, location string) (bool, error) {
	return b.client.HasCollection(ctx, location)
}

// Save 先写入暂存集合，成功后再替换旧集合。写入失败时旧集合保持不变。
func (b *MilvusBackend) Save(ctx context.Context, location string, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return fmt.Errorf("refusing to save empty index %s", location)
	}
	staging := location + stagingSuffix
	if len(staging) > maxCollectionName {
		return fmt.Errorf("collection name %q exceeds %d characters", location, maxCollectionName-len(stagingSuffix))
	}
	dim := len(chunks[0].Embedding)

	data := &milvus.InsertData{
		Embeddings: make([][]float32, len(chunks)),
		Metadata: map[string][]any{
			"chunk_id":    make([]any, len(chunks)),
			"document_id": make([]any, len(chunks)),
			"position":    make([]any, len(chunks)),
			"content":     make([]any, len(chunks)),
		},
	}
	for i, c := range chunks {
		if len(c.Embedding) != dim {
			return fmt.Errorf("inconsistent embedding dimension in chunk %s", c.ID)
		}
		data.Embeddings[i] = c.Embedding
		data.Metadata["chunk_id"][i] = c.ID
		data.Metadata["document_id"][i] = c.DocumentID
		data.Metadata["position"][i] = int64(c.Position)
		data.Metadata["content"][i] = c.Content
	}

	// 上次失败遗留的暂存集合
	if err := b.Delete(ctx, staging); err != nil {
		return err
	}

	schema := &milvus.CollectionSchema{
		Name:        staging,
		Description: "docchat document index",
		Dimension:   dim,
		MetaFields: []milvus.MetaField{
			{Name: "chunk_id", DataType: entity.FieldTypeVarChar, MaxLen: 64},
			{Name: "document_id", DataType: entity.FieldTypeVarChar, MaxLen: 128},
			{Name: "position", DataType: entity.FieldTypeInt64},
			{Name: "content", DataType: entity.FieldTypeVarChar, MaxLen: 65535},
		},
	}
	if err := b.client.CreateCollection(ctx, schema); err != nil {
		_ = b.Delete(ctx, staging)
		return err
	}
	if err := b.client.Insert(ctx, staging, data); err != nil {
		_ = b.client.DropCollection(ctx, staging)
		return err
	}

	if err := b.Delete(ctx, location); err != nil {
		_ = b.client.DropCollection(ctx, staging)
		return err
	}
	return b.client.RenameCollection(ctx, staging, location)
}

// isStaging 判断是否为暂存集合。转义后的文档标识不会以 "_s" 结尾。
func isStaging(name string) bool {
	return strings.HasPrefix(name, IndexPrefix) && strings.HasSuffix(name, stagingSuffix)
}

// Load 读取集合的维度和行数。
func (b *MilvusBackend) Load(ctx context.Context, location string) (Index, error) {
	exists, err := b.client.HasCollection(ctx, location)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, errs.ErrIndexNotFound.WithMessage("collection " + location + " not found")
	}

	dim, err := b.client.Dimension(ctx, location)
	if err != nil {
		return nil, errs.ErrIndexCorrupt.WithCause(err)
	}
	rows, err := b.client.RowCount(ctx, location)
	if err != nil {
		return nil, err
	}
	return &milvusIndex{client: b.client, collection: location, dim: dim, rows: int(rows)}, nil
}

// Delete 删除集合，不存在时不报错。
func (b *MilvusBackend) Delete(ctx context.Context, location string) error {
	exists, err := b.client.HasCollection(ctx, location)
	if err != nil || !exists {
		return err
	}
	return b.client.DropCollection(ctx, location)
}

// List 列出 store_ 前缀的集合。
func (b *MilvusBackend) List(ctx context.Context) ([]string, error) {
	names, err := b.client.ListCollections(ctx)
	if err != nil {
		return nil, err
	}

	return filterCollections(names, func(n string) bool {
		return strings.HasPrefix(n, IndexPrefix) && !isStaging(n)
	}), nil
}

// Abandoned 列出写入中断遗留的暂存集合。
func (b *MilvusBackend) Abandoned(ctx context.Context) ([]string, error) {
	names, err := b.client.ListCollections(ctx)
	if err != nil {
		return nil, err
	}
	return filterCollections(names, isStaging), nil
}

func filterCollections(names []string, keep func(string) bool) []string {
	var out []string
	for _, n := range names {
		if keep(n) {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

type milvusIndex struct {
	client     *milvus.Client
	collection string
	dim        int
	rows       int
}

func (m *milvusIndex) Len() int       { return m.rows }
func (m *milvusIndex) Dimension() int { return m.dim }

func (m *milvusIndex) Search(ctx context.Context, vector []float32, k int) ([]SearchResult, error) {
	if len(vector) != m.dim {
		return nil, fmt.Errorf("query dimension %d does not match index dimension %d", len(vector), m.dim)
	}
	hits, err := m.client.Search(ctx, m.collection, vector, k,
		[]string{"chunk_id", "document_id", "position", "content"}, true)
	if err != nil {
		return nil, err
	}

	out := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		c := &Chunk{Embedding: h.Vector}
		c.ID, _ = h.Metadata["chunk_id"].(string)
		c.DocumentID, _ = h.Metadata["document_id"].(string)
		c.Content, _ = h.Metadata["content"].(string)
		if pos, ok := h.Metadata["position"].(int64); ok {
			c.Position = int(pos)
		}
		out = append(out, SearchResult{Chunk: c, Score: float64(h.Score)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score < out[j].Score })
	return out, nil
}

var (
	_ Backend = (*MilvusBackend)(nil)
	_ Index   = (*milvusIndex)(nil)
)
