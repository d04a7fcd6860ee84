package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kart-io/logger"

	"github.com/kart-io/docchat/internal/pkg/rag/docutil"
	"github.com/kart-io/docchat/internal/pkg/rag/textutil"
	errs "github.com/kart-io/docchat/pkg/errors"
	"github.com/kart-io/docchat/pkg/utils/json"
)

const (
	// BackendLocal 本地文件索引后端名称。
	BackendLocal = "local"

	indexFile    = "index.json"
	indexVersion = 1
)

// LocalBackend 每个文档一个目录，目录内保存 index.json。
type LocalBackend struct {
	dir string
}

// NewLocalBackend 创建本地文件索引后端。
func NewLocalBackend(dir string) *LocalBackend {
	return &LocalBackend{dir: dir}
}

// Name 返回后端名称。
func (b *LocalBackend) Name() string { return BackendLocal }

// Dir 返回索引根目录。
func (b *LocalBackend) Dir() string { return b.dir }

// Locate 返回 <dir>/store_<id>。
func (b *LocalBackend) Locate(documentID string) string {
	return filepath.Join(b.dir, IndexPrefix+documentID)
}

// DocumentID 从索引目录名反推文档标识。
func (b *LocalBackend) DocumentID(location string) (string, bool) {
	base := filepath.Base(location)
	if !strings.HasPrefix(base, IndexPrefix) || len(base) == len(IndexPrefix) {
		return "", false
	}
	return strings.TrimPrefix(base, IndexPrefix), true
}

// Exists 判断索引目录是否存在。
func (b *LocalBackend) Exists(_ context.Context, location string) (bool, error) {
	info, err := os.Stat(location)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}

type indexFileData struct {
	Version   int      `json:"version"`
	Dimension int      `json:"dimension"`
	Chunks    []*Chunk `json:"chunks"`
}

// Save 先写入隐藏的临时目录再重命名到位，替换时旧目录先移到一旁，成功后删除。
func (b *LocalBackend) Save(_ context.Context, location string, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return fmt.Errorf("refusing to save empty index %s", location)
	}
	dim := len(chunks[0].Embedding)
	for _, c := range chunks {
		if len(c.Embedding) != dim || dim == 0 {
			return fmt.Errorf("inconsistent embedding dimension in chunk %s", c.ID)
		}
	}

	data, err := json.Marshal(&indexFileData{Version: indexVersion, Dimension: dim, Chunks: chunks})
	if err != nil {
		return fmt.Errorf("marshal index: %w", err)
	}

	if err := docutil.EnsureDir(filepath.Dir(location)); err != nil {
		return err
	}
	tmp := docutil.TempSibling(location)
	if err := os.Mkdir(tmp, 0o755); err != nil {
		return err
	}
	if err := docutil.WriteFileAtomic(filepath.Join(tmp, indexFile), data, 0o644); err != nil {
		_ = os.RemoveAll(tmp)
		return err
	}

	var aside string
	if docutil.DirExists(location) {
		aside = docutil.TempSibling(location)
		if err := os.Rename(location, aside); err != nil {
			_ = os.RemoveAll(tmp)
			return fmt.Errorf("move previous index aside: %w", err)
		}
	}

	if err := os.Rename(tmp, location); err != nil {
		_ = os.RemoveAll(tmp)
		if aside != "" {
			_ = os.Rename(aside, location)
		}
		return fmt.Errorf("commit index: %w", err)
	}

	if aside != "" {
		if err := os.RemoveAll(aside); err != nil {
			logger.Warnw("failed to remove previous index", "path", aside, "error", err.Error())
		}
	}
	return nil
}

// Load 读取索引目录。
func (b *LocalBackend) Load(_ context.Context, location string) (Index, error) {
	raw, err := os.ReadFile(filepath.Join(location, indexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.ErrIndexNotFound.WithCause(err)
		}
		return nil, err
	}

	var data indexFileData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, errs.ErrIndexCorrupt.WithCause(fmt.Errorf("decode %s: %w", location, err))
	}
	if data.Version != indexVersion {
		return nil, errs.ErrIndexCorrupt.WithMessage(fmt.Sprintf("unsupported index version %d", data.Version))
	}
	for _, c := range data.Chunks {
		if len(c.Embedding) != data.Dimension {
			return nil, errs.ErrIndexCorrupt.WithMessage(fmt.Sprintf("chunk %s has dimension %d, want %d",
				c.ID, len(c.Embedding), data.Dimension))
		}
	}
	return &flatIndex{chunks: data.Chunks, dim: data.Dimension}, nil
}

// Delete 删除索引目录。
func (b *LocalBackend) Delete(_ context.Context, location string) error {
	return docutil.RemoveIfExists(location)
}

// List 列出 store_* 索引目录。
func (b *LocalBackend) List(_ context.Context) ([]string, error) {
	return b.scan(func(name string) bool {
		return strings.HasPrefix(name, IndexPrefix)
	})
}

// Abandoned 列出中断写入遗留的隐藏临时目录。
func (b *LocalBackend) Abandoned(_ context.Context) ([]string, error) {
	return b.scan(func(name string) bool {
		return strings.HasPrefix(name, "."+IndexPrefix) && docutil.IsTempSibling(name)
	})
}

func (b *LocalBackend) scan(match func(name string) bool) ([]string, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []string
	for _, e := range entries {
		if e.IsDir() && match(e.Name()) {
			out = append(out, filepath.Join(b.dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

// flatIndex 内存中的暴力检索索引。
type flatIndex struct {
	chunks []*Chunk
	dim    int
}

func (f *flatIndex) Len() int       { return len(f.chunks) }
func (f *flatIndex) Dimension() int { return f.dim }

// Search 计算全部块的平方欧氏距离并取最近的 k 个，距离相同时按位置排序。
func (f *flatIndex) Search(_ context.Context, vector []float32, k int) ([]SearchResult, error) {
	if len(vector) != f.dim {
		return nil, fmt.Errorf("query dimension %d does not match index dimension %d", len(vector), f.dim)
	}
	if k <= 0 {
		return nil, nil
	}

	results := make([]SearchResult, len(f.chunks))
	for i, c := range f.chunks {
		results[i] = SearchResult{Chunk: c, Score: textutil.SquaredL2(vector, c.Embedding)}
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score < results[j].Score
		}
		return results[i].Chunk.Position < results[j].Chunk.Position
	})
	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}

var (
	_ Backend = (*LocalBackend)(nil)
	_ Index   = (*flatIndex)(nil)
)
