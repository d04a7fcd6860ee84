package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "github.com/kart-io/docchat/pkg/errors"
)

func testChunks(docID string) []*Chunk {
	return []*Chunk{
		{ID: "c0", DocumentID: docID, Position: 0, Content: "apples are red", Embedding: []float32{1, 0, 0}},
		{ID: "c1", DocumentID: docID, Position: 1, Content: "bananas are yellow", Embedding: []float32{0, 1, 0}},
		{ID: "c2", DocumentID: docID, Position: 2, Content: "limes are green", Embedding: []float32{0, 0, 1}},
	}
}

func TestLocalBackend_SaveLoadSearch(t *testing.T) {
	ctx := context.Background()
	b := NewLocalBackend(filepath.Join(t.TempDir(), "vector_stores"))
	loc := b.Locate("doc-1")
	assert.Equal(t, filepath.Join(b.Dir(), "store_doc-1"), loc)

	exists, err := b.Exists(ctx, loc)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, b.Save(ctx, loc, testChunks("doc-1")))

	exists, err = b.Exists(ctx, loc)
	require.NoError(t, err)
	assert.True(t, exists)

	idx, err := b.Load(ctx, loc)
	require.NoError(t, err)
	assert.Equal(t, 3, idx.Len())
	assert.Equal(t, 3, idx.Dimension())

	results, err := idx.Search(ctx, []float32{0.9, 0.1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "c0", results[0].Chunk.ID)
	assert.InDelta(t, 0.02, results[0].Score, 1e-6)
	assert.LessOrEqual(t, results[0].Score, results[1].Score)

	_, err = idx.Search(ctx, []float32{1, 0}, 1)
	assert.Error(t, err, "维度不一致应报错")
}

func TestLocalBackend_ReplaceLeavesNoTemp(t *testing.T) {
	ctx := context.Background()
	b := NewLocalBackend(t.TempDir())
	loc := b.Locate("doc")

	require.NoError(t, b.Save(ctx, loc, testChunks("doc")))
	replacement := testChunks("doc")[:1]
	require.NoError(t, b.Save(ctx, loc, replacement))

	idx, err := b.Load(ctx, loc)
	require.NoError(t, err)
	assert.Equal(t, 1, idx.Len())

	abandoned, err := b.Abandoned(ctx)
	require.NoError(t, err)
	assert.Empty(t, abandoned)

	entries, err := os.ReadDir(b.Dir())
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLocalBackend_SaveRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	b := NewLocalBackend(t.TempDir())

	assert.Error(t, b.Save(ctx, b.Locate("empty"), nil))

	chunks := testChunks("x")
	chunks[1].Embedding = []float32{1}
	assert.Error(t, b.Save(ctx, b.Locate("x"), chunks))
	exists, _ := b.Exists(ctx, b.Locate("x"))
	assert.False(t, exists)
}

func TestLocalBackend_LoadErrors(t *testing.T) {
	ctx := context.Background()
	b := NewLocalBackend(t.TempDir())

	_, err := b.Load(ctx, b.Locate("missing"))
	assert.ErrorIs(t, err, errs.ErrIndexNotFound)

	loc := b.Locate("broken")
	require.NoError(t, os.MkdirAll(loc, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(loc, indexFile), []byte("{not json"), 0o644))
	_, err = b.Load(ctx, loc)
	assert.ErrorIs(t, err, errs.ErrIndexCorrupt)
}

func TestLocalBackend_ListAbandonedDelete(t *testing.T) {
	ctx := context.Background()
	b := NewLocalBackend(t.TempDir())

	list, err := NewLocalBackend(filepath.Join(b.Dir(), "absent")).List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	require.NoError(t, b.Save(ctx, b.Locate("b"), testChunks("b")))
	require.NoError(t, b.Save(ctx, b.Locate("a"), testChunks("a")))
	stale := filepath.Join(b.Dir(), ".store_c.tmp-01HZX3K9V7")
	require.NoError(t, os.MkdirAll(stale, 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(b.Dir(), "unrelated"), 0o755))

	list, err = b.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{b.Locate("a"), b.Locate("b")}, list)

	abandoned, err := b.Abandoned(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{stale}, abandoned)

	require.NoError(t, b.Delete(ctx, b.Locate("a")))
	require.NoError(t, b.Delete(ctx, b.Locate("a")), "重复删除不应报错")
	list, err = b.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{b.Locate("b")}, list)
}

func TestLocalBackend_DocumentID(t *testing.T) {
	b := NewLocalBackend("/data/vector_stores")
	id, ok := b.DocumentID("/data/vector_stores/store_report.v2")
	assert.True(t, ok)
	assert.Equal(t, "report.v2", id)

	_, ok = b.DocumentID("/data/vector_stores/store_")
	assert.False(t, ok)
	_, ok = b.DocumentID("/data/other")
	assert.False(t, ok)
}

func TestMetadata_RoundTripAndErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "meta_doc.json")
	meta := &Metadata{
		DocumentID:     "doc",
		ChunkSize:      1000,
		ChunkOverlap:   200,
		NumChunks:      3,
		EmbeddingModel: "embedding-001",
		Dimension:      768,
		CreatedAt:      time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, WriteMetadata(path, meta))

	got, err := ReadMetadata(path)
	require.NoError(t, err)
	assert.Equal(t, meta.EmbeddingModel, got.EmbeddingModel)
	assert.Equal(t, meta.NumChunks, got.NumChunks)
	assert.True(t, meta.CreatedAt.Equal(got.CreatedAt))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"chunk_overlap": 200`)

	_, err = ReadMetadata(filepath.Join(dir, "missing.json"))
	assert.ErrorIs(t, err, errs.ErrIndexNotFound)

	require.NoError(t, os.WriteFile(path, []byte("]"), 0o644))
	_, err = ReadMetadata(path)
	assert.ErrorIs(t, err, errs.ErrIndexCorrupt)
}
