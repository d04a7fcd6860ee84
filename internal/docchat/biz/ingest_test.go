package biz

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/docchat/internal/docchat/store"
	errs "github.com/kart-io/docchat/pkg/errors"
)

func TestIngest_PersistsIndexAndMetadata(t *testing.T) {
	env := newTestEnv(t)
	in := env.ingestor(t, IngestConfig{ChunkSize: 50, ChunkOverlap: 10, EmbedBatchSize: 2})
	in.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	text := strings.Repeat("The cat sat on the mat. ", 10) + "\n\n" + strings.Repeat("A dog ran in the park. ", 10)
	src := env.writeSource(t, "pets.txt", text)

	loc, err := in.Ingest(context.Background(), src, "pets")
	require.NoError(t, err)

	indexPath, metaPath, err := env.registry.Paths("pets")
	require.NoError(t, err)
	assert.Equal(t, indexPath, loc)
	assert.DirExists(t, indexPath)
	assert.FileExists(t, metaPath)

	meta, err := store.ReadMetadata(metaPath)
	require.NoError(t, err)
	assert.Equal(t, "pets", meta.DocumentID)
	assert.Equal(t, 50, meta.ChunkSize)
	assert.Equal(t, 10, meta.ChunkOverlap)
	assert.Equal(t, "fake-embed-v1", meta.EmbeddingModel)
	assert.Equal(t, 4, meta.Dimension)
	assert.True(t, in.now().Equal(meta.CreatedAt))
	assert.Greater(t, meta.NumChunks, 2)

	idx, err := env.registry.Backend().Load(context.Background(), loc)
	require.NoError(t, err)
	assert.Equal(t, meta.NumChunks, idx.Len())
	assert.Equal(t, 4, idx.Dimension())

	// 每个块都被向量化，且分多个批次
	assert.Len(t, env.embedder.texts, meta.NumChunks)
	assert.Equal(t, (meta.NumChunks+1)/2, env.embedder.callCount())

	snap := env.metrics.Snapshot()
	assert.Equal(t, uint64(1), snap["documents_ingested"])
	assert.Equal(t, uint64(meta.NumChunks), snap["chunks_ingested"])
}

func TestIngest_SearchFindsRelevantChunk(t *testing.T) {
	env := newTestEnv(t)
	in := env.ingestor(t, IngestConfig{ChunkSize: 25, ChunkOverlap: 0, EmbedBatchSize: 10})
	loc, err := in.Ingest(context.Background(), env.writeSource(t, "mixed.txt", "Fish swim in water.\n\nMy cat likes to nap."), "mixed")
	require.NoError(t, err)

	idx, err := env.registry.Backend().Load(context.Background(), loc)
	require.NoError(t, err)
	assert.Equal(t, 2, idx.Len())

	results, err := idx.Search(context.Background(), keywordEmbed("cat"), 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "My cat likes to nap.", results[0].Chunk.Content)
	assert.InDelta(t, 0, results[0].Score, 1e-6)
}

func TestIngest_ReplacesExistingIndex(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.ingestText(t, "doc", "a cat\n\n"+strings.Repeat("x", 1500))
	loc := env.ingestText(t, "doc", "a dog")

	idx, err := env.registry.Backend().Load(ctx, loc)
	require.NoError(t, err)
	require.Equal(t, 1, idx.Len())

	results, err := idx.Search(ctx, keywordEmbed("dog"), 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a dog", results[0].Chunk.Content)

	locations, err := env.registry.Backend().List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{loc}, locations)
}

func TestIngest_ExtractionFailures(t *testing.T) {
	env := newTestEnv(t)
	in := env.ingestor(t, DefaultIngestConfig())
	ctx := context.Background()

	_, err := in.Ingest(ctx, env.writeSource(t, "blank.txt", "  \n\n "), "blank")
	assert.ErrorIs(t, err, errs.ErrExtraction)

	_, err = in.Ingest(ctx, env.writeSource(t, "sheet.xlsx", "cells"), "sheet")
	assert.ErrorIs(t, err, errs.ErrUnsupportedFormat)

	_, err = in.Ingest(ctx, filepath.Join(env.root, "missing.txt"), "missing")
	assert.ErrorIs(t, err, errs.ErrExtraction)

	_, err = in.Ingest(ctx, env.writeSource(t, "bad.pdf", "not a pdf"), "bad")
	assert.ErrorIs(t, err, errs.ErrExtraction)

	for _, id := range []string{"blank", "sheet", "missing", "bad"} {
		indexPath, metaPath, _ := env.registry.Paths(id)
		assert.NoDirExists(t, indexPath)
		assert.NoFileExists(t, metaPath)
	}
	assert.Equal(t, uint64(4), env.metrics.Snapshot()["ingest_errors"])
}

func TestIngest_InvalidDocumentID(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.ingestor(t, DefaultIngestConfig()).Ingest(context.Background(), env.writeSource(t, "a.txt", "cat"), "../x")
	assert.ErrorIs(t, err, errs.ErrInvalidDocumentID)
}

func TestIngest_EmbeddingFailureLeavesNothing(t *testing.T) {
	env := newTestEnv(t)
	env.embedder.err = func(int) error { return errors.New("upstream down") }

	_, err := env.ingestor(t, DefaultIngestConfig()).Ingest(context.Background(), env.writeSource(t, "a.txt", "cat"), "a")
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrIngestion)
	assert.ErrorIs(t, err, errs.ErrProviderFailure)

	indexPath, metaPath, _ := env.registry.Paths("a")
	assert.NoDirExists(t, indexPath)
	assert.NoFileExists(t, metaPath)
}

func TestIngest_MetadataFailureRollsBackIndex(t *testing.T) {
	env := newTestEnv(t)
	// 元数据目录被普通文件占用，写入必然失败
	require.NoError(t, os.WriteFile(env.registry.Config().MetadataDir, []byte("x"), 0o644))

	_, err := env.ingestor(t, DefaultIngestConfig()).Ingest(context.Background(), env.writeSource(t, "a.txt", "cat"), "a")
	assert.ErrorIs(t, err, errs.ErrIngestion)

	indexPath, _, _ := env.registry.Paths("a")
	assert.NoDirExists(t, indexPath)
}

func TestNewIngestor_InvalidConfig(t *testing.T) {
	env := newTestEnv(t)

	_, err := NewIngestor(env.registry, env.gateway, env.pool, IngestConfig{ChunkSize: 10, ChunkOverlap: 10, EmbedBatchSize: 1}, nil)
	assert.Error(t, err)

	_, err = NewIngestor(env.registry, env.gateway, env.pool, IngestConfig{ChunkSize: 10, ChunkOverlap: 0}, nil)
	assert.Error(t, err)

	_, err = NewIngestor(env.registry, env.gateway, nil, DefaultIngestConfig(), nil)
	assert.Error(t, err)
}
