package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/docchat/pkg/component/milvus"
	errs "github.com/kart-io/docchat/pkg/errors"
	milvusopts "github.com/kart-io/docchat/pkg/options/milvus"
)

// 需要可用的 Milvus：DOCCHAT_TEST_MILVUS_ADDRESS=localhost:19530
func newTestMilvusBackend(t *testing.T) *MilvusBackend {
	t.Helper()
	addr := os.Getenv("DOCCHAT_TEST_MILVUS_ADDRESS")
	if addr == "" {
		t.Skip("DOCCHAT_TEST_MILVUS_ADDRESS not set")
	}

	opts := milvusopts.NewOptions()
	opts.Address = addr
	opts.NList = 1
	opts.NProbe = 1

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := milvus.New(ctx, opts)
	if err != nil {
		t.Skipf("milvus unreachable: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return NewMilvusBackend(client)
}

func TestMilvusBackend_Lifecycle(t *testing.T) {
	b := newTestMilvusBackend(t)
	ctx := context.Background()
	loc := b.Locate("it-doc_1")
	t.Cleanup(func() { _ = b.Delete(ctx, loc) })

	require.NoError(t, b.Save(ctx, loc, testChunks("it-doc_1")))

	exists, err := b.Exists(ctx, loc)
	require.NoError(t, err)
	assert.True(t, exists)

	list, err := b.List(ctx)
	require.NoError(t, err)
	assert.Contains(t, list, loc)

	idx, err := b.Load(ctx, loc)
	require.NoError(t, err)
	assert.Equal(t, 3, idx.Dimension())

	results, err := MMRSearch(ctx, idx, []float32{1, 0, 0}, 2, 3, 0.7)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "c0", results[0].Chunk.ID)
	assert.Equal(t, "apples are red", results[0].Chunk.Content)

	require.NoError(t, b.Delete(ctx, loc))
	require.NoError(t, b.Delete(ctx, loc))
	_, err = b.Load(ctx, loc)
	assert.ErrorIs(t, err, errs.ErrIndexNotFound)
}

func TestMilvusBackend_StagingNames(t *testing.T) {
	b := &MilvusBackend{}
	for _, id := range []string{"doc", "doc_s", "a-b_c.d", "s"} {
		loc := b.Locate(id)
		assert.False(t, isStaging(loc), loc)

		staging := loc + stagingSuffix
		assert.True(t, isStaging(staging), staging)
		_, ok := b.DocumentID(staging)
		assert.False(t, ok, "暂存集合不对应任何文档")
	}
}

func TestMilvusBackend_ResaveReplacesIndex(t *testing.T) {
	b := newTestMilvusBackend(t)
	ctx := context.Background()
	loc := b.Locate("it-resave")
	t.Cleanup(func() { _ = b.Delete(ctx, loc) })

	require.NoError(t, b.Save(ctx, loc, testChunks("it-resave")))

	// 写入失败时保留旧集合
	bad := testChunks("it-resave")
	bad[1].Embedding = []float32{1, 0}
	require.Error(t, b.Save(ctx, loc, bad))

	idx, err := b.Load(ctx, loc)
	require.NoError(t, err)
	assert.Equal(t, 3, idx.Len())

	require.NoError(t, b.Save(ctx, loc, testChunks("it-resave")[:2]))
	idx, err = b.Load(ctx, loc)
	require.NoError(t, err)
	assert.Equal(t, 2, idx.Len())

	list, err := b.List(ctx)
	require.NoError(t, err)
	assert.Contains(t, list, loc)
	assert.NotContains(t, list, loc+stagingSuffix)

	abandoned, err := b.Abandoned(ctx)
	require.NoError(t, err)
	assert.NotContains(t, abandoned, loc+stagingSuffix)
}
