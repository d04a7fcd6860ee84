package biz

import (
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/docchat/internal/docchat/store"
	errs "github.com/kart-io/docchat/pkg/errors"
)

func newTestRegistry() *Registry {
	return NewRegistry(RegistryConfig{
		IndexDir:     "/data/vector_stores",
		MetadataDir:  "/data/metadata",
		DocumentsDir: "/data/media/documents",
	}, store.NewLocalBackend("/data/vector_stores"))
}

func TestRegistry_Paths(t *testing.T) {
	r := newTestRegistry()

	indexPath, metaPath, err := r.Paths("42")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/data/vector_stores", "store_42"), indexPath)
	assert.Equal(t, filepath.Join("/data/metadata", "meta_42.json"), metaPath)

	loc, err := r.Location("42")
	require.NoError(t, err)
	assert.Equal(t, indexPath, loc)

	// 纯计算，重复调用结果一致
	again, _, _ := r.Paths("42")
	assert.Equal(t, indexPath, again)
}

func TestRegistry_InvalidDocumentID(t *testing.T) {
	r := newTestRegistry()

	for _, id := range []string{"", "../etc", "a/b", "a..b", ".hidden"} {
		_, _, err := r.Paths(id)
		assert.ErrorIs(t, err, errs.ErrInvalidDocumentID, id)

		_, err = r.Location(id)
		assert.ErrorIs(t, err, errs.ErrInvalidDocumentID, id)
	}
}

func TestRegistry_MetadataPathFor(t *testing.T) {
	r := newTestRegistry()

	loc, err := r.Location("doc-7")
	require.NoError(t, err)

	id, ok := r.DocumentID(loc)
	require.True(t, ok)
	assert.Equal(t, "doc-7", id)

	metaPath, err := r.MetadataPathFor(loc)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/data/metadata", "meta_doc-7.json"), metaPath)

	_, err = r.MetadataPathFor("/elsewhere/other")
	assert.ErrorIs(t, err, errs.ErrInvalidDocumentID)
}

func TestRegistry_DocumentPath(t *testing.T) {
	r := newTestRegistry()
	assert.Equal(t, filepath.Join("/data/media/documents", "9_report.pdf"), r.DocumentPath("9", "/tmp/x/report.pdf"))
}

func TestRegistry_LockExcludesReaders(t *testing.T) {
	r := newTestRegistry()
	loc := r.backend.Locate("1")

	unlock := r.Lock(loc)

	var readers atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := r.RLock(loc)
			readers.Add(1)
			release()
		}()
	}

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), readers.Load(), "写锁持有期间读者应阻塞")

	unlock()
	wg.Wait()
	assert.Equal(t, int32(3), readers.Load())
	assert.Equal(t, 0, r.locks.size())
}

func TestRegistry_LocksAreScopedPerLocation(t *testing.T) {
	r := newTestRegistry()

	unlockA := r.Lock(r.backend.Locate("a"))
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB := r.Lock(r.backend.Locate("b"))
		unlockB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("不同文档的锁不应互相阻塞")
	}
}

func TestRegistry_UnlockIsIdempotent(t *testing.T) {
	r := newTestRegistry()

	unlock := r.RLock("x")
	unlock()
	unlock()
	assert.Equal(t, 0, r.locks.size())
}
