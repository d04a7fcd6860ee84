package biz

import (
	"path/filepath"
	"sync"

	"github.com/kart-io/docchat/internal/docchat/store"
	errs "github.com/kart-io/docchat/pkg/errors"
	"github.com/kart-io/docchat/pkg/validator"
)

// MetadataPrefix 元数据文件名前缀，meta_<document id>.json。
const MetadataPrefix = "meta_"

// RegistryConfig 存储区域配置。
type RegistryConfig struct {
	IndexDir     string
	MetadataDir  string
	DocumentsDir string
}

// Registry 将文档标识映射到索引与元数据位置，并提供按位置的读写锁。
// 路径计算不做任何 I/O。
type Registry struct {
	cfg     RegistryConfig
	backend store.Backend
	locks   *keyedLocks
}

// NewRegistry 创建 Registry。
func NewRegistry(cfg RegistryConfig, backend store.Backend) *Registry {
	return &Registry{cfg: cfg, backend: backend, locks: newKeyedLocks()}
}

// Config 返回存储区域配置。
func (r *Registry) Config() RegistryConfig { return r.cfg }

// Backend 返回索引后端。
func (r *Registry) Backend() store.Backend { return r.backend }

// Paths 返回 (<IndexDir>/store_<id>, <MetadataDir>/meta_<id>.json)。
func (r *Registry) Paths(documentID string) (indexPath, metadataPath string, err error) {
	if err := validateDocumentID(documentID); err != nil {
		return "", "", err
	}
	return filepath.Join(r.cfg.IndexDir, store.IndexPrefix+documentID), r.metadataPath(documentID), nil
}

// Location 返回文档在索引后端中的位置。本地后端与 Paths 的索引路径相同。
func (r *Registry) Location(documentID string) (string, error) {
	if err := validateDocumentID(documentID); err != nil {
		return "", err
	}
	return r.backend.Locate(documentID), nil
}

// DocumentID 从索引位置反推文档标识。
func (r *Registry) DocumentID(location string) (string, bool) {
	id, ok := r.backend.DocumentID(location)
	if !ok || !validator.IsDocumentID(id) {
		return "", false
	}
	return id, true
}

// MetadataPathFor 返回索引位置对应的元数据路径。
func (r *Registry) MetadataPathFor(location string) (string, error) {
	id, ok := r.DocumentID(location)
	if !ok {
		return "", errs.ErrInvalidDocumentID.WithMessagef("cannot derive document id from %q", location)
	}
	return r.metadataPath(id), nil
}

// DocumentPath 返回源文件在文档区的保存路径。
func (r *Registry) DocumentPath(documentID, fileName string) string {
	return filepath.Join(r.cfg.DocumentsDir, documentID+"_"+filepath.Base(fileName))
}

func (r *Registry) metadataPath(documentID string) string {
	return filepath.Join(r.cfg.MetadataDir, MetadataPrefix+documentID+".json")
}

// Lock 获取位置的写锁，返回解锁函数。
func (r *Registry) Lock(location string) func() {
	return r.locks.lock(location, false)
}

// RLock 获取位置的读锁，返回解锁函数。
func (r *Registry) RLock(location string) func() {
	return r.locks.lock(location, true)
}

func validateDocumentID(documentID string) error {
	if err := validator.Var(documentID, "required,"+validator.TagDocumentID); err != nil {
		return errs.ErrInvalidDocumentID.WithCause(err)
	}
	return nil
}

// keyedLocks 按键分配的读写锁，无人持有时回收。
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.RWMutex
	refs int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[string]*refLock)}
}

func (k *keyedLocks) lock(key string, shared bool) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	if shared {
		l.RLock()
	} else {
		l.Lock()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if shared {
				l.RUnlock()
			} else {
				l.Unlock()
			}
			k.mu.Lock()
			l.refs--
			if l.refs == 0 {
				delete(k.locks, key)
			}
			k.mu.Unlock()
		})
	}
}

func (k *keyedLocks) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
