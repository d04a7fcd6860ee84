package store

import (
	"fmt"
	"os"

	"github.com/kart-io/docchat/internal/pkg/rag/docutil"
	errs "github.com/kart-io/docchat/pkg/errors"
	"github.com/kart-io/docchat/pkg/utils/json"
)

// WriteMetadata 原子写入元数据文件。
func WriteMetadata(path string, meta *Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	return docutil.WriteFileAtomic(path, data, 0o644)
}

// ReadMetadata 读取元数据文件，不存在时返回 errs.ErrIndexNotFound。
func ReadMetadata(path string) (*Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.ErrIndexNotFound.WithCause(err)
		}
		return nil, err
	}

	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, errs.ErrIndexCorrupt.WithCause(fmt.Errorf("decode %s: %w", path, err))
	}
	return &meta, nil
}
