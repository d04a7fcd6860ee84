// Package docutil 提供文档读取与文件落盘相关的工具函数。
package docutil

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	errs "github.com/kart-io/docchat/pkg/errors"
	"github.com/kart-io/docchat/pkg/utils/id"
)

// SupportedExtensions 可提取文本的文件扩展名。
var SupportedExtensions = []string{".pdf", ".txt", ".md"}

// IsSupported 判断文件扩展名是否可提取文本。
func IsSupported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range SupportedExtensions {
		if e == ext {
			return true
		}
	}
	return false
}

// ExtractPages 按页提取文档文本。
// PDF 逐页提取，无法解析的页保留为空字符串；纯文本文件视为单页。
// 失败时返回 errs.ErrExtraction 或 errs.ErrUnsupportedFormat。
func ExtractPages(path string) ([]string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return extractPDF(path)
	case ".txt", ".md":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errs.ErrExtraction.WithCause(err)
		}
		return []string{string(bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n")))}, nil
	default:
		return nil, errs.ErrUnsupportedFormat.WithMessage(
			fmt.Sprintf("unsupported document format %q", filepath.Ext(path)))
	}
}

func extractPDF(path string) (pages []string, err error) {
	// ledongthuc/pdf 遇到损坏文件可能 panic
	defer func() {
		if r := recover(); r != nil {
			pages, err = nil, errs.ErrExtraction.WithCause(fmt.Errorf("parse pdf %s: %v", path, r))
		}
	}()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.ErrExtraction.WithCause(err)
	}

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, errs.ErrExtraction.WithCause(fmt.Errorf("parse pdf %s: %w", path, err))
	}

	count := reader.NumPage()
	pages = make([]string, 0, count)
	for i := 1; i <= count; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			pages = append(pages, "")
			continue
		}
		pages = append(pages, text)
	}
	return pages, nil
}

// JoinPages 用空行连接非空页面。
func JoinPages(pages []string) string {
	nonEmpty := make([]string, 0, len(pages))
	for _, p := range pages {
		if strings.TrimSpace(p) != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, "\n\n")
}

// EnsureDir 确保目录存在，如果不存在则创建。
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

// FileExists 检查路径是否存在。
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// DirExists 检查目录是否存在。
func DirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// TempSibling 返回 path 同目录下的隐藏临时路径。
func TempSibling(path string) string {
	return filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".tmp-"+id.NewULID())
}

// IsTempSibling 判断文件名是否为 TempSibling 生成的临时名。
func IsTempSibling(name string) bool {
	return strings.HasPrefix(name, ".") && strings.Contains(name, ".tmp-")
}

// WriteFileAtomic 先写同目录临时文件再重命名，读者只会看到旧内容或完整的新内容。
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	if err := EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}

	tmp := TempSibling(path)
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// CopyFile 将 src 原子地复制到 dst。
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	data, err := io.ReadAll(in)
	if err != nil {
		return err
	}
	return WriteFileAtomic(dst, data, 0o644)
}

// RemoveIfExists 删除文件或目录，不存在时不报错。
func RemoveIfExists(path string) error {
	if err := os.RemoveAll(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
