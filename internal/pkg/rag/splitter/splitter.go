// Package splitter 将长文本切分为带重叠的文本块。
//
// 块按 Unicode 字符计长，并记录在原文中的字节区间，
// 去掉重叠部分后按顺序拼接即可还原原文。
package splitter

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// DefaultSeparators 默认分隔符，从大到小：段落、行、句子、子句、短语、单词、字符。
var DefaultSeparators = []string{"\n\n", "\n", ". ", "! ", "? ", "; ", ", ", " ", ""}

// Chunk 原文中的一个文本块。
type Chunk struct {
	// Text 块内容，等于 source[Start:End]。
	Text string
	// Start 起始字节偏移（含）。
	Start int
	// End 结束字节偏移（不含）。
	End int
}

// Recursive 递归字符分割器。
//
// 优先在较大的自然边界处切分，片段仍超过 ChunkSize 时换用下一级分隔符，
// 最后一级空分隔符按字符硬切。相同输入总是得到相同输出。
type Recursive struct {
	chunkSize    int
	chunkOverlap int
	separators   []string
}

// Config 分割器配置。
type Config struct {
	ChunkSize    int
	ChunkOverlap int
	Separators   []string
}

// New 创建递归分割器，要求 0 <= ChunkOverlap < ChunkSize。
func New(cfg Config) (*Recursive, error) {
	if cfg.ChunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", cfg.ChunkSize)
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		return nil, fmt.Errorf("chunk overlap %d must be in [0, %d)", cfg.ChunkOverlap, cfg.ChunkSize)
	}
	seps := cfg.Separators
	if len(seps) == 0 {
		seps = DefaultSeparators
	}
	if seps[len(seps)-1] != "" {
		seps = append(append([]string(nil), seps...), "")
	}
	return &Recursive{
		chunkSize:    cfg.ChunkSize,
		chunkOverlap: cfg.ChunkOverlap,
		separators:   seps,
	}, nil
}

// ChunkSize 返回块大小。
func (s *Recursive) ChunkSize() int { return s.chunkSize }

// ChunkOverlap 返回块重叠大小。
func (s *Recursive) ChunkOverlap() int { return s.chunkOverlap }

// piece 原文中不可再分的连续片段。
type piece struct {
	start, end int
	runes      int
}

// Split 切分文本。空文本返回 nil。
func (s *Recursive) Split(text string) []Chunk {
	if text == "" {
		return nil
	}
	pieces := s.atomize(text, 0, len(text), s.separators, nil)
	return s.merge(text, pieces)
}

// atomize 将 text[start:end] 切成不超过 chunkSize 的连续片段，分隔符保留在前一片段末尾。
func (s *Recursive) atomize(text string, start, end int, seps []string, out []piece) []piece {
	n := utf8.RuneCountInString(text[start:end])
	if n <= s.chunkSize {
		return append(out, piece{start: start, end: end, runes: n})
	}

	sep, rest := "", []string(nil)
	for i, candidate := range seps {
		if candidate == "" || strings.Contains(text[start:end], candidate) {
			sep, rest = candidate, seps[i+1:]
			break
		}
	}

	if sep == "" {
		for i := start; i < end; {
			_, size := utf8.DecodeRuneInString(text[i:end])
			out = append(out, piece{start: i, end: i + size, runes: 1})
			i += size
		}
		return out
	}

	pos := start
	for pos < end {
		idx := strings.Index(text[pos:end], sep)
		next := end
		if idx >= 0 {
			next = pos + idx + len(sep)
		}
		out = s.atomize(text, pos, next, rest, out)
		pos = next
	}
	return out
}

// merge 贪心合并片段，新块从上一块末尾不超过 chunkOverlap 的片段开始。
func (s *Recursive) merge(text string, pieces []piece) []Chunk {
	var chunks []Chunk
	var current []piece
	total := 0

	emit := func() {
		first, last := current[0], current[len(current)-1]
		chunks = append(chunks, Chunk{
			Text:  text[first.start:last.end],
			Start: first.start,
			End:   last.end,
		})
	}

	for _, p := range pieces {
		if total+p.runes > s.chunkSize && len(current) > 0 {
			emit()
			for total > s.chunkOverlap || (total+p.runes > s.chunkSize && total > 0) {
				total -= current[0].runes
				current = current[1:]
			}
		}
		current = append(current, p)
		total += p.runes
	}
	if len(current) > 0 {
		emit()
	}
	return chunks
}

// Texts 返回块内容列表。
func Texts(chunks []Chunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Text
	}
	return out
}

// Reconstruct 去掉相邻块的重叠部分后拼接，还原原文。
func Reconstruct(chunks []Chunk) string {
	var sb strings.Builder
	end := 0
	for i, c := range chunks {
		if i == 0 {
			sb.WriteString(c.Text)
		} else if c.End > end {
			sb.WriteString(c.Text[end-c.Start:])
		}
		if c.End > end {
			end = c.End
		}
	}
	return sb.String()
}
