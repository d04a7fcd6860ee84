// Package metrics 提供 docchat 的进程内业务指标。
package metrics

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics 业务指标计数器。
type Metrics struct {
	// 入库指标
	documentsIngested atomic.Uint64
	chunksIngested    atomic.Uint64
	ingestErrors      atomic.Uint64

	// 问答指标
	answersGrounded  atomic.Uint64 // 基于文档生成的回答
	answersFallback  atomic.Uint64 // 回退到直接生成
	answersAbsent    atomic.Uint64 // 查询失败，无结果
	relevanceSkips   atomic.Uint64 // 相关性门限跳过的文档
	missingSkips     atomic.Uint64 // 索引不存在跳过的文档
	cooldowns        atomic.Uint64 // 资源耗尽后的冷却次数
	modelMismatches  atomic.Uint64 // 索引与当前 Embedding 模型不一致
	condensedQueries atomic.Uint64

	// 清理指标
	cleanupRemoved  atomic.Uint64
	cleanupFailures atomic.Uint64

	// LLM 调用指标
	llmCalls    atomic.Uint64
	llmErrors   atomic.Uint64
	llmExhaust  atomic.Uint64
	llmDuration atomic.Int64 // 纳秒

	startTime time.Time
}

var (
	global     *Metrics
	globalOnce sync.Once
)

// Global 返回全局指标实例。
func Global() *Metrics {
	globalOnce.Do(func() {
		global = New()
	})
	return global
}

// New 创建独立的指标实例，测试中使用。
func New() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// RecordIngest 记录一次文档入库。
func (m *Metrics) RecordIngest(chunks int, err error) {
	if err != nil {
		m.ingestErrors.Add(1)
		return
	}
	m.documentsIngested.Add(1)
	m.chunksIngested.Add(uint64(chunks))
}

// AnswerKind 回答来源。
type AnswerKind int

const (
	AnswerGrounded AnswerKind = iota
	AnswerFallback
	AnswerAbsent
)

// RecordAnswer 记录一次问答结果。
func (m *Metrics) RecordAnswer(kind AnswerKind) {
	switch kind {
	case AnswerGrounded:
		m.answersGrounded.Add(1)
	case AnswerFallback:
		m.answersFallback.Add(1)
	case AnswerAbsent:
		m.answersAbsent.Add(1)
	}
}

// RecordRelevanceSkip 记录一次相关性门限跳过。
func (m *Metrics) RecordRelevanceSkip() { m.relevanceSkips.Add(1) }

// RecordMissingSkip 记录一次索引不存在跳过。
func (m *Metrics) RecordMissingSkip() { m.missingSkips.Add(1) }

// RecordCooldown 记录一次冷却等待。
func (m *Metrics) RecordCooldown() { m.cooldowns.Add(1) }

// RecordModelMismatch 记录一次 Embedding 模型不一致。
func (m *Metrics) RecordModelMismatch() { m.modelMismatches.Add(1) }

// RecordCondensed 记录一次追问改写。
func (m *Metrics) RecordCondensed() { m.condensedQueries.Add(1) }

// RecordCleanup 记录清理结果。
func (m *Metrics) RecordCleanup(removed, failures int) {
	m.cleanupRemoved.Add(uint64(removed))
	m.cleanupFailures.Add(uint64(failures))
}

// RecordLLMCall 记录一次模型调用。
func (m *Metrics) RecordLLMCall(duration time.Duration, err error, exhausted bool) {
	m.llmCalls.Add(1)
	m.llmDuration.Add(int64(duration))
	if err != nil {
		m.llmErrors.Add(1)
	}
	if exhausted {
		m.llmExhaust.Add(1)
	}
}

// ModelMismatches 返回模型不一致次数。
func (m *Metrics) ModelMismatches() uint64 { return m.modelMismatches.Load() }

// Cooldowns 返回冷却次数。
func (m *Metrics) Cooldowns() uint64 { return m.cooldowns.Load() }

// Snapshot 返回全部计数器的快照。
func (m *Metrics) Snapshot() map[string]uint64 {
	return map[string]uint64{
		"documents_ingested":    m.documentsIngested.Load(),
		"chunks_ingested":       m.chunksIngested.Load(),
		"ingest_errors":         m.ingestErrors.Load(),
		"answers_grounded":      m.answersGrounded.Load(),
		"answers_fallback":      m.answersFallback.Load(),
		"answers_absent":        m.answersAbsent.Load(),
		"relevance_skips":       m.relevanceSkips.Load(),
		"missing_skips":         m.missingSkips.Load(),
		"cooldowns":             m.cooldowns.Load(),
		"model_mismatches":      m.modelMismatches.Load(),
		"condensed_queries":     m.condensedQueries.Load(),
		"cleanup_removed":       m.cleanupRemoved.Load(),
		"cleanup_failures":      m.cleanupFailures.Load(),
		"llm_calls":             m.llmCalls.Load(),
		"llm_errors":            m.llmErrors.Load(),
		"llm_exhausted":         m.llmExhaust.Load(),
		"llm_duration_ms_total": uint64(time.Duration(m.llmDuration.Load()).Milliseconds()),
	}
}

// Uptime 返回指标实例的存活时间。
func (m *Metrics) Uptime() time.Duration {
	return time.Since(m.startTime)
}

// String 以 key=value 形式输出快照，按键名排序。
func (m *Metrics) String() string {
	snap := m.Snapshot()
	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(strconv.FormatUint(snap[k], 10))
	}
	return sb.String()
}

// Reset 清零全部计数器。
func (m *Metrics) Reset() {
	for _, c := range []*atomic.Uint64{
		&m.documentsIngested, &m.chunksIngested, &m.ingestErrors,
		&m.answersGrounded, &m.answersFallback, &m.answersAbsent,
		&m.relevanceSkips, &m.missingSkips, &m.cooldowns, &m.modelMismatches, &m.condensedQueries,
		&m.cleanupRemoved, &m.cleanupFailures,
		&m.llmCalls, &m.llmErrors, &m.llmExhaust,
	} {
		c.Store(0)
	}
	m.llmDuration.Store(0)
	m.startTime = time.Now()
}
