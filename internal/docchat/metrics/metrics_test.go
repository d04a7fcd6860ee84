package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMetrics_RecordAndSnapshot(t *testing.T) {
	m := New()

	m.RecordIngest(12, nil)
	m.RecordIngest(0, errors.New("boom"))
	m.RecordAnswer(AnswerGrounded)
	m.RecordAnswer(AnswerFallback)
	m.RecordAnswer(AnswerAbsent)
	m.RecordRelevanceSkip()
	m.RecordMissingSkip()
	m.RecordCooldown()
	m.RecordModelMismatch()
	m.RecordCleanup(3, 1)
	m.RecordLLMCall(1500*time.Millisecond, errors.New("429"), true)

	snap := m.Snapshot()
	assert.Equal(t, uint64(1), snap["documents_ingested"])
	assert.Equal(t, uint64(12), snap["chunks_ingested"])
	assert.Equal(t, uint64(1), snap["ingest_errors"])
	assert.Equal(t, uint64(1), snap["answers_grounded"])
	assert.Equal(t, uint64(1), snap["answers_fallback"])
	assert.Equal(t, uint64(1), snap["answers_absent"])
	assert.Equal(t, uint64(3), snap["cleanup_removed"])
	assert.Equal(t, uint64(1), snap["llm_exhausted"])
	assert.Equal(t, uint64(1500), snap["llm_duration_ms_total"])
	assert.Equal(t, uint64(1), m.ModelMismatches())
	assert.Equal(t, uint64(1), m.Cooldowns())

	assert.Contains(t, m.String(), "chunks_ingested=12")
	assert.Contains(t, m.String(), "answers_absent=1 answers_fallback=1")
}

func TestMetrics_Reset(t *testing.T) {
	m := New()
	m.RecordCooldown()
	m.RecordLLMCall(time.Second, nil, false)
	m.Reset()

	for k, v := range m.Snapshot() {
		assert.Zero(t, v, k)
	}
}

func TestGlobal_Singleton(t *testing.T) {
	assert.Same(t, Global(), Global())
}
