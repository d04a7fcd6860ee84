package json

import (
	"bytes"
	stdjson "encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chunkRecord struct {
	ID        string            `json:"id"`
	Content   string            `json:"content"`
	Page      int               `json:"page"`
	Embedding []float32         `json:"embedding"`
	Meta      map[string]string `json:"meta,omitempty"`
}

func TestMarshal_CompatibleWithStdlib(t *testing.T) {
	v := map[string]interface{}{
		"document_id": "report.pdf",
		"chunk_count": 3,
		"html":        "<b>&</b>",
		"models":      map[string]string{"z": "last", "a": "first"},
	}

	got, err := Marshal(v)
	require.NoError(t, err)

	want, err := stdjson.Marshal(v)
	require.NoError(t, err)

	assert.Equal(t, string(want), string(got), "输出应与 encoding/json 字节一致")
}

func TestRoundTrip(t *testing.T) {
	in := chunkRecord{
		ID:        "c-1",
		Content:   "第一段\n内容",
		Page:      2,
		Embedding: []float32{0.25, -1.5, 3},
		Meta:      map[string]string{"source": "a.pdf"},
	}

	data, err := Marshal(in)
	require.NoError(t, err)

	var out chunkRecord
	require.NoError(t, Unmarshal(data, &out))
	assert.Equal(t, in, out)
}

func TestMarshalIndent(t *testing.T) {
	data, err := MarshalIndent(map[string]int{"b": 2, "a": 1}, "", "  ")
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"a\": 1,\n  \"b\": 2\n}", string(data))
}

func TestEncoderDecoder(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewEncoder(&buf).Encode(chunkRecord{ID: "x", Page: 1}))

	var out chunkRecord
	require.NoError(t, NewDecoder(&buf).Decode(&out))
	assert.Equal(t, "x", out.ID)
	assert.Equal(t, 1, out.Page)
}

func TestUnmarshal_Invalid(t *testing.T) {
	var out chunkRecord
	assert.Error(t, Unmarshal([]byte(`{"id":`), &out))
}

func TestConfigModes(t *testing.T) {
	defer ConfigStandardMode()

	ConfigFastestMode()
	data, err := Marshal(chunkRecord{ID: "fast"})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"fast"`)

	ConfigStandardMode()
	data, err = Marshal(chunkRecord{ID: "std"})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"std"`)
}
