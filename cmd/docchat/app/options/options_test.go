package options

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	docchatopts "github.com/kart-io/docchat/pkg/options/docchat"
)

func TestOptions_Flags(t *testing.T) {
	fss := NewOptions().Flags()

	for section, flag := range map[string]string{
		"log":       "log.level",
		"embedding": "embedding.provider",
		"chat":      "chat.model",
		"docchat":   "docchat.root",
		"redis":     "redis.enabled",
		"milvus":    "milvus.address",
		"db":        "db.driver",
		"tracing":   "tracing.exporter",
	} {
		fs, ok := fss.FlagSets[section]
		require.True(t, ok, section)
		assert.NotNil(t, fs.Lookup(flag), flag)
	}
}

func TestOptions_CompleteAndValidate(t *testing.T) {
	t.Setenv("GOOGLE_API_KEY", "test-key")

	o := NewOptions()
	o.DocChatOptions.Root = filepath.Join(t.TempDir(), "data")
	require.NoError(t, o.Complete())
	require.NoError(t, o.Validate())

	assert.Equal(t, "test-key", o.EmbeddingOptions.APIKey)
	assert.Equal(t, filepath.Join(o.DocChatOptions.Root, "vector_stores"), o.DocChatOptions.IndexDir)

	cfg := o.Config()
	assert.Same(t, o.DocChatOptions, cfg.DocChat)
	assert.Same(t, o.DBOptions, cfg.DB)
}

func TestOptions_ValidateAggregatesErrors(t *testing.T) {
	t.Setenv("GOOGLE_API_KEY", "")

	o := NewOptions()
	o.DocChatOptions.ChunkOverlap = o.DocChatOptions.ChunkSize
	require.NoError(t, o.Complete())

	err := o.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chunk-overlap")
	assert.Contains(t, err.Error(), "GOOGLE_API_KEY")
}

func TestOptions_MilvusValidatedOnlyWhenSelected(t *testing.T) {
	t.Setenv("GOOGLE_API_KEY", "k")

	o := NewOptions()
	o.MilvusOptions.Address = ""
	require.NoError(t, o.Complete())
	assert.NoError(t, o.Validate())

	o.DocChatOptions.Backend = docchatopts.BackendMilvus
	assert.Error(t, o.Validate())
}
