package llm

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderOptions_Flags(t *testing.T) {
	o := NewChatOptions()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	o.AddFlags(fs, "chat")

	require.NoError(t, fs.Parse([]string{"--chat.provider=ollama", "--chat.model=llama3", "--chat.timeout=5s"}))
	assert.Equal(t, "ollama", o.Provider)
	assert.Equal(t, "llama3", o.Model)
	assert.Equal(t, 5*time.Second, o.Timeout)
	assert.Empty(t, o.Validate(), "ollama 不需要 api key")
}

func TestProviderOptions_CompleteReadsEnv(t *testing.T) {
	t.Setenv("GOOGLE_API_KEY", "from-env")

	o := NewEmbeddingOptions()
	require.NoError(t, o.Complete())
	assert.Equal(t, "from-env", o.APIKey)
	assert.Empty(t, o.Validate())
}

func TestProviderOptions_Validate(t *testing.T) {
	t.Setenv("GOOGLE_API_KEY", "")

	o := NewChatOptions()
	o.Timeout = 0
	o.TopP = 2
	require.NoError(t, o.Complete())

	errs := o.Validate()
	assert.Len(t, errs, 3)
}

func TestProviderOptions_ToConfigMap(t *testing.T) {
	o := NewChatOptions()
	o.APIKey = "k"

	m := o.ToConfigMap()
	assert.Equal(t, "gemini-1.5-flash-002", m["chat_model"])
	assert.Equal(t, 3, m["top_k"])
	assert.Equal(t, 1024, m["max_output_tokens"])
	_, hasBase := m["base_url"]
	assert.False(t, hasBase, "空 base-url 不应覆盖供应商默认值")
}
