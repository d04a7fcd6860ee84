// Package llm provides LLM provider configuration options.
package llm

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/docchat/pkg/options"
)

var _ options.IOptions = (*ProviderOptions)(nil)

// apiKeyEnv 各供应商默认读取的 API 密钥环境变量。
var apiKeyEnv = map[string]string{
	"gemini": "GOOGLE_API_KEY",
	"openai": "OPENAI_API_KEY",
}

// ProviderOptions 定义 LLM 供应商配置。
type ProviderOptions struct {
	// Provider 供应商名称（gemini, openai, ollama）。
	Provider string `json:"provider" mapstructure:"provider"`

	// BaseURL API 基础地址，为空时使用供应商默认值。
	BaseURL string `json:"base-url" mapstructure:"base-url"`

	// APIKey API 密钥，为空时从供应商对应的环境变量读取。
	APIKey string `json:"-" mapstructure:"api-key"`

	// Model 使用的模型名称，为空时使用供应商默认值。
	Model string `json:"model" mapstructure:"model"`

	// Timeout 请求超时时间。
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`

	// MaxRetries 5xx 响应的最大重试次数。
	MaxRetries int `json:"max-retries" mapstructure:"max-retries"`

	// Organization 组织 ID（OpenAI 可选）。
	Organization string `json:"organization" mapstructure:"organization"`

	// CircuitBreaker 是否为供应商启用熔断。
	CircuitBreaker bool `json:"circuit-breaker" mapstructure:"circuit-breaker"`

	// 生成参数，仅对 Chat 供应商生效。
	Temperature     float64 `json:"temperature" mapstructure:"temperature"`
	TopK            int     `json:"top-k" mapstructure:"top-k"`
	TopP            float64 `json:"top-p" mapstructure:"top-p"`
	MaxOutputTokens int     `json:"max-output-tokens" mapstructure:"max-output-tokens"`
}

// NewProviderOptions 创建默认 LLM 供应商配置。
func NewProviderOptions() *ProviderOptions {
	return &ProviderOptions{
		Provider:        "gemini",
		Timeout:         120 * time.Second,
		MaxRetries:      3,
		Temperature:     0.7,
		TopK:            3,
		TopP:            0.8,
		MaxOutputTokens: 1024,
	}
}

// NewEmbeddingOptions 创建默认 Embedding 供应商配置。
func NewEmbeddingOptions() *ProviderOptions {
	opts := NewProviderOptions()
	opts.Model = "embedding-001"
	return opts
}

// NewChatOptions 创建默认 Chat 供应商配置。
func NewChatOptions() *ProviderOptions {
	opts := NewProviderOptions()
	opts.Model = "gemini-1.5-flash-002"
	return opts
}

// ToConfigMap 转换为配置 map，用于供应商工厂。
func (o *ProviderOptions) ToConfigMap() map[string]any {
	m := map[string]any{
		"api_key":           o.APIKey,
		"embed_model":       o.Model,
		"chat_model":        o.Model,
		"timeout":           o.Timeout,
		"max_retries":       o.MaxRetries,
		"organization":      o.Organization,
		"temperature":       o.Temperature,
		"top_k":             o.TopK,
		"top_p":             o.TopP,
		"max_output_tokens": o.MaxOutputTokens,
	}
	if o.BaseURL != "" {
		m["base_url"] = o.BaseURL
	}
	return m
}

// AddFlags adds flags for LLM provider options to the specified FlagSet.
// prefixes 通常为 "embedding" 或 "chat"。
func (o *ProviderOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...)

	fs.StringVar(&o.Provider, p+"provider", o.Provider, "LLM provider (gemini, openai, ollama).")
	fs.StringVar(&o.BaseURL, p+"base-url", o.BaseURL, "LLM API base URL, empty for the provider default.")
	fs.StringVar(&o.APIKey, p+"api-key", o.APIKey, "LLM API key (prefer GOOGLE_API_KEY / OPENAI_API_KEY).")
	fs.StringVar(&o.Model, p+"model", o.Model, "LLM model name.")
	fs.DurationVar(&o.Timeout, p+"timeout", o.Timeout, "LLM request timeout.")
	fs.IntVar(&o.MaxRetries, p+"max-retries", o.MaxRetries, "Retries for 5xx responses.")
	fs.StringVar(&o.Organization, p+"organization", o.Organization, "LLM organization ID (optional).")
	fs.BoolVar(&o.CircuitBreaker, p+"circuit-breaker", o.CircuitBreaker, "Wrap the provider with a circuit breaker.")
	fs.Float64Var(&o.Temperature, p+"temperature", o.Temperature, "Sampling temperature.")
	fs.IntVar(&o.TopK, p+"top-k", o.TopK, "Top-k sampling.")
	fs.Float64Var(&o.TopP, p+"top-p", o.TopP, "Top-p sampling.")
	fs.IntVar(&o.MaxOutputTokens, p+"max-output-tokens", o.MaxOutputTokens, "Maximum tokens per response.")
}

// Validate validates the LLM provider options.
func (o *ProviderOptions) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.Provider == "" {
		errs = append(errs, fmt.Errorf("provider is required"))
	}
	if _, ok := apiKeyEnv[o.Provider]; ok && o.APIKey == "" {
		errs = append(errs, fmt.Errorf("api-key is required for %s provider (set %s)", o.Provider, apiKeyEnv[o.Provider]))
	}
	if o.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be positive"))
	}
	if o.TopP < 0 || o.TopP > 1 {
		errs = append(errs, fmt.Errorf("top-p must be within [0, 1]"))
	}
	if o.MaxOutputTokens < 0 {
		errs = append(errs, fmt.Errorf("max-output-tokens must not be negative"))
	}
	return errs
}

// Complete completes the LLM provider options with defaults.
func (o *ProviderOptions) Complete() error {
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	// 如果 CLI 参数为空，从环境变量读取
	if o.APIKey == "" {
		if env, ok := apiKeyEnv[o.Provider]; ok {
			o.APIKey = os.Getenv(env)
		}
	}
	return nil
}
