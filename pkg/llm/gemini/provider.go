// Package gemini 提供 Google Gemini 供应商实现。
// 默认使用 embedding-001 生成向量，gemini-1.5-flash-002 生成回答。
package gemini

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kart-io/docchat/pkg/llm"
	"github.com/kart-io/docchat/pkg/utils/httpclient"
)

const ProviderName = "gemini"

// maxBatchSize batchEmbedContents 单次请求的最大条目数。
const maxBatchSize = 100

func init() {
	llm.RegisterProvider(ProviderName, NewProvider)
}

// Config Gemini 供应商配置。
type Config struct {
	// BaseURL API 基础地址。
	BaseURL string `json:"base_url" mapstructure:"base_url"`

	// APIKey Google AI API 密钥。
	APIKey string `json:"api_key" mapstructure:"api_key"`

	// EmbedModel 用于生成嵌入的模型。
	EmbedModel string `json:"embed_model" mapstructure:"embed_model"`

	// ChatModel 用于生成回答的模型。
	ChatModel string `json:"chat_model" mapstructure:"chat_model"`

	// Timeout 请求超时时间。
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`

	// MaxRetries 5xx 响应的最大重试次数。
	MaxRetries int `json:"max_retries" mapstructure:"max_retries"`

	// Generation 文本生成参数。
	Generation llm.GenerationConfig `json:"generation" mapstructure:"generation"`
}

// DefaultConfig 返回默认配置。
func DefaultConfig() *Config {
	return &Config{
		BaseURL:    "https://generativelanguage.googleapis.com/v1beta",
		EmbedModel: "embedding-001",
		ChatModel:  "gemini-1.5-flash-002",
		Timeout:    120 * time.Second,
		MaxRetries: 3,
		Generation: llm.DefaultGenerationConfig(),
	}
}

// Provider Gemini 供应商实现。
type Provider struct {
	config *Config
	client *httpclient.Client
}

// NewProvider 从配置 map 创建 Gemini 供应商。
func NewProvider(configMap map[string]any) (llm.Provider, error) {
	cfg := DefaultConfig()

	if v, ok := configMap["base_url"].(string); ok && v != "" {
		cfg.BaseURL = v
	}
	if v, ok := configMap["api_key"].(string); ok && v != "" {
		cfg.APIKey = v
	}
	if v, ok := configMap["embed_model"].(string); ok && v != "" {
		cfg.EmbedModel = v
	}
	if v, ok := configMap["chat_model"].(string); ok && v != "" {
		cfg.ChatModel = v
	}
	if v, ok := configMap["timeout"].(time.Duration); ok && v > 0 {
		cfg.Timeout = v
	}
	if v, ok := configMap["max_retries"].(int); ok && v >= 0 {
		cfg.MaxRetries = v
	}
	cfg.Generation.ApplyMap(configMap)

	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: api_key 是必需的")
	}

	return NewProviderWithConfig(cfg), nil
}

// NewProviderWithConfig 使用结构化配置创建 Gemini 供应商。
func NewProviderWithConfig(cfg *Config) *Provider {
	return &Provider{
		config: cfg,
		client: httpclient.NewClient(cfg.Timeout, cfg.MaxRetries),
	}
}

// Name 返回供应商名称。
func (p *Provider) Name() string {
	return ProviderName
}

// EmbeddingModel 返回 Embedding 模型名。
func (p *Provider) EmbeddingModel() string {
	return p.config.EmbedModel
}

// ChatModel 返回生成模型名。
func (p *Provider) ChatModel() string {
	return p.config.ChatModel
}

type embedRequest struct {
	Requests []embedContentRequest `json:"requests"`
}

type embedContentRequest struct {
	Model   string  `json:"model"`
	Content content `json:"content"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type embedResponse struct {
	Embeddings []struct {
		Values []float32 `json:"values"`
	} `json:"embeddings"`
}

// Embed 为多个文本生成向量嵌入，超过单批上限时分批请求。
func (p *Provider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	model := modelPath(p.config.EmbedModel)
	url := fmt.Sprintf("%s/%s:batchEmbedContents?key=%s", p.config.BaseURL, model, p.config.APIKey)

	embeddings := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(texts) {
			end = len(texts)
		}

		reqs := make([]embedContentRequest, 0, end-start)
		for _, text := range texts[start:end] {
			reqs = append(reqs, embedContentRequest{
				Model:   model,
				Content: content{Parts: []part{{Text: text}}},
			})
		}

		var resp embedResponse
		if err := p.client.PostJSON(ctx, url, nil, embedRequest{Requests: reqs}, &resp); err != nil {
			return nil, llm.ClassifyError(ProviderName, "embed", err)
		}
		if len(resp.Embeddings) != end-start {
			return nil, llm.ClassifyError(ProviderName, "embed",
				fmt.Errorf("期望 %d 个向量，实际返回 %d 个", end-start, len(resp.Embeddings)))
		}
		for _, e := range resp.Embeddings {
			embeddings = append(embeddings, e.Values)
		}
	}

	return embeddings, nil
}

// EmbedSingle 为单个文本生成向量嵌入。
func (p *Provider) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := p.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

type chatRequest struct {
	Contents          []content         `json:"contents"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature,omitempty"`
	TopP            float64 `json:"topP,omitempty"`
	TopK            int     `json:"topK,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type chatResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
}

// Chat 进行多轮对话。没有候选内容时返回空字符串，由调用方决定如何回应。
func (p *Provider) Chat(ctx context.Context, messages []llm.Message) (string, error) {
	req := chatRequest{
		GenerationConfig: &generationConfig{
			Temperature:     p.config.Generation.Temperature,
			TopP:            p.config.Generation.TopP,
			TopK:            p.config.Generation.TopK,
			MaxOutputTokens: p.config.Generation.MaxOutputTokens,
		},
	}

	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleSystem:
			req.SystemInstruction = &content{Parts: []part{{Text: msg.Content}}}
		case llm.RoleUser:
			req.Contents = append(req.Contents, content{Role: "user", Parts: []part{{Text: msg.Content}}})
		case llm.RoleAssistant:
			req.Contents = append(req.Contents, content{Role: "model", Parts: []part{{Text: msg.Content}}})
		}
	}

	url := fmt.Sprintf("%s/%s:generateContent?key=%s",
		p.config.BaseURL, modelPath(p.config.ChatModel), p.config.APIKey)

	var resp chatResponse
	if err := p.client.PostJSON(ctx, url, nil, req, &resp); err != nil {
		return "", llm.ClassifyError(ProviderName, "generate", err)
	}

	if len(resp.Candidates) == 0 {
		return "", nil
	}

	var sb strings.Builder
	for _, pt := range resp.Candidates[0].Content.Parts {
		sb.WriteString(pt.Text)
	}
	return sb.String(), nil
}

// Generate 根据提示生成文本。
func (p *Provider) Generate(ctx context.Context, prompt string, systemPrompt string) (string, error) {
	messages := make([]llm.Message, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: systemPrompt})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: prompt})

	return p.Chat(ctx, messages)
}

// modelPath 规范化模型名为 models/<name>。
func modelPath(name string) string {
	if strings.HasPrefix(name, "models/") {
		return name
	}
	return "models/" + name
}

var (
	_ llm.Provider  = (*Provider)(nil)
	_ llm.ModelInfo = (*Provider)(nil)
)
