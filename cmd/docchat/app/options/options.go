// Package options contains flags and options for the docchat command.
package options

import (
	"fmt"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	docchatsvc "github.com/kart-io/docchat/internal/docchat"
	"github.com/kart-io/docchat/pkg/app/cliflag"
	"github.com/kart-io/docchat/pkg/component/database"
	"github.com/kart-io/docchat/pkg/component/redis"
	"github.com/kart-io/docchat/pkg/infra/tracing"
	docchatopts "github.com/kart-io/docchat/pkg/options/docchat"
	llmopts "github.com/kart-io/docchat/pkg/options/llm"
	logopts "github.com/kart-io/docchat/pkg/options/logger"
	milvusopts "github.com/kart-io/docchat/pkg/options/milvus"
)

// Options contains the configuration options for docchat.
type Options struct {
	// LogOptions contains logger configuration.
	LogOptions *logopts.Options `json:"log" mapstructure:"log"`

	// EmbeddingOptions contains embedding provider configuration.
	EmbeddingOptions *llmopts.ProviderOptions `json:"embedding" mapstructure:"embedding"`

	// ChatOptions contains chat provider configuration.
	ChatOptions *llmopts.ProviderOptions `json:"chat" mapstructure:"chat"`

	// DocChatOptions contains storage, chunking and retrieval configuration.
	DocChatOptions *docchatopts.Options `json:"docchat" mapstructure:"docchat"`

	// RedisOptions contains the embedding cache configuration.
	RedisOptions *redis.Options `json:"redis" mapstructure:"redis"`

	// MilvusOptions contains Milvus configuration, used with the milvus backend.
	MilvusOptions *milvusopts.Options `json:"milvus" mapstructure:"milvus"`

	// DBOptions contains the document catalog database configuration.
	DBOptions *database.Options `json:"db" mapstructure:"db"`

	// TracingOptions contains OpenTelemetry tracing configuration.
	TracingOptions *tracing.Options `json:"tracing" mapstructure:"tracing"`
}

// NewOptions creates an Options instance with default values.
func NewOptions() *Options {
	return &Options{
		LogOptions:       logopts.NewOptions(),
		EmbeddingOptions: llmopts.NewEmbeddingOptions(),
		ChatOptions:      llmopts.NewChatOptions(),
		DocChatOptions:   docchatopts.NewOptions(),
		RedisOptions:     redis.NewOptions(),
		MilvusOptions:    milvusopts.NewOptions(),
		DBOptions:        database.NewOptions(),
		TracingOptions:   tracing.NewOptions(),
	}
}

// Flags returns flags grouped by section name.
func (o *Options) Flags() (fss cliflag.NamedFlagSets) {
	o.LogOptions.AddFlags(fss.FlagSet("log"))
	o.EmbeddingOptions.AddFlags(fss.FlagSet("embedding"), "embedding")
	o.ChatOptions.AddFlags(fss.FlagSet("chat"), "chat")
	o.DocChatOptions.AddFlags(fss.FlagSet("docchat"), "docchat")
	o.RedisOptions.AddFlags(fss.FlagSet("redis"))
	o.MilvusOptions.AddFlags(fss.FlagSet("milvus"))
	o.DBOptions.AddFlags(fss.FlagSet("db"))
	o.TracingOptions.AddFlags(fss.FlagSet("tracing"))
	return fss
}

// Complete completes all the required options.
func (o *Options) Complete() error {
	if err := o.LogOptions.Complete(); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	if err := o.EmbeddingOptions.Complete(); err != nil {
		return fmt.Errorf("embedding: %w", err)
	}
	if err := o.ChatOptions.Complete(); err != nil {
		return fmt.Errorf("chat: %w", err)
	}
	if err := o.DocChatOptions.Complete(); err != nil {
		return fmt.Errorf("docchat: %w", err)
	}
	if err := o.RedisOptions.Complete(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	if err := o.DBOptions.Complete(); err != nil {
		return fmt.Errorf("db: %w", err)
	}
	if err := o.TracingOptions.Complete(); err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	return nil
}

// Validate checks whether the options are valid.
func (o *Options) Validate() error {
	errs := []error{}

	errs = append(errs, o.LogOptions.Validate()...)
	errs = append(errs, o.EmbeddingOptions.Validate()...)
	errs = append(errs, o.ChatOptions.Validate()...)
	errs = append(errs, o.DocChatOptions.Validate()...)
	errs = append(errs, o.RedisOptions.Validate()...)
	errs = append(errs, o.DBOptions.Validate()...)
	errs = append(errs, o.TracingOptions.Validate()...)
	if o.DocChatOptions.Backend == docchatopts.BackendMilvus {
		errs = append(errs, o.MilvusOptions.Validate()...)
	}

	return utilerrors.NewAggregate(errs)
}

// Config builds a docchat runtime config from the options.
func (o *Options) Config() *docchatsvc.Config {
	return &docchatsvc.Config{
		DocChat:   o.DocChatOptions,
		Embedding: o.EmbeddingOptions,
		Chat:      o.ChatOptions,
		Redis:     o.RedisOptions,
		Milvus:    o.MilvusOptions,
		DB:        o.DBOptions,
		Tracing:   o.TracingOptions,
	}
}
