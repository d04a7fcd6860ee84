// Package docchat provides storage, ingestion and retrieval options for docchat.
package docchat

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/docchat/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// 支持的向量存储后端。
const (
	BackendLocal  = "local"
	BackendMilvus = "milvus"
)

// Options contains docchat storage, chunking and retrieval configuration.
type Options struct {
	// Root is the storage root; empty directories below default to it.
	Root string `json:"root" mapstructure:"root"`

	// IndexDir holds one index per document (store_<id>).
	IndexDir string `json:"index-dir" mapstructure:"index-dir"`

	// MetadataDir holds the metadata sidecars (meta_<id>.json).
	MetadataDir string `json:"metadata-dir" mapstructure:"metadata-dir"`

	// DocumentsDir holds uploaded source documents.
	DocumentsDir string `json:"documents-dir" mapstructure:"documents-dir"`

	// Backend selects the vector store backend (local|milvus).
	Backend string `json:"backend" mapstructure:"backend"`

	// ChunkSize is the target chunk length in characters.
	ChunkSize int `json:"chunk-size" mapstructure:"chunk-size"`

	// ChunkOverlap is the overlap between neighbouring chunks in characters.
	ChunkOverlap int `json:"chunk-overlap" mapstructure:"chunk-overlap"`

	// EmbedBatchSize is the number of chunks per embedding request.
	EmbedBatchSize int `json:"embed-batch-size" mapstructure:"embed-batch-size"`

	// EmbedWorkers bounds concurrent embedding requests during ingestion.
	EmbedWorkers int `json:"embed-workers" mapstructure:"embed-workers"`

	// RelevanceThreshold is the top-1 distance above which a document is skipped.
	RelevanceThreshold float64 `json:"relevance-threshold" mapstructure:"relevance-threshold"`

	// K is the number of chunks passed to generation.
	K int `json:"k" mapstructure:"k"`

	// FetchK is the MMR candidate pool size.
	FetchK int `json:"fetch-k" mapstructure:"fetch-k"`

	// Lambda weights relevance against diversity in MMR.
	Lambda float64 `json:"lambda" mapstructure:"lambda"`

	// Cooldown is the wait after provider resource exhaustion.
	Cooldown time.Duration `json:"cooldown" mapstructure:"cooldown"`

	// QueryAttempts is the number of attempts for one answer call.
	QueryAttempts int `json:"query-attempts" mapstructure:"query-attempts"`

	// CondenseQuestion rewrites follow-up questions into standalone ones before retrieval.
	CondenseQuestion bool `json:"condense-question" mapstructure:"condense-question"`
}

// NewOptions creates new Options with defaults.
func NewOptions() *Options {
	return &Options{
		Root:               ".",
		Backend:            BackendLocal,
		ChunkSize:          1000,
		ChunkOverlap:       200,
		EmbedBatchSize:     100,
		EmbedWorkers:       4,
		RelevanceThreshold: 0.7,
		K:                  2,
		FetchK:             5,
		Lambda:             0.7,
		Cooldown:           30 * time.Second,
		QueryAttempts:      3,
		CondenseQuestion:   true,
	}
}

// AddFlags adds flags for docchat options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...)

	fs.StringVar(&o.Root, p+"root", o.Root, "Storage root directory.")
	fs.StringVar(&o.IndexDir, p+"index-dir", o.IndexDir, "Vector index directory (default <root>/vector_stores).")
	fs.StringVar(&o.MetadataDir, p+"metadata-dir", o.MetadataDir, "Metadata sidecar directory (default <root>/metadata).")
	fs.StringVar(&o.DocumentsDir, p+"documents-dir", o.DocumentsDir, "Source document directory (default <root>/media/documents).")
	fs.StringVar(&o.Backend, p+"backend", o.Backend, "Vector store backend (local|milvus).")
	fs.IntVar(&o.ChunkSize, p+"chunk-size", o.ChunkSize, "Target chunk size in characters.")
	fs.IntVar(&o.ChunkOverlap, p+"chunk-overlap", o.ChunkOverlap, "Overlap between chunks in characters.")
	fs.IntVar(&o.EmbedBatchSize, p+"embed-batch-size", o.EmbedBatchSize, "Chunks per embedding request.")
	fs.IntVar(&o.EmbedWorkers, p+"embed-workers", o.EmbedWorkers, "Concurrent embedding requests during ingestion.")
	fs.Float64Var(&o.RelevanceThreshold, p+"relevance-threshold", o.RelevanceThreshold, "Top-1 distance above which a document is skipped.")
	fs.IntVar(&o.K, p+"k", o.K, "Chunks retrieved per document.")
	fs.IntVar(&o.FetchK, p+"fetch-k", o.FetchK, "MMR candidate pool size.")
	fs.Float64Var(&o.Lambda, p+"lambda", o.Lambda, "MMR relevance weight in [0, 1].")
	fs.DurationVar(&o.Cooldown, p+"cooldown", o.Cooldown, "Wait after provider resource exhaustion.")
	fs.IntVar(&o.QueryAttempts, p+"query-attempts", o.QueryAttempts, "Attempts per answer call on resource exhaustion.")
	fs.BoolVar(&o.CondenseQuestion, p+"condense-question", o.CondenseQuestion, "Rewrite follow-up questions before retrieval.")
}

// Complete fills the storage sub-areas from Root.
func (o *Options) Complete() error {
	if o.Root == "" {
		o.Root = "."
	}
	if o.IndexDir == "" {
		o.IndexDir = filepath.Join(o.Root, "vector_stores")
	}
	if o.MetadataDir == "" {
		o.MetadataDir = filepath.Join(o.Root, "metadata")
	}
	if o.DocumentsDir == "" {
		o.DocumentsDir = filepath.Join(o.Root, "media", "documents")
	}
	if o.Backend == "" {
		o.Backend = BackendLocal
	}
	return nil
}

// Validate validates the docchat options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.Backend != BackendLocal && o.Backend != BackendMilvus {
		errs = append(errs, fmt.Errorf("backend must be %q or %q, got %q", BackendLocal, BackendMilvus, o.Backend))
	}
	if o.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("chunk-size must be positive"))
	}
	if o.ChunkOverlap < 0 || o.ChunkOverlap >= o.ChunkSize {
		errs = append(errs, fmt.Errorf("chunk-overlap must be in [0, chunk-size)"))
	}
	if o.EmbedBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("embed-batch-size must be positive"))
	}
	if o.EmbedWorkers <= 0 {
		errs = append(errs, fmt.Errorf("embed-workers must be positive"))
	}
	if o.K <= 0 || o.FetchK < o.K {
		errs = append(errs, fmt.Errorf("k must be positive and fetch-k >= k"))
	}
	if o.Lambda < 0 || o.Lambda > 1 {
		errs = append(errs, fmt.Errorf("lambda must be within [0, 1]"))
	}
	if o.Cooldown < 0 {
		errs = append(errs, fmt.Errorf("cooldown must not be negative"))
	}
	if o.QueryAttempts <= 0 {
		errs = append(errs, fmt.Errorf("query-attempts must be positive"))
	}
	return errs
}
