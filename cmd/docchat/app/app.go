// Package app provides the docchat command line application.
package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kart-io/docchat/cmd/docchat/app/options"
	docchatsvc "github.com/kart-io/docchat/internal/docchat"
	"github.com/kart-io/docchat/internal/docchat/biz"
	"github.com/kart-io/docchat/internal/model"
	"github.com/kart-io/docchat/pkg/infra/app"
	"github.com/kart-io/docchat/pkg/llm"
	"github.com/kart-io/docchat/pkg/utils/json"
)

const (
	// Name is the name of the application.
	Name = "docchat"

	// commandDesc is the description of the command.
	commandDesc = `DocChat

Chat with your documents. Uploaded PDF, text and Markdown files are split into
chunks, embedded and stored as per-document vector indexes. Questions are
answered from the relevant documents of a session and fall back to plain
generation when no document can answer.`
)

var (
	titleColor = color.New(color.FgCyan, color.Bold)
	okColor    = color.New(color.FgGreen)
	warnColor  = color.New(color.FgYellow)
	errColor   = color.New(color.FgRed)
)

// NewApp creates and returns a new App object with default parameters.
func NewApp() *app.App {
	opts := options.NewOptions()
	return app.NewApp(
		app.WithName(Name),
		app.WithShortDescription("Chat with your documents"),
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithPreRunFunc(opts.LogOptions.Init),
		// 错误由 Run 按错误码输出
		app.WithSilence(),
		app.WithCommands(
			newIngestCommand(opts),
			newAskCommand(opts),
			newChatCommand(opts),
			newDeleteCommand(opts),
			newPurgeCommand(opts),
			newStatsCommand(opts),
		),
	)
}

// withRuntime builds the runtime, runs fn and releases every connection.
// The context is cancelled on SIGINT or SIGTERM.
func withRuntime(opts *options.Options, fn func(ctx context.Context, rt *docchatsvc.Runtime) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := opts.Config().New(ctx)
	if err != nil {
		return fmt.Errorf("failed to create runtime: %w", err)
	}
	defer func() {
		if err := rt.Close(); err != nil {
			warnColor.Fprintf(os.Stderr, "close runtime: %v\n", err)
		}
	}()

	return fn(ctx, rt)
}

func newIngestCommand(opts *options.Options) *cobra.Command {
	req := &biz.UploadRequest{}
	cmd := &cobra.Command{
		Use:   "ingest FILE",
		Short: "Upload a document into a session and index it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.SourcePath = args[0]
			return withRuntime(opts, func(ctx context.Context, rt *docchatsvc.Runtime) error {
				doc, err := rt.Service.Upload(ctx, req)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				okColor.Fprintf(out, "ingested %s\n", doc.ID)
				fmt.Fprintf(out, "  title:   %s\n", doc.Title)
				fmt.Fprintf(out, "  session: %s\n", doc.SessionID)
				fmt.Fprintf(out, "  index:   %s\n", doc.EmbeddingStore)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&req.SessionID, "session", "", "Chat session that owns the document.")
	cmd.Flags().StringVar(&req.DocumentID, "id", "", "Document id (default: generated).")
	cmd.Flags().StringVar(&req.Title, "title", "", "Document title (default: file name).")
	cmd.Flags().StringVar(&req.UserID, "user", "", "Uploading user.")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

func newAskCommand(opts *options.Options) *cobra.Command {
	var session, historyFile string
	cmd := &cobra.Command{
		Use:   "ask QUESTION",
		Short: "Ask a question about the documents of a session",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return reply(cmd, opts, session, strings.Join(args, " "), historyFile)
		},
	}
	cmd.Flags().StringVar(&session, "session", "", "Chat session whose documents are searched.")
	cmd.Flags().StringVar(&historyFile, "history", "", "JSON file with prior turns: [{\"message\":...,\"response\":...}].")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

func newChatCommand(opts *options.Options) *cobra.Command {
	var historyFile string
	cmd := &cobra.Command{
		Use:   "chat MESSAGE",
		Short: "Chat without documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return reply(cmd, opts, "", strings.Join(args, " "), historyFile)
		},
	}
	cmd.Flags().StringVar(&historyFile, "history", "", "JSON file with prior turns.")
	return cmd
}

func reply(cmd *cobra.Command, opts *options.Options, session, message, historyFile string) error {
	history, err := loadHistory(historyFile)
	if err != nil {
		return err
	}
	return withRuntime(opts, func(ctx context.Context, rt *docchatsvc.Runtime) error {
		r := rt.Service.Chat(ctx, session, message, history)
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, r.Text)
		switch {
		case r.Grounded:
			titleColor.Fprintln(out, "\nsources:")
			for _, s := range r.Sources {
				fmt.Fprintf(out, "  %s\n", s)
			}
		case r.Kind != biz.GenerateOK:
			warnColor.Fprintf(out, "\n(no answer: %s)\n", r.Kind)
		}
		return nil
	})
}

// loadHistory reads prior conversation turns from a JSON file.
func loadHistory(path string) ([]model.ConversationTurn, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	var turns []model.ConversationTurn
	if err := json.Unmarshal(data, &turns); err != nil {
		return nil, fmt.Errorf("parse history %s: %w", path, err)
	}
	return turns, nil
}

func newDeleteCommand(opts *options.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a document with its index, metadata and source file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(opts, func(ctx context.Context, rt *docchatsvc.Runtime) error {
				if err := rt.Service.RemoveDocument(ctx, args[0]); err != nil {
					return err
				}
				okColor.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
				return nil
			})
		},
	}
}

func newPurgeCommand(opts *options.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Remove every stored index, metadata file and source document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(opts, func(ctx context.Context, rt *docchatsvc.Runtime) error {
				report := rt.Service.Purge(ctx)
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "indexes removed:   %d\n", report.IndexesRemoved)
				fmt.Fprintf(out, "metadata removed:  %d\n", report.MetadataRemoved)
				fmt.Fprintf(out, "documents removed: %d\n", report.DocumentsRemoved)
				if report.Failures > 0 {
					errColor.Fprintf(out, "failures:          %d\n", report.Failures)
				}
				return nil
			})
		},
	}
}

func newStatsCommand(opts *options.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show document counts, storage health and counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(opts, func(ctx context.Context, rt *docchatsvc.Runtime) error {
				stats, err := rt.Service.Stats(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()

				titleColor.Fprintln(out, "documents")
				fmt.Fprintf(out, "  total:     %d\n", stats.Documents)
				fmt.Fprintf(out, "  processed: %d\n", stats.Processed)
				fmt.Fprintf(out, "  indexes:   %d (%s)\n", stats.Indexes, stats.Backend)

				titleColor.Fprintln(out, "providers")
				printProviders(out, stats)

				titleColor.Fprintln(out, "storage")
				health := rt.Storage.HealthCheckAll(ctx)
				for _, name := range sortedKeys(health) {
					h := health[name]
					if h.Healthy {
						okColor.Fprintf(out, "  %-8s ok (%s)\n", name, h.Latency)
					} else {
						errColor.Fprintf(out, "  %-8s unhealthy: %v\n", name, h.Error)
					}
				}

				titleColor.Fprintln(out, "counters")
				for _, name := range sortedKeys(stats.Metrics) {
					fmt.Fprintf(out, "  %-22s %d\n", name, stats.Metrics[name])
				}
				return nil
			})
		},
	}
}

// printProviders 输出当前模型和已注册的供应商。
func printProviders(out io.Writer, stats *biz.Stats) {
	fmt.Fprintf(out, "  embedding:  %s\n", stats.EmbeddingModel)
	fmt.Fprintf(out, "  chat:       %s\n", stats.ChatModel)
	fmt.Fprintf(out, "  registered: %s\n", strings.Join(llm.ListProviders(), ", "))
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
