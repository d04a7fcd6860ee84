// Package app provides application bootstrapping with Cobra, Viper, and Pflag.
//
// The root command owns configuration: before any subcommand runs, the
// config file is read, ${VAR} references are expanded, DOCCHAT_* style
// environment variables are bound and explicitly set flags win over both.
//
// Usage:
//
//	a := app.NewApp(
//	    app.WithName("docchat"),
//	    app.WithOptions(opts),
//	    app.WithPreRunFunc(opts.Log.Init),
//	    app.WithCommands(ingestCmd, askCmd),
//	)
//	a.Run()
package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/kart-io/version"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	cliapp "github.com/kart-io/docchat/pkg/app"
	"github.com/kart-io/docchat/pkg/app/cliflag"
	errs "github.com/kart-io/docchat/pkg/errors"
)

// App is the main application structure.
type App struct {
	name        string
	shortDesc   string
	description string
	options     cliapp.CliOptions
	preRunFunc  RunFunc
	runFunc     RunFunc
	commands    []*cobra.Command
	cmd         *cobra.Command
	viper       *viper.Viper
	silence     bool
	noVersion   bool
	noConfig    bool
}

// RunFunc is the application's run function.
type RunFunc func() error

// Option configures an App.
type Option func(*App)

// WithName sets the application name. It is also the config file name and
// the environment variable prefix.
func WithName(name string) Option {
	return func(a *App) {
		a.name = name
	}
}

// WithShortDescription sets the short description.
func WithShortDescription(desc string) Option {
	return func(a *App) {
		a.shortDesc = desc
	}
}

// WithDescription sets the long description.
func WithDescription(desc string) Option {
	return func(a *App) {
		a.description = desc
	}
}

// WithOptions sets the CLI options.
func WithOptions(opts cliapp.CliOptions) Option {
	return func(a *App) {
		a.options = opts
	}
}

// WithPreRunFunc sets a hook that runs after options are validated and
// before any command body, e.g. logger initialization.
func WithPreRunFunc(fn RunFunc) Option {
	return func(a *App) {
		a.preRunFunc = fn
	}
}

// WithRunFunc sets the root command's run function.
func WithRunFunc(run RunFunc) Option {
	return func(a *App) {
		a.runFunc = run
	}
}

// WithCommands adds subcommands to the root command.
func WithCommands(cmds ...*cobra.Command) Option {
	return func(a *App) {
		a.commands = append(a.commands, cmds...)
	}
}

// WithSilence disables usage and error printing.
func WithSilence() Option {
	return func(a *App) {
		a.silence = true
	}
}

// WithNoVersion disables version flag.
func WithNoVersion() Option {
	return func(a *App) {
		a.noVersion = true
	}
}

// WithNoConfig disables config file loading.
func WithNoConfig() Option {
	return func(a *App) {
		a.noConfig = true
	}
}

// NewApp creates a new application instance.
func NewApp(opts ...Option) *App {
	a := &App{
		name:  filepath.Base(os.Args[0]),
		viper: viper.New(),
	}

	for _, opt := range opts {
		opt(a)
	}

	a.buildCommand()
	return a
}

// buildCommand creates the cobra command tree.
func (a *App) buildCommand() {
	cmd := &cobra.Command{
		Use:               a.name,
		Short:             a.shortDesc,
		Long:              a.description,
		PersistentPreRunE: a.prepare,
		// Always silence usage on errors - users can use --help to see usage
		SilenceUsage: true,
	}
	if a.runFunc != nil {
		cmd.RunE = func(*cobra.Command, []string) error { return a.runFunc() }
	}
	if a.silence {
		cmd.SilenceErrors = true
	}

	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	a.addGlobalFlags(cmd)

	if a.options != nil {
		fss := a.options.Flags()
		fss.AddTo(cmd.PersistentFlags())
		a.setUsage(cmd, fss)
	}

	cmd.AddCommand(a.commands...)
	a.cmd = cmd
}

// setUsage prints option flags grouped by section in the root help.
func (a *App) setUsage(cmd *cobra.Command, fss cliflag.NamedFlagSets) {
	cmd.SetHelpFunc(func(c *cobra.Command, _ []string) {
		out := c.OutOrStdout()
		if c.Long != "" {
			fmt.Fprintf(out, "%s\n\n", c.Long)
		} else if c.Short != "" {
			fmt.Fprintf(out, "%s\n\n", c.Short)
		}
		fmt.Fprint(out, c.UsageString())
		if c == cmd {
			cliflag.PrintSections(out, fss, 0)
		}
	})
}

// addGlobalFlags adds global flags to the command.
func (a *App) addGlobalFlags(cmd *cobra.Command) {
	if !a.noConfig {
		cmd.PersistentFlags().StringP("config", "c", "", "Path to config file")
	}

	if !a.noVersion {
		version.AddFlags(cmd.PersistentFlags())
	}
}

// prepare loads configuration, completes and validates options and runs the
// pre-run hook. It runs once for whichever command is executed.
func (a *App) prepare(cmd *cobra.Command, _ []string) error {
	if !a.noVersion {
		version.PrintAndExitIfRequested()
	}

	if !a.noConfig {
		if err := a.loadConfig(cmd.Flags()); err != nil {
			return err
		}
	}

	if a.options != nil {
		if err := a.options.Complete(); err != nil {
			return err
		}
		if err := a.options.Validate(); err != nil {
			return err
		}
	}

	if a.preRunFunc != nil {
		return a.preRunFunc()
	}
	return nil
}

// loadConfig loads configuration from file, environment, and flags.
func (a *App) loadConfig(fs *pflag.FlagSet) error {
	v := a.viper

	configFile, _ := fs.GetString("config")
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(a.name)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath(filepath.Join(os.Getenv("HOME"), "."+a.name))
		v.AddConfigPath("/etc/" + a.name)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	expandEnvVars(v)

	v.SetEnvPrefix(strings.ToUpper(strings.ReplaceAll(a.name, "-", "_")))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if a.options == nil {
		return nil
	}

	// 绑定 flag 让 viper 知道所有键，环境变量才能覆盖未出现在配置文件中的选项
	if err := v.BindPFlags(fs); err != nil {
		return fmt.Errorf("failed to bind flags: %w", err)
	}

	// Capture changed flags to preserve precedence
	var reapply []func() error
	fs.Visit(func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			vals := append([]string(nil), sv.GetSlice()...)
			reapply = append(reapply, func() error { return sv.Replace(vals) })
			return
		}
		name, val := f.Name, f.Value.String()
		reapply = append(reapply, func() error { return fs.Set(name, val) })
	})

	if err := v.Unmarshal(a.options); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	for _, fn := range reapply {
		if err := fn(); err != nil {
			return fmt.Errorf("failed to re-apply flag: %w", err)
		}
	}

	return nil
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars expands ${VAR} and $VAR style environment variables in config values.
func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		strVal, ok := v.Get(key).(string)
		if !ok {
			continue
		}
		expanded := envPattern.ReplaceAllStringFunc(strVal, func(match string) string {
			varName := strings.TrimPrefix(match, "$")
			varName = strings.TrimSuffix(strings.TrimPrefix(varName, "{"), "}")
			if envVal := os.Getenv(varName); envVal != "" {
				return envVal
			}
			return match // 环境变量不存在时保留原样
		})
		if expanded != strVal {
			v.Set(key, expanded)
		}
	}
}

// Run executes the application. Coded errors are printed in the LANG locale;
// request errors exit with status 2, everything else with 1.
func (a *App) Run() {
	if err := a.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, FormatError(err, os.Getenv("LANG")))
		os.Exit(ExitCode(err))
	}
}

// FormatError renders err for the terminal. Errors carrying an error code
// show the code and its localized message, followed by the full chain.
func FormatError(err error, lang string) string {
	if errs.GetCode(err) < 0 {
		return "Error: " + err.Error()
	}
	e := errs.FromError(err)
	lang, _, _ = strings.Cut(lang, ".")
	return fmt.Sprintf("Error [%d] %s\n  %v", e.Code, e.Message(lang), err)
}

// ExitCode maps err to a process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errs.IsClientError(errs.GetCode(err)):
		return 2
	default:
		return 1
	}
}

// Command returns the root cobra command.
func (a *App) Command() *cobra.Command {
	return a.cmd
}
