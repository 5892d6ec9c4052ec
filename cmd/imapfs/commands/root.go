// Package commands implements the imapfs command line.
package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/marmos91/imapfs/internal/logger"
	"github.com/marmos91/imapfs/pkg/config"
	"github.com/marmos91/imapfs/pkg/filestore"
	"github.com/marmos91/imapfs/pkg/metrics"
	"github.com/spf13/cobra"
)

// Exit codes.
const (
	ExitOK    = 0
	ExitError = 1
	ExitUsage = 64
)

// app carries the streams, global flags and loaded configuration of one
// invocation.
type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	// Global flags
	configPath  string
	locator     string
	identifier  string
	logLevel    string
	metricsFile string

	cfg      *config.Config
	closeLog func() error
}

// Run executes the command line and returns the process exit code.
func Run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	a := &app{stdin: stdin, stdout: stdout, stderr: stderr}

	root := a.rootCommand()
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	a.finish()

	if err != nil {
		a.report(err)
		return exitCode(err)
	}
	return ExitOK
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "imapfs",
		Short: "A flat, versioned file store in a mailbox",
		Long: `imapfs stores files as messages in an IMAP folder (or a local or S3
mailbox). Every write appends a new version; replacing retires the previous
one after the new version is safely stored.

Files are addressed by identifier:
  name           the single live version of name
  name:version   a specific version
  name:*         any version of name
  :version       a version by id alone

The mailbox is selected with --mailbox or IMAPFS_LOCATOR:
  imaps://user@mail.example.org/Files
  memory://scratch
  badger:///var/lib/imapfs
  s3://bucket/prefix`,
		SilenceUsage:  true,
		SilenceErrors: true,
		// Unknown verbs reach RunE as arguments so they can be reported as
		// usage errors
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return filestore.UsageError(fmt.Sprintf("unknown command %q", args[0]))
			}
			_ = cmd.Help()
			return filestore.UsageError("a command is required")
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// The root only reports usage errors, which must not depend on
			// the configuration being loadable
			if !cmd.HasParent() {
				return nil
			}
			return a.loadConfig(cmd)
		},
	}

	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return filestore.UsageError(err.Error())
	})

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (default $XDG_CONFIG_HOME/imapfs/config.yaml)")
	flags.StringVarP(&a.locator, "mailbox", "m", "", "mailbox locator (overrides IMAPFS_LOCATOR)")
	flags.StringVarP(&a.identifier, "identifier", "i", "", "owner marker of stored files (overrides IMAPFS_IDENTIFIER)")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&a.metricsFile, "metrics-file", "", "write Prometheus metrics to this file on exit")

	root.AddCommand(
		a.listCommand(),
		a.getCommand(),
		a.putCommand(),
		a.deleteCommand(),
		a.editCommand(),
		a.configCommand(),
		a.versionCommand(),
	)

	return root
}

// loadConfig loads the configuration with changed global flags as
// overrides, then applies the logging section.
func (a *app) loadConfig(cmd *cobra.Command) error {
	overrides := config.Overrides{}
	flags := cmd.Flags()
	if flags.Changed("mailbox") {
		overrides["locator"] = a.locator
	}
	if flags.Changed("identifier") {
		overrides["identifier"] = a.identifier
	}
	if flags.Changed("log-level") {
		overrides["logging.level"] = a.logLevel
	}
	if flags.Changed("metrics-file") {
		overrides["metrics.textfile"] = a.metricsFile
	}

	cfg, err := config.Load(a.configPath, overrides)
	if err != nil {
		return err
	}
	a.cfg = cfg

	closeLog, err := config.ConfigureLogging(&cfg.Logging, a.stderr)
	if err != nil {
		return err
	}
	a.closeLog = closeLog
	return nil
}

// store builds the file store for the loaded configuration.
func (a *app) store(ctx context.Context) (*filestore.Store, error) {
	return config.CreateStore(ctx, a.cfg, config.TerminalPrompt(a.stderr))
}

// finish exports metrics and closes the log output. It runs after every
// command, failed or not.
func (a *app) finish() {
	if a.cfg != nil && a.cfg.Metrics.Textfile != "" && metrics.IsEnabled() {
		if err := metrics.WriteTextfile(a.cfg.Metrics.Textfile); err != nil {
			logger.Warn("%v", err)
		}
	}
	if a.closeLog != nil {
		if err := a.closeLog(); err != nil {
			fmt.Fprintf(a.stderr, "imapfs: failed to close log: %v\n", err)
		}
	}
}

// report prints one line per failure. Joined batch errors are split so
// that every failed identifier gets its own line.
func (a *app) report(err error) {
	var errs []error
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		errs = joined.Unwrap()
	} else {
		errs = []error{err}
	}

	for _, e := range errs {
		msg := strings.ReplaceAll(e.Error(), "\n", " ")
		fmt.Fprintf(a.stderr, "imapfs: %s\n", msg)
	}
}

// exitCode maps an error to the process exit code.
func exitCode(err error) int {
	var fsErr *filestore.Error
	if errors.As(err, &fsErr) && fsErr.Code == filestore.ErrUsage {
		return ExitUsage
	}
	return ExitError
}

// usageArgs validates positional arguments and reports violations as
// usage errors.
func usageArgs(validate cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := validate(cmd, args); err != nil {
			return filestore.UsageError(fmt.Sprintf("%s: %v", cmd.Name(), err))
		}
		return nil
	}
}
