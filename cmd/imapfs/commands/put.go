package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/marmos91/imapfs/internal/logger"
	"github.com/marmos91/imapfs/pkg/filestore"
	"github.com/spf13/cobra"
)

// addReplaceFlags registers -r/--replace and --no-replace and rejects
// both together during argument validation, before the configuration is
// loaded. The returned function resolves the effective setting against
// the configuration.
func (a *app) addReplaceFlags(cmd *cobra.Command) func() bool {
	var replace, noReplace bool
	cmd.Flags().BoolVarP(&replace, "replace", "r", false, "retire the current version (default from config)")
	cmd.Flags().BoolVar(&noReplace, "no-replace", false, "keep the current version alongside the new one")

	validate := cmd.Args
	cmd.Args = func(cmd *cobra.Command, args []string) error {
		if replace && noReplace {
			return filestore.UsageError("--replace and --no-replace are mutually exclusive")
		}
		if validate == nil {
			return nil
		}
		return validate(cmd, args)
	}

	return func() bool {
		switch {
		case replace:
			return true
		case noReplace:
			return false
		default:
			return a.cfg.Replace
		}
	}
}

func (a *app) putCommand() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:     "put <identifier>",
		Aliases: []string{"store", "write", "save"},
		Short:   "Store a new file version",
		Long: `Store content read from stdin (or --file) as a new version.

With replace, the current version is retired after the new one is stored:
  name           retires the single live version, if any. Several live
                 versions are left alone with a warning.
  name:version   retires exactly that version, failing if it is gone.
  name:*         never retires anything.

If retiring fails, the new version is kept and both remain visible.`,
		Args: usageArgs(cobra.ExactArgs(1)),
	}

	replaceFlag := a.addReplaceFlags(cmd)
	cmd.Flags().StringVarP(&file, "file", "f", "", "read the content from a file instead of stdin")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		replace := replaceFlag()

		payload, err := a.readPayload(file)
		if err != nil {
			return err
		}

		store, err := a.store(cmd.Context())
		if err != nil {
			return err
		}

		result, err := store.Put(cmd.Context(), args[0], payload, replace)
		if result != nil {
			a.printPut(result)
		}
		return err
	}

	return cmd
}

func (a *app) readPayload(file string) ([]byte, error) {
	if file == "" || file == "-" {
		payload, err := io.ReadAll(a.stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		return payload, nil
	}

	payload, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", file, err)
	}
	return payload, nil
}

func (a *app) printPut(result *filestore.PutResult) {
	fmt.Fprintln(a.stdout, result.Created.String())
	if result.Retired != nil {
		logger.Info("Replaced %s with %s", result.Retired, result.Created)
	}
}
