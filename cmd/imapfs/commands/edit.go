package commands

import (
	"github.com/marmos91/imapfs/internal/editor"
	"github.com/marmos91/imapfs/internal/logger"
	"github.com/marmos91/imapfs/pkg/filestore"
	"github.com/spf13/cobra"
)

func (a *app) editCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "edit <identifier>",
		Aliases: []string{"vi", "e"},
		Short:   "Edit a file in an external editor",
		Long: `Open the version the identifier designates in $VISUAL, $EDITOR, the
configured editor or vi, and store the result as a new version.

If the version cannot be fetched, editing starts from empty content and
the first save never retires anything. Unchanged content is not stored.
If saving fails, the draft is kept and its location reported.`,
		Args: usageArgs(cobra.ExactArgs(1)),
	}

	replaceFlag := a.addReplaceFlags(cmd)

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		replace := replaceFlag()

		store, err := a.store(cmd.Context())
		if err != nil {
			return err
		}

		result, err := store.Edit(cmd.Context(), args[0], a.editor(), replace)
		if result != nil && result.Put != nil {
			a.printPut(result.Put)
		}
		return err
	}

	return cmd
}

// editor returns the editor for this invocation, attached to the app's
// streams.
func (a *app) editor() filestore.Editor {
	command := editor.Resolve(a.cfg.Editor)
	logger.Debug("Using editor %q", command)

	e := editor.New(command)
	e.Stdin = a.stdin
	e.Stdout = a.stdout
	e.Stderr = a.stderr
	return e
}
