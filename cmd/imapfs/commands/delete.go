package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func (a *app) deleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <identifier>...",
		Aliases: []string{"rm", "del", "remove"},
		Short:   "Delete file versions",
		Long: `Delete the version each identifier designates. Every identifier must
match exactly one live version. A failure on one identifier does not stop
the others; each failure is reported and the command exits non-zero.

Deleting compacts the mailbox, purging every message flagged as deleted.`,
		Args: usageArgs(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.store(cmd.Context())
			if err != nil {
				return err
			}

			deleted, err := store.Delete(cmd.Context(), args)
			for _, ref := range deleted {
				fmt.Fprintln(a.stdout, ref.String())
			}
			return err
		},
	}
}
