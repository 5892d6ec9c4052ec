package commands

import (
	"fmt"
	"os"

	"github.com/marmos91/imapfs/internal/logger"
	"github.com/spf13/cobra"
)

func (a *app) getCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:     "get <identifier>",
		Aliases: []string{"cat", "fetch", "show"},
		Short:   "Print the content of a file version",
		Long: `Print the content of the version the identifier designates. The
identifier must match exactly one live version.`,
		Args: usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.store(cmd.Context())
			if err != nil {
				return err
			}

			file, err := store.Fetch(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if output != "" {
				if err := os.WriteFile(output, file.Payload, 0o644); err != nil {
					return fmt.Errorf("failed to write %s: %w", output, err)
				}
				logger.Info("Wrote %s to %s", file.Ref, output)
				return nil
			}

			_, err = a.stdout.Write(file.Payload)
			return err
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "write the content to a file instead of stdout")
	return cmd
}
