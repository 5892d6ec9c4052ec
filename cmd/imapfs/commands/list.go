package commands

import (
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/marmos91/imapfs/pkg/filestore"
	"github.com/spf13/cobra"
)

type listEntry struct {
	Name    string `json:"name"`
	Version uint32 `json:"version"`
}

func (a *app) listCommand() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:     "list [identifier...]",
		Aliases: []string{"ls"},
		Short:   "List file versions",
		Long: `List the live versions of the given identifiers, or of every file
when none is given. Rows are printed as name:version, sorted.

Identifiers that match nothing are skipped. Other failures are reported
after the listing and make the command exit non-zero.`,
		// Flags are parsed before Args runs, so the format is checked here,
		// ahead of configuration loading
		Args: func(cmd *cobra.Command, args []string) error {
			if format != "text" && format != "json" {
				return filestore.UsageError(fmt.Sprintf("unknown format %q (text, json)", format))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.store(cmd.Context())
			if err != nil {
				return err
			}

			refs, listErr := store.List(cmd.Context(), args)
			if err := a.printRefs(refs, format); err != nil {
				return err
			}
			return listErr
		},
	}

	cmd.Flags().StringVar(&format, "format", "text", "output format: text, json")
	return cmd
}

func (a *app) printRefs(refs []filestore.Ref, format string) error {
	if format == "json" {
		entries := make([]listEntry, 0, len(refs))
		for _, ref := range refs {
			entries = append(entries, listEntry{Name: ref.Name, Version: uint32(ref.UID)})
		}
		data, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode listing: %w", err)
		}
		_, err = fmt.Fprintln(a.stdout, string(data))
		return err
	}

	for _, ref := range refs {
		if _, err := fmt.Fprintln(a.stdout, ref.String()); err != nil {
			return err
		}
	}
	return nil
}
