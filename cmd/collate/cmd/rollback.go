package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentstation/collate"
)

// NewRollbackCommand creates the rollback command.
func NewRollbackCommand(app Application) *cobra.Command {
	var root string

	cmd := &cobra.Command{
		Use:   "rollback <entry-id>",
		Short: "Reverse a previously applied reconciliation",
		Args:  cobra.ExactArgs(1),
		Long: `Rollback restores the exact pre-merge state recorded in the manifest for
an applied entry: every candidate file's bytes and mode, with the merged
canonical file removed if the group had no incumbent. The manifest itself
is never rewritten; rollback appends a rolled_back record.

Entry IDs are printed in cycle summaries and stored in .collate/manifest.jsonl.`,
		Example: `  collate rollback 4f9c1a2e-77b0-4c4e-9d3e-08d1fd6a9b21
  collate rollback --root ./data 4f9c1a2e`,
		RunE: func(cmd *cobra.Command, args []string) error {
			entryID := args[0]

			rootArgs := []string{}
			if root != "" {
				rootArgs = append(rootArgs, root)
			}
			abs, err := resolveRoot(rootArgs)
			if err != nil {
				return err
			}

			c, err := app.Collate(collate.WithRoot(abs))
			if err != nil {
				return err
			}

			if err := c.Rollback(cmd.Context(), entryID); err != nil {
				return err
			}

			fmt.Printf("rolled back %s\n", entryID)
			return nil
		},
	}

	cmd.Flags().StringVar(&root, "root", "", "reconciliation root (default is the working directory)")

	return cmd
}
