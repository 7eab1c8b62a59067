package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentstation/collate"
)

// NewMergeCommand creates the merge command.
func NewMergeCommand(app Application) *cobra.Command {
	var (
		dryRun  bool
		auto    bool
		publish bool
		remote  string
		workers int
	)

	cmd := &cobra.Command{
		Use:   "merge [path]",
		Short: "Reconcile duplicate groups into canonical files",
		Args:  cobra.MaximumNArgs(1),
		Long: `Merge runs one full reconciliation cycle: scan the tree, classify each
duplicate group's content, merge candidates with a shape-aware strategy,
and apply the results.

Without --auto the cycle only reports what it would do. With --auto,
cleanly merged groups are written to disk and their versioned copies
removed; every mutation is recorded in the manifest first so it can be
rolled back. Groups with unresolved conflicts are never applied. With
--publish they are escalated to a review branch, and applied groups are
committed and pushed.`,
		Example: `  collate merge                     # report what would happen
  collate merge --auto              # apply clean and tie-broken merges
  collate merge --auto --dry-run    # full pipeline, no writes
  collate merge --auto --publish    # also commit, push, and escalate`,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := resolveRoot(args)
			if err != nil {
				return err
			}

			opts := []collate.Option{collate.WithRoot(root)}
			if auto {
				opts = append(opts, collate.WithApply())
			}
			if dryRun {
				opts = append(opts, collate.WithDryRun())
			}
			if publish {
				opts = append(opts, collate.WithPublish())
			}
			if remote != "" {
				opts = append(opts, collate.WithRemote(remote))
			}
			if workers > 0 {
				opts = append(opts, collate.WithWorkers(workers))
			}

			c, err := app.Collate(opts...)
			if err != nil {
				return err
			}

			summary, err := c.Reconcile(cmd.Context())
			if err != nil {
				return err
			}

			summary.Write(os.Stdout)
			if summary.Failed > 0 {
				return fmt.Errorf("%d group(s) failed", summary.Failed)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&auto, "auto", false, "apply clean and auto-resolved merges")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "run the full pipeline without writing anything")
	cmd.Flags().BoolVar(&publish, "publish", false, "commit applied merges and escalate ambiguous groups")
	cmd.Flags().StringVar(&remote, "remote", "", "git remote to push to (default from config)")
	cmd.Flags().IntVar(&workers, "workers", 0, "concurrent group workers (default from config)")

	return cmd
}
