package cmd

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentstation/collate"
	"github.com/agentstation/collate/internal/engine"
)

// NewDaemonCommand creates the daemon command.
func NewDaemonCommand(app Application) *cobra.Command {
	var (
		interval time.Duration
		watch    bool
		publish  bool
		remote   string
		workers  int
	)

	cmd := &cobra.Command{
		Use:   "daemon [path]",
		Short: "Run reconciliation cycles on a schedule",
		Args:  cobra.MaximumNArgs(1),
		Long: `Daemon runs reconciliation cycles repeatedly until interrupted. A cycle
runs immediately on startup, then on every interval tick. With --watch it
also triggers a cycle shortly after filesystem changes under the root.

Cycles never overlap: a tick that arrives while a cycle is still running
is skipped. The daemon always applies merges; use "collate merge" for a
one-shot or report-only run.`,
		Example: `  collate daemon                      # reconcile every 5m
  collate daemon --interval 30s       # tighter schedule
  collate daemon --watch --publish    # react to changes, push results`,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := resolveRoot(args)
			if err != nil {
				return err
			}

			opts := []collate.Option{
				collate.WithRoot(root),
				collate.WithApply(),
			}
			if interval > 0 {
				opts = append(opts, collate.WithInterval(interval))
			}
			if watch {
				opts = append(opts, collate.WithWatch())
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

			app.Logger().Info().Str("root", root).Msg("daemon started")
			return c.Daemon(cmd.Context(), func(s *engine.Summary) {
				s.Write(os.Stdout)
			})
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 0, "cycle interval (default from config, 5m)")
	cmd.Flags().BoolVar(&watch, "watch", false, "also trigger cycles on filesystem changes")
	cmd.Flags().BoolVar(&publish, "publish", false, "commit applied merges and escalate ambiguous groups")
	cmd.Flags().StringVar(&remote, "remote", "", "git remote to push to (default from config)")
	cmd.Flags().IntVar(&workers, "workers", 0, "concurrent group workers (default from config)")

	return cmd
}
