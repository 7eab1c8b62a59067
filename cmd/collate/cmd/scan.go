package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/agentstation/collate/internal/scan"
)

// NewScanCommand creates the scan command.
func NewScanCommand(app Application) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "scan [path]",
		Short: "List duplicate groups without merging",
		Args:  cobra.MaximumNArgs(1),
		Long: `Scan walks the directory tree and reports every duplicate group it
finds: the canonical name each group collapses into, and each candidate
file with its version, size, and modification time.

Nothing is written. Use "collate merge" to reconcile the groups.`,
		Example: `  collate scan                  # scan the current directory
  collate scan ./data           # scan a specific tree
  collate scan --json           # machine-readable output`,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := resolveRoot(args)
			if err != nil {
				return err
			}

			scanner := scan.New(root, scan.NewIgnore(app.IgnorePatterns()...))
			groups, err := scanner.Scan(cmd.Context())
			if err != nil {
				return err
			}

			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(groups)
			}

			if len(groups) == 0 {
				fmt.Println("no duplicate groups found")
				return nil
			}

			var total int64
			for _, g := range groups {
				rel, relErr := filepath.Rel(root, g.CanonicalPath)
				if relErr != nil {
					rel = g.CanonicalPath
				}
				fmt.Printf("%s (%d candidates)\n", rel, len(g.Candidates))
				for _, c := range g.Candidates {
					label := "incumbent"
					if !c.Incumbent() {
						label = fmt.Sprintf("version %d", c.Version)
					}
					fmt.Printf("  %-10s %8s  %s  %s\n",
						label,
						humanize.Bytes(uint64(c.Size)),
						humanize.Time(c.ModTime),
						filepath.Base(c.Path))
					total += c.Size
				}
			}
			fmt.Printf("%d group(s), %s across all candidates\n", len(groups), humanize.Bytes(uint64(total)))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "output groups as JSON")

	return cmd
}
