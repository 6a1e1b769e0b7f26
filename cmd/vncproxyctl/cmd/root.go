package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/santazhang/vncproxy/internal/registry"
)

var dsn string

var rootCmd = &cobra.Command{
	Use:   "vncproxyctl",
	Short: "Administer the vncproxy mapping registry",
	Long: `vncproxyctl adds, removes, and lists the forward_key -> destination
mappings that vncproxyd authenticates client sessions against.`,
}

// Execute runs the CLI, exiting the process with status 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "vncproxyctl:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dsn, "dsn", "vncproxy.db", "registry SQLite data source name")
	rootCmd.AddCommand(addCmd, removeCmd, removeByDestCmd, listCmd)
}

// openStore opens the registry the persistent --dsn flag points at. Callers
// are responsible for closing it.
func openStore(ctx context.Context) (registry.Store, error) {
	store, err := registry.Open(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening registry at %s: %w", dsn, err)
	}
	return store, nil
}
