// Command varstore inspects and maintains an on-disk varstore
// database from the shell. It is ambient tooling around the storage
// engine, not a query language: open prints a summary, stat prints
// per-table row counts, and compact runs the
// space-reclaiming compaction pass.
//
// Logging:
//   - A single base logger is created here and passed down via
//     store.Config.Logger (no global slog configuration).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"varstore/dynval"
	"varstore/internal/codec"
	"varstore/store"
)

var version = "dev"

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	rootCmd := &cobra.Command{
		Use:   "varstore",
		Short: "Inspect and maintain a varstore database",
	}
	rootCmd.PersistentFlags().Int("memory-limit", 0, "page cache budget in bytes (default 1024MiB)")

	openCmd := &cobra.Command{
		Use:   "open <path>",
		Short: "Open a database and print a one-line summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB(cmd, args[0], logger)
			if err != nil {
				return err
			}
			fmt.Printf("session=%s tables=%d memory=%d\n", db.Session(), len(db.Tables()), db.MemoryUsage())
			return nil
		},
	}

	statCmd := &cobra.Command{
		Use:   "stat <path>",
		Short: "Print per-table row counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB(cmd, args[0], logger)
			if err != nil {
				return err
			}
			for _, name := range db.Tables() {
				t, err := db.Table(name)
				if err != nil {
					return err
				}
				rows := 0
				if err := t.TraverseStart(func(codec.Value) int { rows++; return 1 }); err != nil {
					return err
				}
				fmt.Printf("%s\trows=%d\n", name, rows)
			}
			return nil
		},
	}

	compactCmd := &cobra.Command{
		Use:   "compact <path>",
		Short: "Reclaim space from erased and superseded rows, then save",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB(cmd, args[0], logger)
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()
			if err := db.Compact(ctx); err != nil {
				return fmt.Errorf("compact: %w", err)
			}
			return db.Save()
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	rootCmd.AddCommand(openCmd, statCmd, compactCmd, versionCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func openDB(cmd *cobra.Command, path string, logger *slog.Logger) (*store.Database, error) {
	memoryLimit, _ := cmd.Flags().GetInt("memory-limit")
	return store.Open(store.Config{
		Path:        path,
		Codec:       dynval.Default(),
		MemoryLimit: memoryLimit,
		Logger:      logger,
	})
}
