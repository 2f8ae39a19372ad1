package main

import (
	"fmt"

	"github.com/spf13/cobra"

	cachepkg "github.com/vibelog/vibelog/pkg/cache/sqlite"
)

func newCacheCmd() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the content-addressed response cache",
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show cache entry count",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cachepkg.New(dbPath)
			if err != nil {
				return fmt.Errorf("open cache: %w", err)
			}
			defer func() { _ = c.Close() }()

			st, err := c.Stats()
			if err != nil {
				return err
			}
			fmt.Printf("entries: %d\n", st.Entries)
			return nil
		},
	}

	clear := &cobra.Command{
		Use:   "clear",
		Short: "Remove all cache entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cachepkg.New(dbPath)
			if err != nil {
				return fmt.Errorf("open cache: %w", err)
			}
			defer func() { _ = c.Close() }()

			if err := c.Clear(); err != nil {
				return err
			}
			fmt.Println("cache cleared")
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&dbPath, "db", "vibelog.db", "path to database")
	cmd.AddCommand(stats, clear)
	return cmd
}
