package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vibelog/vibelog/pkg/ledger"
	"github.com/vibelog/vibelog/pkg/models"
)

func newCostsCmd() *cobra.Command {
	var dbPath string
	var since time.Duration

	cmd := &cobra.Command{
		Use:   "costs",
		Short: "Show recorded generation spend",
		RunE: func(cmd *cobra.Command, args []string) error {
			led, err := ledger.New(dbPath)
			if err != nil {
				return fmt.Errorf("open ledger: %w", err)
			}
			defer func() { _ = led.Close() }()

			ctx := context.Background()

			summaries, err := led.Summary(ctx)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "OPERATION\tPROVIDER\tCALLS\tTOTAL USD")
			for _, s := range summaries {
				fmt.Fprintf(w, "%s\t%s\t%d\t%.4f\n", s.Operation, s.Provider, s.RequestCount, s.TotalUSD)
			}
			w.Flush()

			total, err := led.TotalSince(ctx, time.Now().Add(-since))
			if err != nil {
				return err
			}
			fmt.Printf("\nspend in the last %s: $%.4f\n", since, total)

			today, err := led.TotalSince(ctx, models.DayStart(time.Now()))
			if err != nil {
				return err
			}
			fmt.Printf("spend today (UTC): $%.4f\n", today)
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "vibelog.db", "path to database")
	cmd.Flags().DurationVar(&since, "since", 7*24*time.Hour, "window for the recent-spend total")
	return cmd
}
