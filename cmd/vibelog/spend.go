package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vibelog/vibelog/pkg/breaker"
	"github.com/vibelog/vibelog/pkg/config"
	"github.com/vibelog/vibelog/pkg/ledger"
)

func newSpendCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "spend",
		Short: "Show today's spend against the circuit breaker ceiling",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			led, err := ledger.New(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("open ledger: %w", err)
			}
			defer func() { _ = led.Close() }()

			brk := breaker.New(led, cfg.Breaker.DailyCeilingUSD)
			spent, ceiling, err := brk.Status(context.Background())
			if err != nil {
				return err
			}

			fmt.Printf("today (UTC): $%.4f / $%.2f\n", spent, ceiling)
			if ceiling > 0 && spent >= ceiling {
				fmt.Println("breaker: OPEN (new generations are refused until the next UTC day)")
			} else {
				fmt.Println("breaker: closed")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "vibelog.yaml", "path to config file")
	return cmd
}
