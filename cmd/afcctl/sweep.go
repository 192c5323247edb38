package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/smarttransit/afc-backend/internal/app"
	"github.com/smarttransit/afc-backend/internal/config"
)

func sweepCmd() *cobra.Command {
	var verbose bool
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "sweep [booking-expiry|payment-expiry|ticket-expiry]...",
		Short: "Run expiry sweeps once, outside the server's schedule",
		Long: `Run one pass of the expiry sweeps hosted by SERVICE_ROLE.
With no arguments every hosted sweep runs. Each expired entity goes
through the same locked transition the scheduled sweeper uses.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			a, err := app.New(cfg, newLogger(verbose))
			if err != nil {
				return err
			}
			defer a.Close()

			names := args
			if len(names) == 0 {
				names = hostedSweeps(a)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			failed := 0
			for _, name := range names {
				expired, err := a.Sweeper.RunOnce(ctx, name)
				if err != nil {
					fmt.Printf("  %-16s FAILED (%s)\n", name+":", err)
					failed++
					continue
				}
				fmt.Printf("  %-16s %d expired\n", name+":", expired)
			}
			if failed > 0 {
				return fmt.Errorf("%d sweep(s) failed", failed)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log each transition")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "Give up after this long")

	return cmd
}

func relayCmd() *cobra.Command {
	var verbose bool
	var batches int

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Drain the outbox once without waiting for the poll interval",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			a, err := app.New(cfg, newLogger(verbose))
			if err != nil {
				return err
			}
			defer a.Close()

			total := 0
			for i := 0; i < batches; i++ {
				claimed, err := a.Relay.RunOnce(cmd.Context())
				if err != nil {
					return err
				}
				total += claimed
				if claimed == 0 {
					break
				}
			}
			fmt.Printf("Relayed %d outbox message(s)\n", total)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log each message")
	cmd.Flags().IntVar(&batches, "max-batches", 50, "Stop after this many batches")

	return cmd
}

func hostedSweeps(a *app.App) []string {
	var names []string
	if a.Bookings != nil {
		names = append(names, app.SweepBookings)
	}
	if a.Payments != nil {
		names = append(names, app.SweepPayments)
	}
	if a.Tickets != nil {
		names = append(names, app.SweepTickets)
	}
	return names
}
