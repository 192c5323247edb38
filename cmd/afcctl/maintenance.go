package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/smarttransit/afc-backend/internal/config"
	"github.com/smarttransit/afc-backend/internal/database"
)

// lifecycleTables lists every table the lifecycles write, children first
var lifecycleTables = []string{
	"ticket_transfers",
	"ticket_validations",
	"ticket_qr_codes",
	"ticket_history",
	"tickets",
	"payment_refunds",
	"payment_transactions",
	"payment_history",
	"payments",
	"booking_passengers",
	"booking_history",
	"bookings",
	"outbox_messages",
	"number_sequences",
}

func clearDataCmd() *cobra.Command {
	var dbURL string
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear-data",
		Short: "Truncate every lifecycle table (development databases only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Load .env from the working directory so secrets stay off the command line
			_ = godotenv.Load()

			if os.Getenv("ENVIRONMENT") == "production" {
				return fmt.Errorf("refusing to clear data with ENVIRONMENT=production")
			}
			if dbURL == "" {
				dbURL = os.Getenv("DATABASE_URL")
			}
			if dbURL == "" {
				return fmt.Errorf("DATABASE_URL is not set and --database-url was not provided")
			}
			if !yes {
				return fmt.Errorf("pass --yes to confirm truncating %d tables", len(lifecycleTables))
			}

			// Minimal pool without loading the full app config
			db, err := database.NewConnection(config.DatabaseConfig{
				URL:                dbURL,
				MaxConnections:     2,
				MaxIdleConnections: 1,
			})
			if err != nil {
				return err
			}
			defer db.Close()

			fmt.Println("Connected to database. Truncating tables...")

			truncateSQL := "TRUNCATE TABLE " + strings.Join(lifecycleTables, ", ") + " RESTART IDENTITY CASCADE"
			if _, err := db.ExecContext(cmd.Context(), truncateSQL); err != nil {
				return fmt.Errorf("failed to truncate tables: %w", err)
			}

			fmt.Println("Post-clear row counts:")
			for _, t := range lifecycleTables {
				var count int
				if err := db.QueryRowContext(cmd.Context(), fmt.Sprintf("SELECT COUNT(*) FROM %s", t)).Scan(&count); err != nil {
					fmt.Printf("  %s: error: %v\n", t, err)
					continue
				}
				fmt.Printf("  %s: %d\n", t, count)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dbURL, "database-url", "", "PostgreSQL connection string (overrides DATABASE_URL)")
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm the truncation")

	return cmd
}
