package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/smarttransit/afc-backend/internal/clients"
	"github.com/smarttransit/afc-backend/internal/config"
	"github.com/smarttransit/afc-backend/internal/fare"
	"github.com/smarttransit/afc-backend/internal/models"
)

func fareCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fare",
		Short: "Fare rule tooling",
	}
	cmd.AddCommand(fareQuoteCmd())
	return cmd
}

func fareQuoteCmd() *cobra.Command {
	var (
		stationsFile string
		routeID      string
		from         string
		to           string
		passengers   []string
		discountCode string
		asJSON       bool
	)

	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Price a journey against a station directory file",
		Example: `  afcctl fare quote --stations stations.yaml --route R1 --from S1 --to S4 \
    --passengers adult,child --code WELCOME10`,
		RunE: func(cmd *cobra.Command, args []string) error {
			fareCfg, err := config.LoadFare()
			if err != nil {
				return err
			}
			if stationsFile == "" {
				stationsFile = os.Getenv("STATION_DIRECTORY_FILE")
			}
			if stationsFile == "" {
				return fmt.Errorf("--stations or STATION_DIRECTORY_FILE is required")
			}

			directory, err := clients.LoadStaticDirectory(stationsFile)
			if err != nil {
				return err
			}
			route, err := directory.GetRoute(cmd.Context(), routeID)
			if err != nil {
				return err
			}
			if route == nil {
				return fmt.Errorf("unknown route %s", routeID)
			}
			if !route.Serves(from, to) {
				return fmt.Errorf("route %s does not run from %s to %s", routeID, from, to)
			}

			req := models.FareRequest{
				RouteID:              routeID,
				SourceStationID:      from,
				DestinationStationID: to,
				DiscountCode:         discountCode,
				TravelDate:           time.Now(),
			}
			for _, p := range passengers {
				req.PassengerTypes = append(req.PassengerTypes, models.PassengerType(strings.ToLower(strings.TrimSpace(p))))
			}

			breakdown, err := fare.NewCalculator(fareCfg).Calculate(route, req)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(breakdown)
			}
			printBreakdown(breakdown)
			return nil
		},
	}

	cmd.Flags().StringVar(&stationsFile, "stations", "", "Station directory YAML (defaults to STATION_DIRECTORY_FILE)")
	cmd.Flags().StringVar(&routeID, "route", "", "Route id")
	cmd.Flags().StringVar(&from, "from", "", "Source station id")
	cmd.Flags().StringVar(&to, "to", "", "Destination station id")
	cmd.Flags().StringSliceVarP(&passengers, "passengers", "p", []string{"adult"}, "Passenger types")
	cmd.Flags().StringVar(&discountCode, "code", "", "Discount code")
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "Output as JSON")
	_ = cmd.MarkFlagRequired("route")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")

	return cmd
}

func printBreakdown(b *models.FareBreakdown) {
	fmt.Printf("Route %s (%.1f km), base fare %.2f %s\n", b.RouteID, b.DistanceKM, b.BaseFare, b.Currency)
	fmt.Println(strings.Repeat("=", 40))
	for _, p := range b.Passengers {
		fmt.Printf("  %-10s %10.2f\n", p.Type, p.Fare)
	}
	fmt.Println(strings.Repeat("-", 40))
	fmt.Printf("  %-22s %10.2f\n", "Passenger discounts:", b.PassengerDiscount)
	if b.DiscountCode != "" {
		status := "rejected"
		if b.DiscountCodeValid {
			status = fmt.Sprintf("%.0f%%", b.DiscountCodeRate*100)
		}
		fmt.Printf("  %-22s %10.2f (%s, %s)\n", "Code discount:", b.DiscountCodeAmount, b.DiscountCode, status)
	}
	fmt.Printf("  %-22s %10.2f\n", "Tax:", b.TaxAmount)
	fmt.Printf("  %-22s %10.2f %s\n", "Total:", b.FinalAmount, b.Currency)
}
