package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/smarttransit/afc-backend/internal/config"
	"github.com/smarttransit/afc-backend/internal/utils"
	"github.com/smarttransit/afc-backend/pkg/jwt"
)

func secretsCmd() *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Generate signing secrets for a new deployment",
		RunE: func(cmd *cobra.Command, args []string) error {
			secrets, err := utils.GenerateSecrets()
			if err != nil {
				return err
			}

			if quiet {
				fmt.Println(strings.Join(secrets.EnvLines(), "\n"))
				return nil
			}

			fmt.Println("===========================================")
			fmt.Println("Secret Generator for SmartTransit AFC")
			fmt.Println("===========================================")
			fmt.Println()
			fmt.Println("Add these to your .env file or deployment secrets:")
			fmt.Println()
			for _, line := range secrets.EnvLines() {
				fmt.Println(line)
			}
			fmt.Println()
			fmt.Println("⚠️  IMPORTANT: Rotating QR_SECRET invalidates every issued QR code.")
			fmt.Println("===========================================")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Print only the .env lines")

	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint access tokens for peers and gate devices",
		Long: `Mint tokens signed with JWT_SECRET. Service tokens let one lifecycle
call another; gate tokens are provisioned onto validation devices.`,
	}
	cmd.AddCommand(serviceTokenCmd())
	cmd.AddCommand(deviceTokenCmd())
	return cmd
}

func serviceTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "service [name]",
		Short: "Mint a short-lived service token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			service, err := tokenService(0)
			if err != nil {
				return err
			}
			token, err := service.GenerateServiceToken(args[0])
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
}

func deviceTokenCmd() *cobra.Command {
	var roles []string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "device [device-uuid]",
		Short: "Mint an access token for a gate or handheld validator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deviceID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid device id: %w", err)
			}
			service, err := tokenService(ttl)
			if err != nil {
				return err
			}
			token, err := service.GenerateAccessToken(deviceID, "", roles)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&roles, "roles", []string{jwt.RoleGate}, "Roles to embed")
	cmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "Token lifetime")

	return cmd
}

// tokenService reads only the JWT settings so tokens can be minted without
// database access. A zero accessTTL keeps the configured expiry.
func tokenService(accessTTL time.Duration) (*jwt.Service, error) {
	cfg, err := config.LoadJWT()
	if err != nil {
		return nil, err
	}
	if accessTTL > 0 {
		cfg.AccessTokenExpiry = accessTTL
	}
	return jwt.NewService(cfg.Secret, cfg.RefreshSecret, cfg.AccessTokenExpiry, cfg.RefreshTokenExpiry, cfg.ServiceTokenExpiry), nil
}
