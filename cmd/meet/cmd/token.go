package cmd

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/vizioway/meet/internal/auth"
	"github.com/vizioway/meet/internal/domain"
)

var (
	flagSecret string
	flagUserID string
	flagName   string
	flagTTL    time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a dev bearer token",
	Long: `Mint a token the relay's gate will accept. Development helper: in a
real deployment tokens come from the authentication gate, not from here.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagName == "" {
			return fmt.Errorf("--name is required")
		}
		id := flagUserID
		if id == "" {
			id = uuid.NewString()
		}
		user, err := domain.NewUser(domain.UserID(id), flagName)
		if err != nil {
			return err
		}
		token, err := auth.Sign(flagSecret, user, flagTTL)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&flagSecret, "secret", "dev-only-secret", "relay signing secret")
	tokenCmd.Flags().StringVar(&flagUserID, "user", "", "user id (random when omitted)")
	tokenCmd.Flags().StringVar(&flagName, "name", "", "display name")
	tokenCmd.Flags().DurationVar(&flagTTL, "ttl", 24*time.Hour, "token lifetime")
	rootCmd.AddCommand(tokenCmd)
}
