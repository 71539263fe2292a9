package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/phrazzld/emplan-api/internal/api/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for the task API",
	Long: `Issue an HS256 bearer token signed with the server's auth.jwt_secret.
The secret is read from --jwt-secret or PLANCTL_JWT_SECRET.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		secret, _ := cmd.Flags().GetString("jwt-secret")
		if secret == "" {
			secret = viper.GetString("jwt_secret")
		}
		if secret == "" {
			return errors.New("--jwt-secret or PLANCTL_JWT_SECRET is required")
		}
		subject, _ := cmd.Flags().GetString("subject")
		ttl, _ := cmd.Flags().GetDuration("ttl")

		token, err := middleware.SignToken(secret, subject, time.Now(), ttl)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
		return err
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)

	tokenCmd.Flags().String("jwt-secret", "", "HMAC secret shared with the server")
	tokenCmd.Flags().String("subject", "planctl", "token subject")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
}
