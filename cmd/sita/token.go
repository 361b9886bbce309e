package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sita/internal/service/account"
	"sita/pkg/rbac"
)

var tokenRole string

var tokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Issue a bearer token for a user id",
	Long: `Issue a bearer token signed with the configured JWT secret.

Examples:
  sita token 5b0c6f1e-0000-4000-8000-000000000001
  sita token ops --role admin`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if tokenRole != rbac.RoleUser && tokenRole != rbac.RoleAdmin {
			return fmt.Errorf("unknown role %q", tokenRole)
		}

		accounts := account.NewService(nil, cfg.JWT.Secret, cfg.JWT.TTL, zap.NewNop())
		tok, err := accounts.IssueToken(args[0], tokenRole)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenRole, "role", rbac.RoleUser, "Role claim (user or admin)")
	rootCmd.AddCommand(tokenCmd)
}
