package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/ledgerwatch/internal/identity"
	"github.com/ppiankov/ledgerwatch/internal/model"
)

var (
	tokenUser string
	tokenRole string
	tokenTTL  time.Duration
)

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.AddCommand(tokenIssueCmd, tokenHashCmd)
	tokenIssueCmd.Flags().StringVar(&tokenUser, "user", "", "User id carried in the token")
	tokenIssueCmd.Flags().StringVar(&tokenRole, "role", string(model.RoleUser), "Role: admin, operator or user")
	tokenIssueCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "Token lifetime")
	_ = tokenIssueCmd.MarkFlagRequired("user")
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue and register caller credentials",
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue a signed bearer token",
	Long:  "Signs an HS256 token with the secret held in the environment variable named by auth.jwt_secret_env.",
	Args:  cobra.NoArgs,
	RunE:  runTokenIssue,
}

var tokenHashCmd = &cobra.Command{
	Use:   "hash <token>",
	Short: "Print the token_hash entry for a static token",
	Long:  "Prints the value to put under auth.tokens[].token_hash so the raw token never lands in the config file.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintln(cmd.OutOrStdout(), identity.HashToken(args[0]))
		return nil
	},
}

func runTokenIssue(cmd *cobra.Command, args []string) error {
	role, err := identity.ParseRole(tokenRole)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if len(cfg.Secrets.JWTSecret) == 0 {
		return fmt.Errorf("%s is not set", cfg.Auth.JWTSecretEnv)
	}
	j, err := identity.NewJWT(cfg.Secrets.JWTSecret)
	if err != nil {
		return err
	}
	token, err := j.Issue(model.Principal{UserID: tokenUser, Role: role}, tokenTTL)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
