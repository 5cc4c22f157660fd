package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/botzfyi/botz/internal/auth"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage API tokens",
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue a bearer token",
	Long: `Signs a bearer token with the instance JWT secret. Useful for service
accounts and local development.`,
	Run: runTokenIssue,
}

var (
	tokenUser   string
	tokenEmail  string
	tokenTenant string
	tokenRole   string
	tokenTTL    time.Duration
)

func init() {
	tokenIssueCmd.Flags().StringVar(&tokenUser, "user", "", "User id (required)")
	tokenIssueCmd.Flags().StringVar(&tokenEmail, "email", "", "User email")
	tokenIssueCmd.Flags().StringVar(&tokenTenant, "tenant", "", "Tenant id (defaults to the user id)")
	tokenIssueCmd.Flags().StringVar(&tokenRole, "role", "", "Role claim, e.g. admin")
	tokenIssueCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "Token lifetime (default from config)")
	tokenIssueCmd.MarkFlagRequired("user")

	tokenCmd.AddCommand(tokenIssueCmd)
}

func runTokenIssue(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	ctx := context.Background()
	db := openDatabase(ctx, cfg)
	defer db.Close()

	svc, _ := openSettings(ctx, db, cfg)
	a := auth.New(jwtSecret(ctx, cfg, svc), cfg.TokenTTL(), cfg.Auth.AdminUserIDs)

	token, err := a.GenerateToken(&auth.User{
		ID:       tokenUser,
		Email:    tokenEmail,
		TenantID: tokenTenant,
		Role:     tokenRole,
	}, tokenTTL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to issue token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
