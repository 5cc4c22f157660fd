package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/botzfyi/botz/internal/config"
	"github.com/botzfyi/botz/internal/database"
	"github.com/botzfyi/botz/internal/entitlement"
)

var entitlementCmd = &cobra.Command{
	Use:     "entitlement",
	Aliases: []string{"ent"},
	Short:   "Inspect and edit user entitlements",
}

var entitlementShowCmd = &cobra.Command{
	Use:   "show <user-id>",
	Short: "Print a user's entitlement and current access decision",
	Args:  cobra.ExactArgs(1),
	Run:   runEntitlementShow,
}

var entitlementSetCmd = &cobra.Command{
	Use:   "set <user-id>",
	Short: "Edit a user's entitlement",
	Long: `Applies an admin edit. Only the flags given are changed.

Examples:
  botz entitlement set u_123 --plan scale --status active
  botz entitlement set u_123 --credits-used 0
  botz entitlement set u_123 --trial-end 2026-12-31T00:00:00Z`,
	Args: cobra.ExactArgs(1),
	Run:  runEntitlementSet,
}

var (
	entPlan         string
	entStatus       string
	entCreditsLimit int64
	entCreditsUsed  int64
	entTrialEnd     string
)

func init() {
	f := entitlementSetCmd.Flags()
	f.StringVar(&entPlan, "plan", "", "Plan key (starter, pro, scale)")
	f.StringVar(&entStatus, "status", "", "Status (trial, trialing, active, blocked)")
	f.Int64Var(&entCreditsLimit, "credits-limit", 0, "Credit limit override (0 uses the plan limit)")
	f.Int64Var(&entCreditsUsed, "credits-used", 0, "Credits used")
	f.StringVar(&entTrialEnd, "trial-end", "", "Trial end as RFC 3339")

	entitlementCmd.AddCommand(entitlementShowCmd)
	entitlementCmd.AddCommand(entitlementSetCmd)
}

func newGate(cfg *config.Config, db *database.DB) *entitlement.Gate {
	return entitlement.NewGate(entitlement.NewSQLStore(db), entitlement.Options{
		ProductKey:   cfg.Entitlement.ProductKey,
		TrialDays:    cfg.Entitlement.TrialDays,
		TrialCredits: cfg.Entitlement.TrialCredits,
		AdminUserIDs: cfg.Auth.AdminUserIDs,
	})
}

func runEntitlementShow(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	ctx := context.Background()
	db := openDatabase(ctx, cfg)
	defer db.Close()
	gate := newGate(cfg, db)

	e, err := gate.Get(ctx, args[0])
	if err != nil {
		log.Fatal().Err(err).Str("user_id", args[0]).Msg("Failed to load entitlement")
	}
	printJSON(map[string]any{
		"entitlement": e,
		"limits":      e.Limits(),
		"access":      gate.CheckAccess(ctx, args[0]),
	})
}

func runEntitlementSet(cmd *cobra.Command, args []string) {
	var p entitlement.Patch
	f := cmd.Flags()
	if f.Changed("plan") {
		p.PlanKey = &entPlan
	}
	if f.Changed("status") {
		p.Status = &entStatus
	}
	if f.Changed("credits-limit") {
		p.CreditsLimit = &entCreditsLimit
	}
	if f.Changed("credits-used") {
		p.CreditsUsed = &entCreditsUsed
	}
	if f.Changed("trial-end") {
		t, err := time.Parse(time.RFC3339, entTrialEnd)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid --trial-end")
		}
		p.TrialEnd = &t
	}

	cfg := loadConfig()
	ctx := context.Background()
	db := openDatabase(ctx, cfg)
	defer db.Close()

	e, err := newGate(cfg, db).Update(ctx, args[0], p)
	if err != nil {
		log.Fatal().Err(err).Str("user_id", args[0]).Msg("Failed to update entitlement")
	}
	printJSON(e)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Fatal().Err(err).Msg("Failed to encode output")
	}
}
