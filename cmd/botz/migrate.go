package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Long:  `Creates the schema on a fresh database or applies pending migrations. serve runs this automatically.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		db := openDatabase(context.Background(), cfg)
		defer db.Close()
		fmt.Printf("Database (%s) is up to date.\n", db.Driver())
	},
}
