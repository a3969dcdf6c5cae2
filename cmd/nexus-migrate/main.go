package main

import (
	"fmt"
	"os"

	"github.com/apexai/nexus/internal/config"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{Use: "nexus-migrate"}

func newMigrate(cmd *cobra.Command) (*migrate.Migrate, error) {
	if err := godotenv.Load(); err != nil {
		fmt.Printf("No .env file found or failed to load: %v. Using --db flag.\n", err)
	}

	connStr, _ := cmd.Flags().GetString("db")
	if connStr == "" {
		connStr = config.DatabaseURL(os.Getenv)
	}
	if connStr == "" {
		return nil, fmt.Errorf("--db flag, DATABASE_URL or complete DB_* env vars (DB_USERNAME, DB_PASSWORD, DB_HOST, DB_PORT, DB_NAME) required")
	}
	source, _ := cmd.Flags().GetString("source")
	return migrate.New(source, connStr)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	Run: func(cmd *cobra.Command, args []string) {
		m, err := newMigrate(cmd)
		if err != nil {
			fmt.Printf("Failed to initialize migrations: %v\n", err)
			os.Exit(1)
		}
		if err := m.Up(); err != nil && err != migrate.ErrNoChange {
			fmt.Printf("Failed to apply migrations: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Migrations applied successfully")
	},
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Revert the most recent migration",
	Run: func(cmd *cobra.Command, args []string) {
		m, err := newMigrate(cmd)
		if err != nil {
			fmt.Printf("Failed to initialize migrations: %v\n", err)
			os.Exit(1)
		}
		if err := m.Steps(-1); err != nil {
			fmt.Printf("Failed to revert migration: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Reverted one migration")
	},
}

func main() {
	for _, cmd := range []*cobra.Command{migrateCmd, rollbackCmd} {
		cmd.Flags().String("db", "", "Database connection string (optional if DATABASE_URL or DB_* env vars are set)")
		cmd.Flags().String("source", "file://migrations", "Migrations source URL")
		rootCmd.AddCommand(cmd)
	}
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
