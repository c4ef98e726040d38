// Package cli implements the gatewayctl commands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/af-corp/antigravity-gateway/internal/config"
)

var (
	configDir string
	dbURL     string
	jsonOut   bool
	verbose   bool
)

var rootCmd = &cobra.Command{
	Use:   "gatewayctl",
	Short: "Administer the antigravity gateway",
	Long: `gatewayctl manages gateway API keys, upstream accounts and the
credential vault. It reads the same configuration directory as the gateway.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "warning: failed to load .env: %v\n", err)
		}
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config", "configs", "path to configuration directory")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db-url", "", "database URL (overrides config and DATABASE_URL)")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

func loadConfig() (*config.Config, error) {
	loader := config.NewLoader(configDir, slog.Default())
	if err := loader.Load(); err != nil {
		return nil, err
	}
	return loader.Config(), nil
}

// connect opens the database named by --db-url, DATABASE_URL or the config.
func connect(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	dsn := dbURL
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	if dsn == "" {
		dsn = cfg.Database.DSN()
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}
