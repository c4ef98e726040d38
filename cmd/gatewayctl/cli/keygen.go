package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/af-corp/antigravity-gateway/internal/auth"
)

var (
	keyName    string
	keyEnv     string
	keyRPM     int
	keyModels  string
	keyExpires string
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Create a gateway API key",
	Long: `Generate a new gateway API key and store its hash. The raw key is
printed once and cannot be recovered.`,
	RunE: runKeygen,
}

func init() {
	keygenCmd.Flags().StringVar(&keyName, "name", "", "human-friendly key name (required)")
	keygenCmd.Flags().StringVar(&keyEnv, "env", "", "environment prefix (defaults to auth.environment)")
	keygenCmd.Flags().IntVar(&keyRPM, "rpm", 0, "requests per minute (0 = gateway default)")
	keygenCmd.Flags().StringVar(&keyModels, "models", "", "comma-separated allowed models (empty = all)")
	keygenCmd.Flags().StringVar(&keyExpires, "expires", "365d", "expiry duration (e.g., 365d, 720h)")
	keygenCmd.MarkFlagRequired("name")
	rootCmd.AddCommand(keygenCmd)
}

func runKeygen(cmd *cobra.Command, args []string) error {
	dur, err := auth.ParseDuration(keyExpires)
	if err != nil {
		return fmt.Errorf("invalid --expires: %w", err)
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	env := keyEnv
	if env == "" {
		env = cfg.Auth.Environment
	}

	ctx := cmd.Context()
	pool, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	var models []string
	for _, m := range strings.Split(keyModels, ",") {
		if m = strings.TrimSpace(m); m != "" {
			models = append(models, m)
		}
	}

	raw, meta, err := auth.NewCachedKeyStore(pool, nil).CreateKey(ctx, auth.NewKey{
		Name:          keyName,
		Environment:   env,
		RPMLimit:      keyRPM,
		AllowedModels: models,
		ExpiresIn:     dur,
	})
	if err != nil {
		return err
	}

	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(map[string]any{
			"id":         meta.ID,
			"key":        raw,
			"prefix":     auth.KeyPrefix(raw),
			"expires_at": meta.ExpiresAt,
		})
	}
	fmt.Printf("API key created\n\n")
	fmt.Printf("  ID:       %s\n", meta.ID)
	fmt.Printf("  Name:     %s\n", meta.Name)
	fmt.Printf("  Key:      %s\n", raw)
	fmt.Printf("  Expires:  %s\n", meta.ExpiresAt.Format(time.RFC3339))
	fmt.Printf("\nStore this key now. It cannot be shown again.\n")
	return nil
}
