package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/af-corp/antigravity-gateway/internal/accounts"
	"github.com/af-corp/antigravity-gateway/internal/config"
	"github.com/af-corp/antigravity-gateway/internal/router"
	"github.com/af-corp/antigravity-gateway/internal/upstream"
	"github.com/af-corp/antigravity-gateway/internal/vault"
)

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Manage upstream accounts",
}

var (
	addEmail        string
	addRefreshToken string
	addProject      string
)

var accountAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add or replace an account from a refresh token",
	Long: `Exchange the refresh token for an access token and store the account
with its credential sealed by the vault. An existing account with the same
email has its credential replaced.`,
	RunE: addAccount,
}

var accountListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored accounts",
	RunE:  listAccounts,
}

var accountQuotaCmd = &cobra.Command{
	Use:   "quota [email]",
	Short: "Show remaining model quota per account",
	Args:  cobra.MaximumNArgs(1),
	RunE:  showQuota,
}

func init() {
	accountAddCmd.Flags().StringVar(&addEmail, "email", "", "account email (required)")
	accountAddCmd.Flags().StringVar(&addRefreshToken, "refresh-token", "", "OAuth refresh token (required)")
	accountAddCmd.Flags().StringVar(&addProject, "project", "", "upstream project id (resolved on first use when empty)")
	accountAddCmd.MarkFlagRequired("email")
	accountAddCmd.MarkFlagRequired("refresh-token")

	accountCmd.AddCommand(accountAddCmd, accountListCmd, accountQuotaCmd)
	rootCmd.AddCommand(accountCmd)
}

// accountEnv is what the account commands share: config, store and refresher.
type accountEnv struct {
	cfg       *config.Config
	store     *accounts.PgStore
	refresher *accounts.OAuthRefresher
	close     func()
}

func openAccounts(ctx context.Context) (*accountEnv, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	pool, err := connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	oauth := cfg.Accounts.OAuth
	return &accountEnv{
		cfg:       cfg,
		store:     accounts.NewPgStore(pool, vault.NewDefault(cfg.Vault.Service, cfg.Vault.Dir), nil),
		refresher: accounts.NewOAuthRefresher(oauth.ClientID, oauth.ClientSecret, oauth.TokenURL),
		close:     pool.Close,
	}, nil
}

func addAccount(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	env, err := openAccounts(ctx)
	if err != nil {
		return err
	}
	defer env.close()

	fresh, err := env.refresher.Refresh(ctx, addRefreshToken)
	if err != nil {
		return fmt.Errorf("exchange refresh token: %w", err)
	}
	tok := accounts.Token{
		AccessToken:     fresh.AccessToken,
		RefreshToken:    addRefreshToken,
		ExpiresIn:       fresh.ExpiresIn,
		ExpiryTimestamp: time.Now().Unix() + fresh.ExpiresIn,
		ProjectID:       addProject,
	}
	if err := env.store.UpsertAccount(ctx, accounts.Account{ID: uuid.NewString(), Email: addEmail, Token: &tok}); err != nil {
		return err
	}
	fmt.Printf("account %s stored\n", addEmail)
	return nil
}

func listAccounts(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	env, err := openAccounts(ctx)
	if err != nil {
		return err
	}
	defer env.close()

	all, err := env.store.GetAccounts(ctx)
	if err != nil {
		return err
	}

	type row struct {
		ID        string    `json:"id"`
		Email     string    `json:"email"`
		ProjectID string    `json:"project_id,omitempty"`
		ExpiresAt time.Time `json:"expires_at,omitzero"`
	}
	rows := make([]row, 0, len(all))
	for _, acc := range all {
		r := row{ID: acc.ID, Email: acc.Email}
		if acc.Token != nil {
			r.ProjectID = acc.Token.ProjectID
			r.ExpiresAt = acc.Token.Expiry().UTC()
		}
		rows = append(rows, r)
	}

	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(rows)
	}
	if len(rows) == 0 {
		fmt.Println("No accounts found")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "EMAIL\tPROJECT\tTOKEN EXPIRES\tID")
	for _, r := range rows {
		expires := "-"
		if !r.ExpiresAt.IsZero() {
			expires = r.ExpiresAt.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Email, r.ProjectID, expires, r.ID)
	}
	return w.Flush()
}

func showQuota(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	env, err := openAccounts(ctx)
	if err != nil {
		return err
	}
	defer env.close()

	all, err := env.store.GetAccounts(ctx)
	if err != nil {
		return err
	}

	up := env.cfg.Upstream
	endpoints := router.NewEndpoints(up.Endpoints, router.NewHealthTracker(up.CircuitBreaker.FailureThreshold, up.CircuitBreaker.RecoveryProbeInterval))
	codeAssist := upstream.NewCodeAssist(upstream.NewClient(up, endpoints, nil))

	reports := map[string]*upstream.QuotaReport{}
	var order []string
	for _, acc := range all {
		if len(args) == 1 && acc.Email != args[0] {
			continue
		}
		if acc.Token == nil {
			continue
		}
		token := env.accessToken(ctx, acc)
		report, err := codeAssist.FetchAvailableModels(ctx, token)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", acc.Email, err)
			continue
		}
		reports[acc.Email] = report
		order = append(order, acc.Email)
	}

	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(reports)
	}
	if len(order) == 0 {
		fmt.Println("No quota information available")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ACCOUNT\tTIER\tMODEL\tREMAINING\tRESETS")
	for _, email := range order {
		r := reports[email]
		if r.Forbidden {
			fmt.Fprintf(w, "%s\t%s\t-\tforbidden\t-\n", email, r.Tier)
			continue
		}
		for _, m := range r.Models {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d%%\t%s\n", email, r.Tier, m.Name, m.Percentage, m.ResetTime)
		}
	}
	return w.Flush()
}

// accessToken returns a usable access token for acc, refreshing and storing
// it when expired. Refresh failures fall back to the stored token.
func (e *accountEnv) accessToken(ctx context.Context, acc accounts.Account) string {
	tok := *acc.Token
	if time.Now().Unix() < tok.ExpiryTimestamp-int64(e.cfg.Accounts.RefreshWindow.Seconds()) {
		return tok.AccessToken
	}
	fresh, err := e.refresher.Refresh(ctx, tok.RefreshToken)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: refresh failed: %v\n", acc.Email, err)
		return tok.AccessToken
	}
	tok.AccessToken = fresh.AccessToken
	tok.ExpiresIn = fresh.ExpiresIn
	tok.ExpiryTimestamp = time.Now().Unix() + fresh.ExpiresIn
	if err := e.store.UpdateToken(ctx, acc.ID, tok); err != nil {
		fmt.Fprintf(os.Stderr, "%s: failed to store refreshed token: %v\n", acc.Email, err)
	}
	return tok.AccessToken
}
