package accounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/af-corp/antigravity-gateway/internal/telemetry"
)

const (
	DefaultRefreshWindow = 5 * time.Minute
	DefaultCooldown      = 5 * time.Minute
)

type record struct {
	id    string
	email string
	token Token
}

// Manager rotates through the loaded accounts. It is safe for concurrent
// use; network calls (refresh, project lookup, store writes) happen outside
// the lock.
type Manager struct {
	store     Store
	refresher Refresher
	projects  ProjectResolver
	metrics   *telemetry.Metrics

	refreshWindow time.Duration
	cooldown      time.Duration
	now           func() time.Time

	mu        sync.Mutex
	accounts  []*record
	byID      map[string]*record
	cooldowns map[string]time.Time
	index     int
}

type Option func(*Manager)

func WithRefreshWindow(d time.Duration) Option {
	return func(m *Manager) { m.refreshWindow = d }
}

func WithCooldown(d time.Duration) Option {
	return func(m *Manager) { m.cooldown = d }
}

func WithProjectResolver(p ProjectResolver) Option {
	return func(m *Manager) { m.projects = p }
}

func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(store Store, refresher Refresher, opts ...Option) *Manager {
	m := &Manager{
		store:         store,
		refresher:     refresher,
		refreshWindow: DefaultRefreshWindow,
		cooldown:      DefaultCooldown,
		now:           time.Now,
		byID:          make(map[string]*record),
		cooldowns:     make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// LoadAccounts replaces the in-memory set with the store's accounts,
// skipping accounts without a credential.
func (m *Manager) LoadAccounts(ctx context.Context) (int, error) {
	accounts, err := m.store.GetAccounts(ctx)
	if err != nil {
		slog.Error("failed to load accounts", "error", err)
		return 0, fmt.Errorf("load accounts: %w", err)
	}

	records := make([]*record, 0, len(accounts))
	byID := make(map[string]*record, len(accounts))
	for _, acc := range accounts {
		if acc.Token == nil {
			continue
		}
		rec := &record{id: acc.ID, email: acc.Email, token: *acc.Token}
		if rec.token.SessionID == "" {
			rec.token.SessionID = newSessionID()
		}
		records = append(records, rec)
		byID[rec.id] = rec
	}

	m.mu.Lock()
	m.accounts = records
	m.byID = byID
	m.mu.Unlock()

	slog.Info("loaded accounts", "count", len(records))
	return len(records), nil
}

// GetNextToken selects the next eligible account, refreshing its access
// token when it expires within the refresh window. A failed refresh is
// logged and the current token returned.
func (m *Manager) GetNextToken(ctx context.Context) (*Account, error) {
	if m.AccountCount() == 0 {
		if _, err := m.LoadAccounts(ctx); err != nil {
			return nil, err
		}
	}

	rec, err := m.selectNext()
	if err != nil {
		return nil, err
	}

	if m.now().Unix() >= rec.token.ExpiryTimestamp-int64(m.refreshWindow.Seconds()) {
		m.refresh(ctx, &rec)
	}
	if rec.token.ProjectID == "" {
		m.assignProject(ctx, &rec)
	}

	slog.Debug("selected account", "account", rec.email)
	tok := rec.token
	return &Account{ID: rec.id, Email: rec.email, Token: &tok}, nil
}

// selectNext picks by round-robin over the non-cooling accounts and returns
// a copy of the record.
func (m *Manager) selectNext() (record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.accounts) == 0 {
		return record{}, ErrNoAccountAvailable
	}

	now := m.now()
	eligible := make([]*record, 0, len(m.accounts))
	for _, rec := range m.accounts {
		if until, ok := m.cooldowns[rec.email]; ok {
			if now.Before(until) {
				continue
			}
			delete(m.cooldowns, rec.email)
		}
		eligible = append(eligible, rec)
	}
	if len(eligible) == 0 {
		slog.Warn("all accounts are cooling down", "accounts", len(m.accounts))
		return record{}, ErrNoAccountAvailable
	}

	rec := eligible[m.index%len(eligible)]
	m.index++
	return *rec, nil
}

func (m *Manager) refresh(ctx context.Context, rec *record) {
	slog.Info("access token expiring soon, refreshing", "account", rec.email, "expires_at", rec.token.Expiry())

	fresh, err := m.refresher.Refresh(ctx, rec.token.RefreshToken)
	if err != nil {
		var oerr *OAuthError
		if errors.As(err, &oerr) && oerr.IsRevoked() {
			m.metrics.RecordRefresh("revoked")
			slog.Error("refresh token revoked, account must be re-authenticated", "account", rec.email, "error", err)
			return
		}
		m.metrics.RecordRefresh("failed")
		slog.Error("failed to refresh access token", "account", rec.email, "error", err)
		return
	}
	m.metrics.RecordRefresh("ok")

	expiry := m.now().Unix() + fresh.ExpiresIn
	update := func(t *Token) {
		t.AccessToken = fresh.AccessToken
		t.ExpiresIn = fresh.ExpiresIn
		t.ExpiryTimestamp = expiry
	}
	update(&rec.token)
	m.apply(rec.id, update)
	m.persist(ctx, rec.id, update)
	slog.Info("access token refreshed", "account", rec.email)
}

// assignProject resolves the account's upstream project. Without a resolver
// or when resolution fails, a placeholder id is assigned so requests can
// still be attempted.
func (m *Manager) assignProject(ctx context.Context, rec *record) {
	var project string
	if m.projects != nil {
		p, err := m.projects.ResolveProject(ctx, rec.token.AccessToken)
		if err != nil {
			slog.Warn("failed to resolve upstream project", "account", rec.email, "error", err)
		}
		project = p
	}
	if project == "" {
		project = fmt.Sprintf("cloud-code-%d", rand.IntN(100000))
		slog.Warn("using placeholder project id", "account", rec.email, "project", project)
	}

	update := func(t *Token) { t.ProjectID = project }
	update(&rec.token)
	m.apply(rec.id, update)
	m.persist(ctx, rec.id, update)
}

// apply mutates the in-memory record if it is still loaded.
func (m *Manager) apply(id string, update func(*Token)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.byID[id]; ok {
		update(&rec.token)
	}
}

// persist merges update into the stored token. Failures are logged.
func (m *Manager) persist(ctx context.Context, id string, update func(*Token)) {
	acc, err := m.store.GetAccount(ctx, id)
	if err != nil {
		slog.Error("failed to read account for update", "account_id", id, "error", err)
		return
	}
	if acc.Token == nil {
		return
	}
	tok := *acc.Token
	update(&tok)
	if err := m.store.UpdateToken(ctx, id, tok); err != nil {
		slog.Error("failed to save token", "account_id", id, "error", err)
	}
}

// MarkAsRateLimited puts the account in cool-down.
func (m *Manager) MarkAsRateLimited(email string) {
	until := m.now().Add(m.cooldown)
	m.mu.Lock()
	m.cooldowns[email] = until
	m.mu.Unlock()

	m.metrics.RecordCooldown()
	slog.Warn("account marked as rate limited", "account", email, "until", until.UTC().Format(time.RFC3339))
}

func (m *Manager) ResetCooldown(email string) {
	m.mu.Lock()
	delete(m.cooldowns, email)
	m.mu.Unlock()
}

func (m *Manager) AccountCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.accounts)
}

// AccountStatus is a point-in-time view of one account.
type AccountStatus struct {
	Email         string    `json:"email"`
	CoolingDown   bool      `json:"cooling_down"`
	CooldownUntil time.Time `json:"cooldown_until,omitzero"`
	ExpiresAt     time.Time `json:"expires_at"`
	HasProject    bool      `json:"has_project"`
}

// Status reports every loaded account in rotation order.
func (m *Manager) Status() []AccountStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	out := make([]AccountStatus, 0, len(m.accounts))
	for _, rec := range m.accounts {
		st := AccountStatus{
			Email:      rec.email,
			ExpiresAt:  rec.token.Expiry().UTC(),
			HasProject: rec.token.ProjectID != "",
		}
		if until, ok := m.cooldowns[rec.email]; ok && now.Before(until) {
			st.CoolingDown = true
			st.CooldownUntil = until.UTC()
		}
		out = append(out, st)
	}
	return out
}
