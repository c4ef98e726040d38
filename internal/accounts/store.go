package accounts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/af-corp/antigravity-gateway/internal/telemetry"
	"github.com/af-corp/antigravity-gateway/internal/vault"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu       sync.RWMutex
	order    []string
	accounts map[string]Account
	settings map[string]string
}

func NewMemoryStore(accounts ...Account) *MemoryStore {
	s := &MemoryStore{
		accounts: make(map[string]Account),
		settings: make(map[string]string),
	}
	for _, acc := range accounts {
		s.PutAccount(acc)
	}
	return s
}

// PutAccount inserts or replaces an account, keeping insertion order.
func (s *MemoryStore) PutAccount(acc Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[acc.ID]; !ok {
		s.order = append(s.order, acc.ID)
	}
	s.accounts[acc.ID] = cloneAccount(acc)
}

func (s *MemoryStore) SetSetting(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[key] = value
}

func (s *MemoryStore) GetAccounts(_ context.Context) ([]Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Account, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, cloneAccount(s.accounts[id]))
	}
	return out, nil
}

func (s *MemoryStore) GetAccount(_ context.Context, id string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	out := cloneAccount(acc)
	return &out, nil
}

func (s *MemoryStore) UpdateToken(_ context.Context, id string, token Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	acc.Token = &token
	s.accounts[id] = acc
	return nil
}

func (s *MemoryStore) GetSetting(_ context.Context, key, def string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.settings[key]; ok {
		return v, nil
	}
	return def, nil
}

func cloneAccount(acc Account) Account {
	if acc.Token != nil {
		tok := *acc.Token
		acc.Token = &tok
	}
	return acc
}

// Cipher seals token payloads at rest. *vault.Vault implements it.
type Cipher interface {
	Encrypt(ctx context.Context, plaintext string) (string, error)
	DecryptWithMigration(ctx context.Context, blob string) (vault.Result, error)
}

// tokenCodec converts between Token and the sealed column value.
type tokenCodec struct {
	cipher  Cipher
	metrics *telemetry.Metrics
}

func (c tokenCodec) seal(ctx context.Context, token Token) (string, error) {
	data, err := json.Marshal(token)
	if err != nil {
		return "", fmt.Errorf("encode token: %w", err)
	}
	sealed, err := c.cipher.Encrypt(ctx, string(data))
	if err != nil {
		return "", fmt.Errorf("seal token: %w", err)
	}
	return sealed, nil
}

// open decrypts a stored token. upgraded is non-empty when the value was
// recovered with a fallback key and should be written back.
func (c tokenCodec) open(ctx context.Context, stored string) (token Token, upgraded string, err error) {
	res, err := c.cipher.DecryptWithMigration(ctx, stored)
	if err != nil {
		return Token{}, "", fmt.Errorf("decrypt token: %w", err)
	}
	if err := json.Unmarshal([]byte(res.Value), &token); err != nil {
		return Token{}, "", fmt.Errorf("decode token: %w", err)
	}
	if res.Reencrypted != "" {
		c.metrics.RecordVaultMigration(string(res.UsedFallback))
	}
	return token, res.Reencrypted, nil
}

// PgStore keeps accounts in PostgreSQL with the token column sealed by the
// credential vault.
type PgStore struct {
	db    *pgxpool.Pool
	codec tokenCodec
}

func NewPgStore(db *pgxpool.Pool, cipher Cipher, metrics *telemetry.Metrics) *PgStore {
	return &PgStore{db: db, codec: tokenCodec{cipher: cipher, metrics: metrics}}
}

func (s *PgStore) GetAccounts(ctx context.Context) ([]Account, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, email, token
		FROM accounts
		WHERE disabled = FALSE
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	type row struct {
		id, email string
		token     *string
	}
	var raw []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.email, &r.token); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan account: %w", err)
		}
		raw = append(raw, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}

	out := make([]Account, 0, len(raw))
	for _, r := range raw {
		acc, err := s.decode(ctx, r.id, r.email, r.token)
		if err != nil {
			// One unreadable credential must not take the others down.
			slog.Error("skipping account with unreadable token", "account", r.email, "error", err)
			continue
		}
		out = append(out, *acc)
	}
	return out, nil
}

func (s *PgStore) GetAccount(ctx context.Context, id string) (*Account, error) {
	var email string
	var token *string
	err := s.db.QueryRow(ctx, `SELECT email, token FROM accounts WHERE id = $1`, id).Scan(&email, &token)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query account: %w", err)
	}
	return s.decode(ctx, id, email, token)
}

func (s *PgStore) decode(ctx context.Context, id, email string, stored *string) (*Account, error) {
	acc := &Account{ID: id, Email: email}
	if stored == nil || *stored == "" {
		return acc, nil
	}
	tok, upgraded, err := s.codec.open(ctx, *stored)
	if err != nil {
		return nil, err
	}
	acc.Token = &tok
	if upgraded != "" {
		if _, err := s.db.Exec(ctx, `UPDATE accounts SET token = $2, updated_at = NOW() WHERE id = $1`, id, upgraded); err != nil {
			slog.Warn("failed to store re-encrypted token", "account", email, "error", err)
		}
	}
	return acc, nil
}

func (s *PgStore) UpdateToken(ctx context.Context, id string, token Token) error {
	sealed, err := s.codec.seal(ctx, token)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, `UPDATE accounts SET token = $2, updated_at = NOW() WHERE id = $1`, id, sealed)
	if err != nil {
		return fmt.Errorf("update token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// UpsertAccount inserts an account or replaces the token of the account
// with the same email.
func (s *PgStore) UpsertAccount(ctx context.Context, acc Account) error {
	var sealed *string
	if acc.Token != nil {
		v, err := s.codec.seal(ctx, *acc.Token)
		if err != nil {
			return err
		}
		sealed = &v
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO accounts (id, email, token)
		VALUES ($1, $2, $3)
		ON CONFLICT (email) DO UPDATE
		SET token = EXCLUDED.token, disabled = FALSE, updated_at = NOW()
	`, acc.ID, acc.Email, sealed)
	if err != nil {
		return fmt.Errorf("upsert account: %w", err)
	}
	return nil
}

func (s *PgStore) GetSetting(ctx context.Context, key, def string) (string, error) {
	var value string
	err := s.db.QueryRow(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return def, nil
	}
	if err != nil {
		return def, fmt.Errorf("query setting %s: %w", key, err)
	}
	return value, nil
}
