package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

const redisCacheTTL = 5 * time.Minute
const redisKeyPrefix = "antigravity:key:"

// KeyStore looks up API key metadata by hash. A nil result with a nil
// error means the key is unknown.
type KeyStore interface {
	Lookup(ctx context.Context, keyHash string) (*KeyMetadata, error)
}

// StaticKeyStore serves keys whose hashes are listed in configuration.
type StaticKeyStore struct {
	keys map[string]*KeyMetadata
}

func NewStaticKeyStore(hashes []string) *StaticKeyStore {
	s := &StaticKeyStore{keys: make(map[string]*KeyMetadata, len(hashes))}
	for i, h := range hashes {
		h = strings.ToLower(strings.TrimSpace(h))
		if h == "" {
			continue
		}
		s.keys[h] = &KeyMetadata{ID: fmt.Sprintf("static-%d", i), Name: "static", Environment: "static"}
	}
	return s
}

func (s *StaticKeyStore) Lookup(_ context.Context, keyHash string) (*KeyMetadata, error) {
	return s.keys[keyHash], nil
}

// ChainKeyStore returns the first match among its stores.
type ChainKeyStore []KeyStore

func (c ChainKeyStore) Lookup(ctx context.Context, keyHash string) (*KeyMetadata, error) {
	for _, s := range c {
		meta, err := s.Lookup(ctx, keyHash)
		if err != nil || meta != nil {
			return meta, err
		}
	}
	return nil, nil
}

// CachedKeyStore implements KeyStore with PostgreSQL + Redis cache.
type CachedKeyStore struct {
	db    *pgxpool.Pool
	redis *redis.Client
}

func NewCachedKeyStore(db *pgxpool.Pool, rdb *redis.Client) *CachedKeyStore {
	return &CachedKeyStore{db: db, redis: rdb}
}

func (s *CachedKeyStore) Lookup(ctx context.Context, keyHash string) (*KeyMetadata, error) {
	if s.redis != nil {
		cached, err := s.redis.Get(ctx, redisKeyPrefix+keyHash).Bytes()
		if err == nil {
			var meta KeyMetadata
			if err := json.Unmarshal(cached, &meta); err == nil {
				return &meta, nil
			}
		}
	}

	meta, err := s.lookupDB(ctx, keyHash)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, nil
	}

	if s.redis != nil {
		data, err := json.Marshal(meta)
		if err == nil {
			ttl := redisCacheTTL
			if until := time.Until(meta.ExpiresAt); until < ttl {
				ttl = until
			}
			if ttl > 0 {
				s.redis.Set(ctx, redisKeyPrefix+keyHash, data, ttl)
			}
		}
	}

	return meta, nil
}

func (s *CachedKeyStore) lookupDB(ctx context.Context, keyHash string) (*KeyMetadata, error) {
	var meta KeyMetadata
	var allowedModelsJSON []byte

	err := s.db.QueryRow(ctx, `
		SELECT id, name, environment, allowed_models, rpm_limit, expires_at
		FROM api_keys
		WHERE key_hash = $1
		  AND status = 'active'
		  AND expires_at > NOW()
	`, keyHash).Scan(
		&meta.ID,
		&meta.Name,
		&meta.Environment,
		&allowedModelsJSON,
		&meta.RPMLimit,
		&meta.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query api_keys: %w", err)
	}

	if len(allowedModelsJSON) > 0 {
		if err := json.Unmarshal(allowedModelsJSON, &meta.AllowedModels); err != nil {
			slog.Warn("ignoring malformed allowed_models", "key_id", meta.ID, "error", err)
		}
	}

	// Fire-and-forget; a missed last_used_at update is harmless.
	go func() {
		bgCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.db.Exec(bgCtx, `UPDATE api_keys SET last_used_at = NOW() WHERE id = $1`, meta.ID)
	}()

	return &meta, nil
}

// NewKey describes a key to insert with CreateKey.
type NewKey struct {
	Name          string
	Environment   string
	RPMLimit      int
	AllowedModels []string
	ExpiresIn     time.Duration
}

// CreateKey generates a key, stores its hash and returns the raw key. The
// raw key is not recoverable afterwards.
func (s *CachedKeyStore) CreateKey(ctx context.Context, k NewKey) (string, *KeyMetadata, error) {
	raw, err := GenerateKey(k.Environment)
	if err != nil {
		return "", nil, err
	}
	models := k.AllowedModels
	if models == nil {
		models = []string{}
	}
	modelsJSON, err := json.Marshal(models)
	if err != nil {
		return "", nil, fmt.Errorf("encode allowed models: %w", err)
	}

	meta := &KeyMetadata{
		ID:            uuid.NewString(),
		Name:          k.Name,
		Environment:   k.Environment,
		AllowedModels: k.AllowedModels,
		RPMLimit:      k.RPMLimit,
		ExpiresAt:     time.Now().Add(k.ExpiresIn).UTC(),
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO api_keys (id, key_hash, key_prefix, name, environment, rpm_limit, allowed_models, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, meta.ID, HashKey(raw), KeyPrefix(raw), meta.Name, meta.Environment, meta.RPMLimit, modelsJSON, meta.ExpiresAt)
	if err != nil {
		return "", nil, fmt.Errorf("insert api key: %w", err)
	}
	return raw, meta, nil
}
