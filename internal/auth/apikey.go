package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// KeyPrefix starts every raw API key.
const KeyPrefix = "pen_"

const (
	apiKeyBytes   = 32
	visiblePrefix = 8
)

// ErrKeyNotFound is returned when deleting a key that does not exist.
var ErrKeyNotFound = errors.New("key not found")

// APIKey is a stored key. The raw key is never persisted, only its hash.
type APIKey struct {
	ID         int64      `json:"id"`
	UserID     string     `json:"user_id"`
	Name       string     `json:"name"`
	KeyPrefix  string     `json:"key_prefix"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// APIKeyStore manages API keys in SQLite.
type APIKeyStore struct {
	db *sql.DB
}

// NewAPIKeyStore creates an API key store.
func NewAPIKeyStore(db *sql.DB) *APIKeyStore {
	return &APIKeyStore{db: db}
}

// Create issues a key that acts for userID. The raw key is returned once
// and cannot be recovered later.
func (s *APIKeyStore) Create(ctx context.Context, name, userID string) (string, *APIKey, error) {
	if userID == "" {
		return "", nil, errors.New("user is required")
	}

	raw, err := newRawKey()
	if err != nil {
		return "", nil, fmt.Errorf("generating key: %w", err)
	}

	key := &APIKey{
		UserID:    userID,
		Name:      name,
		KeyPrefix: raw[:visiblePrefix],
		CreatedAt: time.Now().UTC(),
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO api_keys (user_id, name, key_prefix, key_hash, created_at) VALUES (?, ?, ?, ?, ?)`,
		key.UserID, key.Name, key.KeyPrefix, digest(raw), key.CreatedAt,
	)
	if err != nil {
		return "", nil, fmt.Errorf("storing key: %w", err)
	}
	if key.ID, err = res.LastInsertId(); err != nil {
		return "", nil, fmt.Errorf("reading key id: %w", err)
	}

	return raw, key, nil
}

// List returns every key, newest first.
func (s *APIKeyStore) List(ctx context.Context) (keys []APIKey, err error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, name, key_prefix, created_at, last_used_at FROM api_keys ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying keys: %w", err)
	}
	defer func() { err = errors.Join(err, rows.Close()) }()

	for rows.Next() {
		var k APIKey
		if err := rows.Scan(&k.ID, &k.UserID, &k.Name, &k.KeyPrefix, &k.CreatedAt, &k.LastUsedAt); err != nil {
			return nil, fmt.Errorf("scanning key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Delete revokes a key.
func (s *APIKeyStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking affected rows: %w", err)
	}
	if n == 0 {
		return ErrKeyNotFound
	}
	return nil
}

// Validate resolves a raw key to the ID of the user it acts for, or ""
// when the key is unknown. A successful lookup stamps last_used_at.
func (s *APIKeyStore) Validate(ctx context.Context, raw string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx,
		`UPDATE api_keys SET last_used_at = ? WHERE key_hash = ? RETURNING user_id`,
		time.Now().UTC(), digest(raw),
	).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("validating key: %w", err)
	}
	return userID, nil
}

func newRawKey() (string, error) {
	b := make([]byte, apiKeyBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return KeyPrefix + hex.EncodeToString(b), nil
}

func digest(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
