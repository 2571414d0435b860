package haier

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLiteCacheStore implements CacheStore on the device_cache table.
type SQLiteCacheStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteCacheStore creates a cache store on an open, migrated database.
func NewSQLiteCacheStore(db *sql.DB) *SQLiteCacheStore {
	return &SQLiteCacheStore{db: db, now: time.Now}
}

// Load returns the record for deviceID.
func (s *SQLiteCacheStore) Load(ctx context.Context, deviceID string) ([]byte, bool, error) {
	var record string
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM device_cache WHERE device_id = ?`, deviceID,
	).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("querying device cache: %w", err)
	}
	return []byte(record), true, nil
}

// Save upserts the record for deviceID.
func (s *SQLiteCacheStore) Save(ctx context.Context, deviceID string, record []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO device_cache (device_id, record, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			record = excluded.record,
			updated_at = excluded.updated_at`,
		deviceID, string(record), s.now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving device cache: %w", err)
	}
	return nil
}

// Delete removes the record for deviceID. Deleting a missing record is not an error.
func (s *SQLiteCacheStore) Delete(ctx context.Context, deviceID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM device_cache WHERE device_id = ?`, deviceID); err != nil {
		return fmt.Errorf("deleting device cache: %w", err)
	}
	return nil
}

// SQLiteTokenRepository implements TokenRepository on the account_tokens table.
type SQLiteTokenRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteTokenRepository creates a token repository on an open, migrated database.
func NewSQLiteTokenRepository(db *sql.DB) *SQLiteTokenRepository {
	return &SQLiteTokenRepository{db: db, now: time.Now}
}

// LoadToken returns the persisted pair for clientID.
func (r *SQLiteTokenRepository) LoadToken(ctx context.Context, clientID string) (StoredToken, bool, error) {
	var (
		tok       StoredToken
		expiresAt int64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT access_token, refresh_token, expires_in, expires_at, seed_refresh_token
		FROM account_tokens
		WHERE client_id = ?`, clientID,
	).Scan(&tok.AccessToken, &tok.RefreshToken, &tok.ExpiresIn, &expiresAt, &tok.SeedRefreshToken)
	if errors.Is(err, sql.ErrNoRows) {
		return StoredToken{}, false, nil
	}
	if err != nil {
		return StoredToken{}, false, fmt.Errorf("querying account token: %w", err)
	}
	tok.ExpiresAt = time.Unix(expiresAt, 0)
	return tok, true, nil
}

// SaveToken upserts the pair for clientID. ExpiresAt is stored as Unix seconds.
func (r *SQLiteTokenRepository) SaveToken(ctx context.Context, clientID string, tok StoredToken) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO account_tokens (client_id, access_token, refresh_token, expires_in, expires_at, seed_refresh_token, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(client_id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_in = excluded.expires_in,
			expires_at = excluded.expires_at,
			seed_refresh_token = excluded.seed_refresh_token,
			updated_at = excluded.updated_at`,
		clientID, tok.AccessToken, tok.RefreshToken, tok.ExpiresIn, tok.ExpiresAt.Unix(),
		tok.SeedRefreshToken, r.now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving account token: %w", err)
	}
	return nil
}
