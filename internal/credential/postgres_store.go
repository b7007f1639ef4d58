package credential

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/dentalfront/internal/model"
)

// PostgresStore はPostgreSQLのcredentialsテーブルに保存するStore。
// テーブルはdatabaseパッケージのマイグレーションで作成する。
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore はPostgresStoreを生成する。
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Load は保存済みのCredentialを返す。
func (s *PostgresStore) Load(ctx context.Context) (*model.Credential, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, value FROM credentials WHERE name IN ($1, $2)`,
		AccessTokenKey, RefreshTokenKey,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string, 2)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("failed to scan credential: %w", err)
		}
		values[name] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate credentials: %w", err)
	}

	return fromValues(values), nil
}

// Save は2つのトークンを1トランザクションでUPSERTする。
func (s *PostgresStore) Save(ctx context.Context, cred model.Credential) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	const upsert = `INSERT INTO credentials (name, value, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`

	if _, err := tx.ExecContext(ctx, upsert, AccessTokenKey, cred.Access); err != nil {
		return fmt.Errorf("failed to save access token: %w", err)
	}
	if _, err := tx.ExecContext(ctx, upsert, RefreshTokenKey, cred.Refresh); err != nil {
		return fmt.Errorf("failed to save refresh token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit credential: %w", err)
	}
	return nil
}

// Clear は2つのトークンを1文で削除する。
func (s *PostgresStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM credentials WHERE name IN ($1, $2)`,
		AccessTokenKey, RefreshTokenKey,
	)
	if err != nil {
		return fmt.Errorf("failed to clear credential: %w", err)
	}
	return nil
}

// compile-time interface check
var _ Store = (*PostgresStore)(nil)
