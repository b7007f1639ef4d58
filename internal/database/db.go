package database

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// Open はPostgreSQLデータベース接続を開く。
// CREDENTIAL_STORE=postgres のときだけ使用する。
// sql.Openは接続を試行しないため、実際の接続確認にはdb.Ping()を使用すること。
func Open(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// 保持するのはトークン2件だけなので接続数は小さく抑える
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	return db, nil
}
