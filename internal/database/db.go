package database

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Open はPostgreSQLへの接続プールを開く。
// APIリクエストとバックグラウンド同期が同じプールを共有するため、
// 上限は控えめに抑える（同期はシリーズ逐次処理で接続を多く使わない）。
// sql.Openは接続を試行しないため、実際の疎通確認にはdb.Ping()を使用すること。
func Open(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	return db, nil
}
