package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresUserSeriesRepo はPostgreSQLを使用したお気に入り関係リポジトリ。
type PostgresUserSeriesRepo struct {
	db *sql.DB
}

// NewPostgresUserSeriesRepo はPostgresUserSeriesRepoを生成する。
func NewPostgresUserSeriesRepo(db *sql.DB) *PostgresUserSeriesRepo {
	return &PostgresUserSeriesRepo{db: db}
}

// CreateIfAbsent は(user_id, series_id)の関係を冪等に作成する。
// ユニーク制約違反はON CONFLICT DO NOTHINGで吸収し、成功として扱う。
// 共有シリーズを複数ユーザーが同時に同期するケースのレースセーフティ。
func (r *PostgresUserSeriesRepo) CreateIfAbsent(ctx context.Context, userID string, seriesID int64) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO user_series (user_id, series_id)
		 VALUES ($1, $2)
		 ON CONFLICT (user_id, series_id) DO NOTHING`,
		userID, seriesID,
	)
	if err != nil {
		return fmt.Errorf("お気に入り関係の作成に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ UserSeriesRepository = (*PostgresUserSeriesRepo)(nil)
