package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/tvcal/internal/model"
)

// PostgresSeriesRepo はPostgreSQLを使用したシリーズリポジトリ。
type PostgresSeriesRepo struct {
	db *sql.DB
}

// NewPostgresSeriesRepo はPostgresSeriesRepoを生成する。
func NewPostgresSeriesRepo(db *sql.DB) *PostgresSeriesRepo {
	return &PostgresSeriesRepo{db: db}
}

// FindByTVDBID は上流IDでシリーズを検索する。見つからない場合はnilを返す。
func (r *PostgresSeriesRepo) FindByTVDBID(ctx context.Context, tvdbID int64) (*model.Series, error) {
	series := &model.Series{}
	var imdbID sql.NullString
	var lastSyncedAt sql.NullTime

	err := r.db.QueryRowContext(ctx,
		`SELECT id, tvdb_id, name, imdb_id, last_synced_at, created_at, updated_at
		 FROM series WHERE tvdb_id = $1`,
		tvdbID,
	).Scan(&series.ID, &series.TVDBID, &series.Name, &imdbID, &lastSyncedAt,
		&series.CreatedAt, &series.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("シリーズの検索に失敗しました: %w", err)
	}

	series.IMDBID = nullStringValue(imdbID)
	series.LastSyncedAt = nullTimeValue(lastSyncedAt)
	return series, nil
}

// CreateIfAbsent はシリーズを冪等に作成する。
// ON CONFLICT DO NOTHINGで挿入し、挿入されなかった場合（他の同期との競合で
// 既に行が存在する場合）は既存行を取得してseriesに書き戻す。
func (r *PostgresSeriesRepo) CreateIfAbsent(ctx context.Context, series *model.Series) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO series (tvdb_id, name, imdb_id)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (tvdb_id) DO NOTHING
		 RETURNING id, created_at, updated_at`,
		series.TVDBID, series.Name, nullString(series.IMDBID),
	).Scan(&series.ID, &series.CreatedAt, &series.UpdatedAt)

	if err == sql.ErrNoRows {
		// 並行作成との競合。既存行を読み直す。
		existing, findErr := r.FindByTVDBID(ctx, series.TVDBID)
		if findErr != nil {
			return findErr
		}
		if existing == nil {
			return fmt.Errorf("シリーズの冪等作成に失敗しました: tvdb_id=%d が挿入も取得もできません", series.TVDBID)
		}
		*series = *existing
		return nil
	}
	if err != nil {
		return fmt.Errorf("シリーズの作成に失敗しました: %w", err)
	}
	return nil
}

// Update はシリーズのメタデータ（name, imdb_id）を更新する。
func (r *PostgresSeriesRepo) Update(ctx context.Context, series *model.Series) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE series SET name = $2, imdb_id = $3, updated_at = now() WHERE id = $1`,
		series.ID, series.Name, nullString(series.IMDBID),
	)
	if err != nil {
		return fmt.Errorf("シリーズの更新に失敗しました: %w", err)
	}
	return nil
}

// MarkSynced はlast_synced_atを更新する。
func (r *PostgresSeriesRepo) MarkSynced(ctx context.Context, id int64, syncedAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE series SET last_synced_at = $2, updated_at = now() WHERE id = $1`,
		id, syncedAt,
	)
	if err != nil {
		return fmt.Errorf("シリーズ同期時刻の更新に失敗しました: %w", err)
	}
	return nil
}

// ListDueForSync はlast_synced_atがNULLまたはcutoffより古いシリーズを返す。
func (r *PostgresSeriesRepo) ListDueForSync(ctx context.Context, cutoff time.Time) ([]*model.Series, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, tvdb_id, name, imdb_id, last_synced_at, created_at, updated_at
		 FROM series
		 WHERE last_synced_at IS NULL OR last_synced_at < $1
		 ORDER BY last_synced_at ASC NULLS FIRST`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("同期対象シリーズの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var list []*model.Series
	for rows.Next() {
		series := &model.Series{}
		var imdbID sql.NullString
		var lastSyncedAt sql.NullTime

		if err := rows.Scan(&series.ID, &series.TVDBID, &series.Name, &imdbID,
			&lastSyncedAt, &series.CreatedAt, &series.UpdatedAt); err != nil {
			return nil, fmt.Errorf("同期対象シリーズの読み取りに失敗しました: %w", err)
		}
		series.IMDBID = nullStringValue(imdbID)
		series.LastSyncedAt = nullTimeValue(lastSyncedAt)
		list = append(list, series)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("同期対象シリーズの走査に失敗しました: %w", err)
	}

	return list, nil
}

// compile-time interface check
var _ SeriesRepository = (*PostgresSeriesRepo)(nil)
