package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/tvcal/internal/model"
)

// PostgresEpisodeRepo はPostgreSQLを使用したエピソードリポジトリ。
type PostgresEpisodeRepo struct {
	db *sql.DB
}

// NewPostgresEpisodeRepo はPostgresEpisodeRepoを生成する。
func NewPostgresEpisodeRepo(db *sql.DB) *PostgresEpisodeRepo {
	return &PostgresEpisodeRepo{db: db}
}

// Upsert は(series_id, season_number, episode_number)キーでエピソードを
// 冪等にUPSERTする。同一データでの再実行は行数を増やさず、updated_atのみ更新される。
func (r *PostgresEpisodeRepo) Upsert(ctx context.Context, episode *model.Episode) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO episodes
		   (series_id, title, season_number, episode_number, air_date,
		    air_datetime_utc, runtime_minutes, original_timezone,
		    is_season_finale, overview)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (series_id, season_number, episode_number) DO UPDATE SET
		    title = EXCLUDED.title,
		    air_date = EXCLUDED.air_date,
		    air_datetime_utc = EXCLUDED.air_datetime_utc,
		    runtime_minutes = EXCLUDED.runtime_minutes,
		    original_timezone = EXCLUDED.original_timezone,
		    is_season_finale = EXCLUDED.is_season_finale,
		    overview = COALESCE(EXCLUDED.overview, episodes.overview),
		    updated_at = now()
		 RETURNING id, created_at, updated_at`,
		episode.SeriesID, episode.Title, episode.SeasonNumber, episode.EpisodeNumber,
		episode.AirDate, nullTime(episode.AirDateTimeUTC), nullInt(episode.RuntimeMinutes),
		nullString(episode.OriginalTimezone), episode.IsSeasonFinale,
		nullString(episode.Overview),
	).Scan(&episode.ID, &episode.CreatedAt, &episode.UpdatedAt)
	if err != nil {
		return fmt.Errorf("エピソードのUPSERTに失敗しました: %w", err)
	}
	return nil
}

// ListUpcomingByUserID はユーザーがお気に入りにしている全シリーズの
// 今後のエピソードをシリーズ情報付きでair_date昇順に返す。
// air_datetime_utcが解決済みのエピソードは時刻で、未解決のものは日付で判定する。
func (r *PostgresEpisodeRepo) ListUpcomingByUserID(ctx context.Context, userID string, now time.Time) ([]EpisodeWithSeries, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT e.id, e.series_id, e.title, e.season_number, e.episode_number,
		        e.air_date, e.air_datetime_utc, e.runtime_minutes,
		        e.original_timezone, e.is_season_finale, e.overview,
		        e.created_at, e.updated_at,
		        s.name, s.tvdb_id, s.imdb_id
		 FROM episodes e
		 INNER JOIN series s ON s.id = e.series_id
		 INNER JOIN user_series us ON us.series_id = s.id
		 WHERE us.user_id = $1
		   AND (
		     (e.air_datetime_utc IS NOT NULL AND e.air_datetime_utc >= $2)
		     OR (e.air_datetime_utc IS NULL AND e.air_date >= $3)
		   )
		 ORDER BY e.air_date ASC, e.season_number ASC, e.episode_number ASC`,
		userID, now.UTC(), now.UTC().Format("2006-01-02"),
	)
	if err != nil {
		return nil, fmt.Errorf("今後のエピソード一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var list []EpisodeWithSeries
	for rows.Next() {
		var ews EpisodeWithSeries
		var airDateTimeUTC sql.NullTime
		var runtimeMinutes sql.NullInt64
		var originalTimezone, overview, seriesIMDBID sql.NullString

		if err := rows.Scan(
			&ews.Episode.ID, &ews.Episode.SeriesID, &ews.Episode.Title,
			&ews.Episode.SeasonNumber, &ews.Episode.EpisodeNumber,
			&ews.Episode.AirDate, &airDateTimeUTC, &runtimeMinutes,
			&originalTimezone, &ews.Episode.IsSeasonFinale, &overview,
			&ews.Episode.CreatedAt, &ews.Episode.UpdatedAt,
			&ews.SeriesName, &ews.SeriesTVDBID, &seriesIMDBID,
		); err != nil {
			return nil, fmt.Errorf("今後のエピソードの読み取りに失敗しました: %w", err)
		}

		ews.Episode.AirDateTimeUTC = nullTimeValue(airDateTimeUTC)
		ews.Episode.RuntimeMinutes = nullIntValue(runtimeMinutes)
		ews.Episode.OriginalTimezone = nullStringValue(originalTimezone)
		ews.Episode.Overview = nullStringValue(overview)
		ews.SeriesIMDBID = nullStringValue(seriesIMDBID)
		list = append(list, ews)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("今後のエピソード一覧の走査に失敗しました: %w", err)
	}

	return list, nil
}

// nullTime は*time.Timeをsql.NullTimeに変換する。
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// nullInt は*intをsql.NullInt64に変換する。
func nullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

// nullIntValue はsql.NullInt64から*intを取得する。
func nullIntValue(ni sql.NullInt64) *int {
	if ni.Valid {
		v := int(ni.Int64)
		return &v
	}
	return nil
}

// compile-time interface check
var _ EpisodeRepository = (*PostgresEpisodeRepo)(nil)
