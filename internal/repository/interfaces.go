// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/tvcal/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定ID（公開UUID）のユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByPIN は指定PINのユーザーを取得する。見つからない場合はnilを返す。
	FindByPIN(ctx context.Context, pin string) (*model.User, error)

	// Create は呼び出し側が採番したID（UUID）でユーザーを作成し、作成日時を
	// userに書き戻す。PINのユニーク制約違反はIsUniqueViolationで判定できる
	// エラーを返す。
	Create(ctx context.Context, user *model.User) error

	// UpdateLastSyncedAt は同期完了時刻を更新する。
	UpdateLastSyncedAt(ctx context.Context, id string, syncedAt time.Time) error

	// ListDueForSync はlast_synced_atがNULLまたはcutoffより古いユーザーを返す。
	ListDueForSync(ctx context.Context, cutoff time.Time) ([]*model.User, error)
}

// SeriesRepository はシリーズデータの永続化インターフェース。
// シリーズはtvdb_idでシステム全体に1行へ正規化される共有カタログ。
type SeriesRepository interface {
	// FindByTVDBID は上流IDでシリーズを検索する。見つからない場合はnilを返す。
	FindByTVDBID(ctx context.Context, tvdbID int64) (*model.Series, error)

	// CreateIfAbsent はシリーズを冪等に作成する。
	// tvdb_idのユニーク制約に基づきON CONFLICT DO NOTHINGで挿入し、
	// 既存行があれば（並行作成との競合を含め）その行をseriesに書き戻す。
	CreateIfAbsent(ctx context.Context, series *model.Series) error

	// Update はシリーズのメタデータ（name, imdb_id）を更新する。
	Update(ctx context.Context, series *model.Series) error

	// MarkSynced はlast_synced_atを更新する。
	MarkSynced(ctx context.Context, id int64, syncedAt time.Time) error

	// ListDueForSync はlast_synced_atがNULLまたはcutoffより古いシリーズを返す。
	ListDueForSync(ctx context.Context, cutoff time.Time) ([]*model.Series, error)
}

// UserSeriesRepository はお気に入り関係の永続化インターフェース。
type UserSeriesRepository interface {
	// CreateIfAbsent は(user_id, series_id)の関係を冪等に作成する。
	// 既に存在する場合（並行作成との競合を含め）は成功として扱う。
	CreateIfAbsent(ctx context.Context, userID string, seriesID int64) error
}

// EpisodeRepository はエピソードデータの永続化インターフェース。
type EpisodeRepository interface {
	// Upsert は(series_id, season_number, episode_number)キーでエピソードを
	// 冪等にUPSERTする。新規作成時は生成されたIDをepisodeに書き戻す。
	Upsert(ctx context.Context, episode *model.Episode) error

	// ListUpcomingByUserID はユーザーがお気に入りにしている全シリーズの
	// 今後のエピソードをシリーズ情報付きでair_date昇順に返す。
	// 「今後」はair_datetime_utcがあればそれをnowと比較し、
	// なければair_dateをnowの日付と比較して判定する。
	ListUpcomingByUserID(ctx context.Context, userID string, now time.Time) ([]EpisodeWithSeries, error)
}

// EpisodeWithSeries はエピソードと所属シリーズの情報を結合した構造体。
// カレンダー生成で使用する。
type EpisodeWithSeries struct {
	model.Episode
	SeriesName   string
	SeriesTVDBID int64
	SeriesIMDBID string
}
