package sync

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hitoshi/tvcal/internal/airtime"
	"github.com/hitoshi/tvcal/internal/metrics"
	"github.com/hitoshi/tvcal/internal/model"
	"github.com/hitoshi/tvcal/internal/progress"
	"github.com/hitoshi/tvcal/internal/repository"
	"github.com/hitoshi/tvcal/internal/tvdb"
)

// CatalogClient はカタログAPIへの操作のインターフェース。
// 実装はinternal/tvdbパッケージ。テストではフェイクに差し替える。
type CatalogClient interface {
	Authenticate(ctx context.Context, pin string) error
	ListFavorites(ctx context.Context) ([]int64, error)
	SeriesDetails(ctx context.Context, seriesID int64) (*tvdb.SeriesPayload, error)
	SeriesEpisodes(ctx context.Context, seriesID int64) ([]tvdb.EpisodePayload, error)
	EpisodeDetails(ctx context.Context, episodeID int64) (*tvdb.EpisodePayload, error)
}

// ClientFactory は同期実行ごとに新しいCatalogClientを生成する。
// クライアントはユーザーごとの認証トークンを保持するため使い回さない。
type ClientFactory func() CatalogClient

// Publisher は進捗イベントの配信先。progress.Hubが実装する。
type Publisher interface {
	Publish(userID string, ev progress.Event)
}

// Reconciler はユーザーのお気に入りとカタログの整合を取る同期エンジン。
// 1回の実行内でシリーズは逐次処理される。複数ユーザーの実行は並行し得るが、
// 共有シリーズ行の競合はDBのユニーク制約と冪等な作成で吸収する。
type Reconciler struct {
	users        repository.UserRepository
	series       repository.SeriesRepository
	userSeries   repository.UserSeriesRepository
	episodes     repository.EpisodeRepository
	newClient    ClientFactory
	publisher    Publisher
	metrics      metrics.MetricsCollector
	logger       *slog.Logger
	seriesWindow time.Duration
	sanitizer    *bluemonday.Policy
	now          func() time.Time
}

// NewReconciler はReconcilerの新しいインスタンスを生成する。
func NewReconciler(
	users repository.UserRepository,
	series repository.SeriesRepository,
	userSeries repository.UserSeriesRepository,
	episodes repository.EpisodeRepository,
	newClient ClientFactory,
	publisher Publisher,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	seriesWindow time.Duration,
) *Reconciler {
	return &Reconciler{
		users:        users,
		series:       series,
		userSeries:   userSeries,
		episodes:     episodes,
		newClient:    newClient,
		publisher:    publisher,
		metrics:      collector,
		logger:       logger,
		seriesWindow: seriesWindow,
		sanitizer:    bluemonday.StrictPolicy(),
		now:          time.Now,
	}
}

// SyncUser はユーザーのお気に入り全シリーズを同期する。
// 認証・お気に入り取得の失敗は実行全体の失敗となりlast_synced_atは
// 更新されない。個別シリーズの失敗は進捗イベントで通知した上で
// 残りのシリーズの処理を継続する。
func (r *Reconciler) SyncUser(ctx context.Context, user *model.User, force bool) error {
	client := r.newClient()

	r.publisher.Publish(user.ID, progress.NewEvent(0, 0, "Authenticating with TVDB", false))
	if err := client.Authenticate(ctx, user.PIN); err != nil {
		if errors.Is(err, model.ErrInvalidPIN) {
			r.logger.Warn("PINが拒否されました", slog.String("user_id", user.ID))
			r.metrics.RecordSyncFailure("invalid_pin")
			r.publisher.Publish(user.ID, progress.NewEvent(0, 0, "PIN Invalid", true))
			return err
		}
		r.logger.Error("カタログAPIへの認証に失敗しました",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		r.metrics.RecordSyncFailure("auth")
		r.publisher.Publish(user.ID, progress.NewEvent(0, 0, "Failed to process request. Please check your PIN.", true))
		return fmt.Errorf("認証に失敗: %w", err)
	}

	r.publisher.Publish(user.ID, progress.NewEvent(0, 0, "Fetching favorites", false))
	favorites, err := client.ListFavorites(ctx)
	if err != nil {
		r.logger.Error("お気に入り一覧の取得に失敗しました",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		r.metrics.RecordSyncFailure("favorites")
		r.publisher.Publish(user.ID, progress.NewEvent(0, 0, "Failed to process request. Please check your PIN.", true))
		return fmt.Errorf("お気に入り一覧の取得に失敗: %w", err)
	}

	total := len(favorites)
	for i, tvdbID := range favorites {
		r.publisher.Publish(user.ID, progress.NewEvent(i, total,
			fmt.Sprintf("Syncing series %d of %d", i+1, total), false))

		if err := r.syncSeriesForUser(ctx, client, user, tvdbID, force); err != nil {
			// 個別シリーズの失敗は実行を止めない。
			r.logger.Error("シリーズの同期に失敗しました",
				slog.String("user_id", user.ID),
				slog.Int64("tvdb_id", tvdbID),
				slog.String("error", err.Error()),
			)
			r.publisher.Publish(user.ID, progress.NewEvent(i+1, total,
				fmt.Sprintf("Failed to sync series %d of %d", i+1, total), true))
			continue
		}

		r.publisher.Publish(user.ID, progress.NewEvent(i+1, total,
			fmt.Sprintf("Synced series %d of %d", i+1, total), false))
	}

	completedAt := r.now()
	if err := r.users.UpdateLastSyncedAt(ctx, user.ID, completedAt); err != nil {
		r.metrics.RecordSyncFailure("persist")
		return fmt.Errorf("同期完了時刻の更新に失敗: %w", err)
	}
	user.LastSyncedAt = &completedAt

	r.metrics.RecordSyncSuccess()
	r.publisher.Publish(user.ID, progress.NewEvent(total, total, "Sync complete", false))
	r.logger.Info("ユーザー同期が完了しました",
		slog.String("user_id", user.ID),
		slog.Int("favorites", total),
	)
	return nil
}

// syncSeriesForUser は1件のお気に入りシリーズを処理する。
// シリーズの作成または更新→エピソード同期→ユーザーとの関連付けの順。
func (r *Reconciler) syncSeriesForUser(ctx context.Context, client CatalogClient, user *model.User, tvdbID int64, force bool) error {
	series, err := r.series.FindByTVDBID(ctx, tvdbID)
	if err != nil {
		return fmt.Errorf("シリーズの検索に失敗: %w", err)
	}

	switch {
	case series == nil:
		// 新規シリーズは無条件でエピソードまで同期する。
		var payload *tvdb.SeriesPayload
		series, payload, err = r.createSeries(ctx, client, tvdbID)
		if err != nil {
			return err
		}
		if err := r.syncEpisodes(ctx, client, series, payload); err != nil {
			return err
		}

	case NeedsSync(series.LastSyncedAt, r.now(), r.seriesWindow) || force:
		payload, err := r.refreshSeries(ctx, client, series)
		if err != nil {
			return err
		}
		if err := r.syncEpisodes(ctx, client, series, payload); err != nil {
			return err
		}

	default:
		// 鮮度ウィンドウ内のシリーズはエピソードを再取得しない。
		// エピソード同期が最も高価な操作であり、人気シリーズを
		// お気に入りにするユーザーごとに繰り返してはならない。
		r.metrics.RecordSeriesSkippedFresh()
	}

	if err := r.userSeries.CreateIfAbsent(ctx, user.ID, series.ID); err != nil {
		return fmt.Errorf("お気に入り関係の作成に失敗: %w", err)
	}
	return nil
}

// createSeries は上流から詳細を取得してシリーズ行を冪等に作成する。
// 並行する別ユーザーの同期が先に作成していた場合は既存行が返る。
func (r *Reconciler) createSeries(ctx context.Context, client CatalogClient, tvdbID int64) (*model.Series, *tvdb.SeriesPayload, error) {
	payload, err := client.SeriesDetails(ctx, tvdbID)
	if err != nil {
		return nil, nil, fmt.Errorf("シリーズ詳細の取得に失敗: %w", err)
	}

	series := &model.Series{
		TVDBID: tvdbID,
		Name:   payload.Name,
		IMDBID: payload.IMDBID(),
	}
	if err := r.series.CreateIfAbsent(ctx, series); err != nil {
		return nil, nil, fmt.Errorf("シリーズの作成に失敗: %w", err)
	}
	return series, payload, nil
}

// refreshSeries は上流の最新メタデータでシリーズ行を更新する。
func (r *Reconciler) refreshSeries(ctx context.Context, client CatalogClient, series *model.Series) (*tvdb.SeriesPayload, error) {
	payload, err := client.SeriesDetails(ctx, series.TVDBID)
	if err != nil {
		return nil, fmt.Errorf("シリーズ詳細の取得に失敗: %w", err)
	}

	series.Name = payload.Name
	series.IMDBID = payload.IMDBID()
	if err := r.series.Update(ctx, series); err != nil {
		return nil, fmt.Errorf("シリーズの更新に失敗: %w", err)
	}
	return payload, nil
}

// syncEpisodes はシリーズの全エピソードを取得してUPSERTする。
// 必須フィールド（air date・シーズン番号・話数）が欠けたレコードは
// 件数を記録した上で除外する。全件処理が完了した後にのみ
// last_synced_atを更新する。
func (r *Reconciler) syncEpisodes(ctx context.Context, client CatalogClient, series *model.Series, seriesPayload *tvdb.SeriesPayload) error {
	payloads, err := client.SeriesEpisodes(ctx, series.TVDBID)
	if err != nil {
		return fmt.Errorf("エピソード一覧の取得に失敗: %w", err)
	}

	upserted := 0
	dropped := 0
	for i := range payloads {
		p := &payloads[i]
		if !p.HasMandatoryFields() {
			dropped++
			continue
		}

		episode, err := r.buildEpisode(ctx, client, series, seriesPayload, p)
		if err != nil {
			return err
		}
		if err := r.episodes.Upsert(ctx, episode); err != nil {
			return fmt.Errorf("エピソードのUPSERTに失敗: %w", err)
		}
		upserted++
	}

	if dropped > 0 {
		r.logger.Warn("必須フィールド欠落のエピソードを除外しました",
			slog.Int64("series_id", series.ID),
			slog.Int64("tvdb_id", series.TVDBID),
			slog.Int("dropped", dropped),
		)
	}
	r.metrics.RecordEpisodesUpserted(upserted)
	r.metrics.RecordEpisodesDropped(dropped)

	syncedAt := r.now()
	if err := r.series.MarkSynced(ctx, series.ID, syncedAt); err != nil {
		return fmt.Errorf("シリーズ同期時刻の更新に失敗: %w", err)
	}
	series.LastSyncedAt = &syncedAt
	r.metrics.RecordSeriesSynced()
	return nil
}

// buildEpisode は上流ペイロードからエピソードモデルを組み立てる。
// 放送日時はリゾルバで解決し、概要はベストエフォートでバックフィルする。
func (r *Reconciler) buildEpisode(ctx context.Context, client CatalogClient, series *model.Series, seriesPayload *tvdb.SeriesPayload, p *tvdb.EpisodePayload) (*model.Episode, error) {
	airDate, err := time.Parse("2006-01-02", p.Aired)
	if err != nil {
		return nil, fmt.Errorf("放送日の解析に失敗 (%q): %w", p.Aired, err)
	}

	resolved := airtime.Resolve(p, seriesPayload)

	title := p.Name
	if title == "" {
		title = fmt.Sprintf("Episode %d", *p.Number)
	}

	episode := &model.Episode{
		SeriesID:         series.ID,
		Title:            title,
		SeasonNumber:     *p.SeasonNumber,
		EpisodeNumber:    *p.Number,
		AirDate:          airDate,
		AirDateTimeUTC:   resolved.AirDateTimeUTC,
		RuntimeMinutes:   resolved.RuntimeMinutes,
		OriginalTimezone: resolved.Timezone,
		IsSeasonFinale:   p.IsFinale(),
		Overview:         r.resolveOverview(ctx, client, p),
	}
	return episode, nil
}

// resolveOverview は概要テキストを解決する。一覧ペイロードに無ければ
// エピソード詳細をベストエフォートで取得する。詳細取得の失敗は
// 同期を中断せず、概要なしで続行する。
func (r *Reconciler) resolveOverview(ctx context.Context, client CatalogClient, p *tvdb.EpisodePayload) string {
	overview := p.Overview
	if overview == "" {
		detail, err := client.EpisodeDetails(ctx, p.ID)
		if err != nil {
			r.logger.Warn("エピソード詳細の取得に失敗しました（概要なしで続行）",
				slog.Int64("episode_id", p.ID),
				slog.String("error", err.Error()),
			)
			return ""
		}
		overview = detail.Overview
	}
	return r.sanitizeOverview(overview)
}

// sanitizeOverview は上流由来のHTMLをすべて除去し平文に正規化する。
func (r *Reconciler) sanitizeOverview(raw string) string {
	stripped := r.sanitizer.Sanitize(raw)
	return strings.TrimSpace(html.UnescapeString(stripped))
}
