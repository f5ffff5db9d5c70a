package sync

import (
	"context"
	"log/slog"
	"time"
)

// SeriesSweeper は鮮度ウィンドウを超えた全シリーズを、特定ユーザーに
// 依存せず一括で更新する。人気シリーズの鮮度維持コストをユーザー横断で
// 平準化するための定期実行エントリポイント。
type SeriesSweeper struct {
	reconciler *Reconciler
	window     time.Duration
	logger     *slog.Logger
}

// NewSeriesSweeper はSeriesSweeperの新しいインスタンスを生成する。
func NewSeriesSweeper(reconciler *Reconciler, window time.Duration, logger *slog.Logger) *SeriesSweeper {
	return &SeriesSweeper{
		reconciler: reconciler,
		window:     window,
		logger:     logger,
	}
}

// Run はlast_synced_atがNULLまたはウィンドウ超過の全シリーズを更新する。
// 個別シリーズの失敗は記録した上で残りの処理を継続する。
func (s *SeriesSweeper) Run(ctx context.Context) error {
	now := s.reconciler.now()
	due, err := s.reconciler.series.ListDueForSync(ctx, now.Add(-s.window))
	if err != nil {
		return err
	}
	if len(due) == 0 {
		return nil
	}

	// カタログAPIの認証はAPIキーのみで行う（ユーザーPIN不要の読み取り）。
	client := s.reconciler.newClient()
	if err := client.Authenticate(ctx, ""); err != nil {
		s.logger.Error("スイープ用の認証に失敗しました", slog.String("error", err.Error()))
		return err
	}

	failed := 0
	for _, series := range due {
		payload, err := s.reconciler.refreshSeries(ctx, client, series)
		if err == nil {
			err = s.reconciler.syncEpisodes(ctx, client, series, payload)
		}
		if err != nil {
			failed++
			s.logger.Error("スイープ中のシリーズ更新に失敗しました",
				slog.Int64("series_id", series.ID),
				slog.Int64("tvdb_id", series.TVDBID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.Info("シリーズスイープが完了しました",
		slog.Int("total", len(due)),
		slog.Int("failed", failed),
	)
	return nil
}

// UserSweeper は同期ウィンドウを超えたユーザーの再同期を定期実行する。
type UserSweeper struct {
	reconciler *Reconciler
	window     time.Duration
	logger     *slog.Logger
}

// NewUserSweeper はUserSweeperの新しいインスタンスを生成する。
func NewUserSweeper(reconciler *Reconciler, window time.Duration, logger *slog.Logger) *UserSweeper {
	return &UserSweeper{
		reconciler: reconciler,
		window:     window,
		logger:     logger,
	}
}

// Run はlast_synced_atがNULLまたはウィンドウ超過の全ユーザーを順に同期する。
// 個別ユーザーの失敗（PIN失効を含む）は記録した上で継続する。
func (s *UserSweeper) Run(ctx context.Context) error {
	now := s.reconciler.now()
	due, err := s.reconciler.users.ListDueForSync(ctx, now.Add(-s.window))
	if err != nil {
		return err
	}
	if len(due) == 0 {
		return nil
	}

	failed := 0
	for _, user := range due {
		if err := s.reconciler.SyncUser(ctx, user, false); err != nil {
			failed++
		}
	}

	s.logger.Info("ユーザースイープが完了しました",
		slog.Int("total", len(due)),
		slog.Int("failed", failed),
	)
	return nil
}
