// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"time"
)

// Series はカタログ上の番組を表す。
// tvdb_idで全ユーザー横断のシステム全体で1行に正規化される。
// 複数のユーザーが同一のSeriesをUserSeries経由で参照する。
type Series struct {
	ID           int64
	TVDBID       int64
	Name         string
	IMDBID       string
	LastSyncedAt *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IMDBURL はIMDBの作品ページURLを返す。imdb_id未設定の場合は空文字列。
func (s *Series) IMDBURL() string {
	if s.IMDBID == "" {
		return ""
	}
	return fmt.Sprintf("https://www.imdb.com/title/%s/", s.IMDBID)
}

// UserSeries はユーザーとシリーズのお気に入り関係を表す。
// (user_id, series_id)の組はユニーク。再登録は冪等に扱う。
type UserSeries struct {
	ID        int64
	UserID    string
	SeriesID  int64
	CreatedAt time.Time
}
