// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"time"
)

// Episode はシリーズの放送回を表す。
// (series_id, season_number, episode_number)の組はユニーク。
// air_dateは必須。air_datetime_utc/runtime_minutes/original_timezoneは
// 上流データから解決できた場合のみ設定される。
type Episode struct {
	ID               int64
	SeriesID         int64
	Title            string
	SeasonNumber     int
	EpisodeNumber    int
	AirDate          time.Time
	AirDateTimeUTC   *time.Time
	RuntimeMinutes   *int
	OriginalTimezone string
	IsSeasonFinale   bool
	Overview         string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// EpisodeCode はゼロ埋めした「02x05」形式のシーズン・話数コードを返す。
func (e *Episode) EpisodeCode() string {
	return fmt.Sprintf("%02dx%02d", e.SeasonNumber, e.EpisodeNumber)
}

// HasSpecificAirTime は正確な放送時刻（UTC）が解決済みかどうかを返す。
// falseの場合、カレンダー上は終日イベントとして表現される。
func (e *Episode) HasSpecificAirTime() bool {
	return e.AirDateTimeUTC != nil
}
