package airtime

import (
	"regexp"
	"strconv"
	"time"

	"github.com/hitoshi/tvcal/internal/tvdb"
)

// Resolved はリゾルバの出力。AirDateTimeUTCがnilの場合、エピソードは
// 下流で終日イベントとして扱われる。
type Resolved struct {
	AirDateTimeUTC *time.Time
	RuntimeMinutes *int
	Timezone       string
}

var digitsOnly = regexp.MustCompile(`^\d+$`)

// timeOfDayLayouts は上流の時刻文字列として許容するフォーマット。
var timeOfDayLayouts = []string{"15:04", "15:04:05", "3:04 PM", "3:04PM"}

// Resolve はエピソードとその親シリーズのペイロードから放送日時（UTC）、
// 放映時間（分）、ソースタイムゾーンを解決する。
// air dateが欠落または解析不能な場合、3つの出力すべてが欠落になる。
func Resolve(ep *tvdb.EpisodePayload, s *tvdb.SeriesPayload) Resolved {
	if ep.Aired == "" {
		return Resolved{}
	}
	date, err := time.Parse("2006-01-02", ep.Aired)
	if err != nil {
		return Resolved{}
	}

	tz := resolveTimezone(ep, s)
	loc, err := time.LoadLocation(tz)
	if err != nil {
		tz = defaultTimezone
		loc, _ = time.LoadLocation(tz)
	}

	resolved := Resolved{
		Timezone:       tz,
		RuntimeMinutes: resolveRuntime(ep, s),
	}

	local := resolveTimeOfDay(ep, s)
	if local.absent {
		return resolved
	}
	utc := time.Date(date.Year(), date.Month(), date.Day(), local.hour, local.minute, 0, 0, loc).UTC()
	resolved.AirDateTimeUTC = &utc
	return resolved
}

// resolveTimezone はエピソード→シリーズ→ネットワークテーブル→デフォルト
// の順でタイムゾーンを解決する。
func resolveTimezone(ep *tvdb.EpisodePayload, s *tvdb.SeriesPayload) string {
	for _, candidate := range []string{ep.Timezone, ep.TimeZone, s.Timezone, s.TimeZone} {
		if candidate != "" {
			return candidate
		}
	}
	if tz := timezoneForNetwork(s.NetworkName()); tz != "" {
		return tz
	}
	return defaultTimezone
}

type localTime struct {
	hour   int
	minute int
	absent bool
}

// resolveTimeOfDay はエピソード→シリーズの明示時刻フィールドを順に試し、
// すべて欠落ならネットワークヒューリスティックのデフォルト時刻を使う。
// いずれの候補も解析できない場合は欠落を返す。
func resolveTimeOfDay(ep *tvdb.EpisodePayload, s *tvdb.SeriesPayload) localTime {
	candidates := []string{
		ep.AirTime, ep.AirsTime, ep.OriginalAirTime,
		s.AirTime, s.AirsTime, s.OriginalAirTime,
	}
	for _, candidate := range candidates {
		if candidate == "" {
			continue
		}
		if lt, ok := parseTimeOfDay(candidate); ok {
			return lt
		}
	}
	if lt, ok := parseTimeOfDay(defaultAirTimeForNetwork(s.NetworkName())); ok {
		return lt
	}
	return localTime{absent: true}
}

func parseTimeOfDay(value string) (localTime, bool) {
	for _, layout := range timeOfDayLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return localTime{hour: t.Hour(), minute: t.Minute()}, true
		}
	}
	return localTime{}, false
}

// resolveRuntime はエピソードのruntime→シリーズの平均runtimeの順で
// 放映時間を解決する。数字列のみ整数化を許し、正の整数以外は拒否する。
func resolveRuntime(ep *tvdb.EpisodePayload, s *tvdb.SeriesPayload) *int {
	candidates := []tvdb.Numeric{
		ep.Runtime, ep.RunTime, ep.Length,
		s.AverageRuntime, s.Runtime, s.AverageLength,
	}
	for _, candidate := range candidates {
		raw := candidate.String()
		if raw == "" || !digitsOnly.MatchString(raw) {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			continue
		}
		return &n
	}
	return nil
}
