package airtime

import (
	"testing"
	"time"

	"github.com/hitoshi/tvcal/internal/tvdb"
)

func TestResolve_MissingAirDate(t *testing.T) {
	got := Resolve(&tvdb.EpisodePayload{}, &tvdb.SeriesPayload{AirsTime: "20:00", Runtime: "60"})
	if got.AirDateTimeUTC != nil || got.RuntimeMinutes != nil || got.Timezone != "" {
		t.Errorf("air date欠落時は全出力が欠落になるべき: got %+v", got)
	}
}

func TestResolve_UnparseableAirDate(t *testing.T) {
	got := Resolve(&tvdb.EpisodePayload{Aired: "not-a-date"}, &tvdb.SeriesPayload{})
	if got.AirDateTimeUTC != nil || got.RuntimeMinutes != nil || got.Timezone != "" {
		t.Errorf("解析不能な日付でも全出力が欠落になるべき: got %+v", got)
	}
}

func TestResolve_ExplicitEpisodeTime(t *testing.T) {
	ep := &tvdb.EpisodePayload{Aired: "2025-07-21", AirTime: "22:30", Timezone: "America/Los_Angeles"}
	got := Resolve(ep, &tvdb.SeriesPayload{AirsTime: "20:00"})

	if got.Timezone != "America/Los_Angeles" {
		t.Errorf("エピソードのタイムゾーンが優先されるべき: got %q", got.Timezone)
	}
	// 2025-07-21 22:30 PDT = 2025-07-22 05:30 UTC
	want := time.Date(2025, 7, 22, 5, 30, 0, 0, time.UTC)
	if got.AirDateTimeUTC == nil || !got.AirDateTimeUTC.Equal(want) {
		t.Errorf("UTC変換が不正: got %v, want %v", got.AirDateTimeUTC, want)
	}
}

func TestResolve_NetworkDefaults(t *testing.T) {
	cases := []struct {
		network  string
		wantHour int // America/New_Yorkのローカル時
	}{
		{"HBO", 20},
		{"Showtime", 20},
		{"FX", 20},
		{"AMC", 20},
		{"CBS", 21},
		{"NBC", 21},
		{"ABC", 21},
		{"FOX", 21},
		{"Some Obscure Channel", 20},
	}
	ny, _ := time.LoadLocation("America/New_York")
	for _, tc := range cases {
		t.Run(tc.network, func(t *testing.T) {
			ep := &tvdb.EpisodePayload{Aired: "2025-07-21"}
			s := &tvdb.SeriesPayload{OriginalNetwork: tvdb.Network{Name: tc.network}}
			got := Resolve(ep, s)

			if got.Timezone != "America/New_York" {
				t.Fatalf("タイムゾーンはAmerica/New_Yorkに解決されるべき: got %q", got.Timezone)
			}
			if got.AirDateTimeUTC == nil {
				t.Fatal("デフォルト時刻が適用されるべき")
			}
			local := got.AirDateTimeUTC.In(ny)
			if local.Hour() != tc.wantHour || local.Minute() != 0 {
				t.Errorf("デフォルト時刻が不正: got %02d:%02d, want %02d:00", local.Hour(), local.Minute(), tc.wantHour)
			}
		})
	}
}

func TestResolve_SeriesTimezoneFallback(t *testing.T) {
	ep := &tvdb.EpisodePayload{Aired: "2025-01-15"}
	s := &tvdb.SeriesPayload{TimeZone: "Asia/Tokyo", AirsTime: "23:00"}
	got := Resolve(ep, s)

	if got.Timezone != "Asia/Tokyo" {
		t.Errorf("シリーズのタイムゾーンにフォールバックすべき: got %q", got.Timezone)
	}
	// 2025-01-15 23:00 JST = 2025-01-15 14:00 UTC
	want := time.Date(2025, 1, 15, 14, 0, 0, 0, time.UTC)
	if got.AirDateTimeUTC == nil || !got.AirDateTimeUTC.Equal(want) {
		t.Errorf("UTC変換が不正: got %v, want %v", got.AirDateTimeUTC, want)
	}
}

func TestResolve_InvalidTimezoneFallsBack(t *testing.T) {
	ep := &tvdb.EpisodePayload{Aired: "2025-07-21", Timezone: "Not/AZone", AirTime: "20:00"}
	got := Resolve(ep, &tvdb.SeriesPayload{})

	if got.Timezone != "America/New_York" {
		t.Errorf("不正なタイムゾーンはデフォルトに落ちるべき: got %q", got.Timezone)
	}
	if got.AirDateTimeUTC == nil {
		t.Error("デフォルトタイムゾーンで解決は継続すべき")
	}
}

func TestResolveRuntime(t *testing.T) {
	cases := []struct {
		name string
		ep   tvdb.EpisodePayload
		s    tvdb.SeriesPayload
		want *int
	}{
		{"エピソードのruntime優先", tvdb.EpisodePayload{Runtime: "45"}, tvdb.SeriesPayload{AverageRuntime: "60"}, intPtr(45)},
		{"シリーズ平均にフォールバック", tvdb.EpisodePayload{}, tvdb.SeriesPayload{AverageRuntime: "60"}, intPtr(60)},
		{"数字列は整数化", tvdb.EpisodePayload{RunTime: "30"}, tvdb.SeriesPayload{}, intPtr(30)},
		{"非数字列は拒否して次候補", tvdb.EpisodePayload{Runtime: "45 min"}, tvdb.SeriesPayload{Runtime: "50"}, intPtr(50)},
		{"ゼロは拒否", tvdb.EpisodePayload{Runtime: "0"}, tvdb.SeriesPayload{}, nil},
		{"全候補欠落", tvdb.EpisodePayload{}, tvdb.SeriesPayload{}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := resolveRuntime(&tc.ep, &tc.s)
			switch {
			case tc.want == nil && got != nil:
				t.Errorf("欠落が期待される: got %d", *got)
			case tc.want != nil && got == nil:
				t.Errorf("got nil, want %d", *tc.want)
			case tc.want != nil && *got != *tc.want:
				t.Errorf("got %d, want %d", *got, *tc.want)
			}
		})
	}
}

func TestTimezoneForNetwork(t *testing.T) {
	if tz := timezoneForNetwork("Comedy Central (US)"); tz != "America/New_York" {
		t.Errorf("部分一致で解決されるべき: got %q", tz)
	}
	if tz := timezoneForNetwork("hbo max"); tz != "America/New_York" {
		t.Errorf("大文字小文字を無視すべき: got %q", tz)
	}
	if tz := timezoneForNetwork("Unknown Broadcaster"); tz != "" {
		t.Errorf("未知のネットワークは空を返すべき: got %q", tz)
	}
}

func intPtr(n int) *int { return &n }
