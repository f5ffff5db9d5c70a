// Package airtime はエピソードの放送日時・タイムゾーン・放映時間を
// 上流ペイロードのフォールバックチェーンから解決する純粋関数群を提供する。
package airtime

import "strings"

// defaultTimezone はどのフォールバックにも一致しなかった場合のタイムゾーン。
const defaultTimezone = "America/New_York"

// networkTimezones はネットワーク名（大文字小文字無視の部分一致）から
// タイムゾーンへのヒューリスティックなマッピング。現行テーブルでは
// プレミアムケーブル・一般ケーブル・地上波・子供向け・配信系すべてが
// America/New_Yorkに解決される。
var networkTimezones = map[string]string{
	"HBO":            "America/New_York",
	"SHOWTIME":       "America/New_York",
	"STARZ":          "America/New_York",
	"EPIX":           "America/New_York",
	"MTV":            "America/New_York",
	"VH1":            "America/New_York",
	"FX":             "America/New_York",
	"AMC":            "America/New_York",
	"TNT":            "America/New_York",
	"TBS":            "America/New_York",
	"USA":            "America/New_York",
	"SYFY":           "America/New_York",
	"COMEDY CENTRAL": "America/New_York",
	"FOX":            "America/New_York",
	"ABC":            "America/New_York",
	"CBS":            "America/New_York",
	"NBC":            "America/New_York",
	"CW":             "America/New_York",
	"PBS":            "America/New_York",
	"DISNEY":         "America/New_York",
	"NICKELODEON":    "America/New_York",
	"CARTOON":        "America/New_York",
	"NETFLIX":        "America/New_York",
	"HULU":           "America/New_York",
	"AMAZON":         "America/New_York",
	"PRIME":          "America/New_York",
}

// timezoneForNetwork はネットワーク名からタイムゾーンを推定する。
// 一致しない場合は空文字列を返す。
func timezoneForNetwork(network string) string {
	if network == "" {
		return ""
	}
	upper := strings.ToUpper(network)
	for key, tz := range networkTimezones {
		if strings.Contains(upper, key) {
			return tz
		}
	}
	return ""
}

// defaultAirTimeForNetwork はネットワークの典型的な放送開始時刻を返す。
// プレミアム/ケーブル系は20:00、主要地上波は21:00、それ以外も20:00。
func defaultAirTimeForNetwork(network string) string {
	upper := strings.ToUpper(network)
	switch {
	case strings.Contains(upper, "HBO"),
		strings.Contains(upper, "SHOWTIME"),
		strings.Contains(upper, "FX"),
		strings.Contains(upper, "AMC"):
		return "20:00"
	case strings.Contains(upper, "CBS"),
		strings.Contains(upper, "NBC"),
		strings.Contains(upper, "ABC"),
		strings.Contains(upper, "FOX"):
		return "21:00"
	default:
		return "20:00"
	}
}
