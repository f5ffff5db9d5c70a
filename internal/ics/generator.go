// Package ics はユーザーの今後のエピソードをiCalendar文書として描画する。
package ics

import (
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/tvcal/internal/repository"
)

// uidDomain はイベントUIDのドメイン部。フィード購読クライアントが
// イベントを同定するキーになるため変更しないこと。
const uidDomain = "tvcal.local"

// defaultRuntimeMinutes はruntimeが解決できなかったイベントの長さ。
const defaultRuntimeMinutes = 30

// feedTZID はフィードに埋め込むタイムゾーン定義のID。
const feedTZID = "America/New_York"

var feedLocation *time.Location

func init() {
	loc, err := time.LoadLocation(feedTZID)
	if err != nil {
		panic(fmt.Sprintf("ics: タイムゾーン %s をロードできません: %v", feedTZID, err))
	}
	feedLocation = loc
}

// Generator はiCalendarフィードを生成する。
type Generator struct {
	now func() time.Time
}

// NewGenerator はGeneratorを生成する。
func NewGenerator() *Generator {
	return &Generator{now: time.Now}
}

// Generate はエピソード一覧からiCalendar文書を生成する。
// episodesは放送日昇順で渡されることを前提とする。
func (g *Generator) Generate(episodes []repository.EpisodeWithSeries) string {
	var b strings.Builder

	writeLine(&b, "BEGIN:VCALENDAR")
	writeLine(&b, "VERSION:2.0")
	writeLine(&b, "PRODID:-//TVDB Calendar//NONSGML v1.0//EN")
	writeLine(&b, "CALSCALE:GREGORIAN")
	writeLine(&b, "METHOD:PUBLISH")
	writeLine(&b, "X-WR-CALNAME:TV Shows")
	writeLine(&b, "X-WR-CALDESC:Upcoming episodes of your favorite TV shows")

	writeTimezone(&b)

	stamp := g.now().UTC().Format("20060102T150405Z")
	for i := range episodes {
		g.writeEvent(&b, &episodes[i], stamp)
	}

	writeLine(&b, "END:VCALENDAR")
	return b.String()
}

// writeTimezone はAmerica/New_Yorkのタイムゾーン定義を書き出す。
// 2007年以降の米国夏時間規則（3月第2日曜/11月第1日曜 02:00）を
// 固定で埋め込む。フィード形式がインライン定義を要求するため、
// システムのタイムゾーンDBからは導出しない。
func writeTimezone(b *strings.Builder) {
	writeLine(b, "BEGIN:VTIMEZONE")
	writeLine(b, "TZID:"+feedTZID)
	writeLine(b, "BEGIN:DAYLIGHT")
	writeLine(b, "TZOFFSETFROM:-0500")
	writeLine(b, "TZOFFSETTO:-0400")
	writeLine(b, "TZNAME:EDT")
	writeLine(b, "DTSTART:20070311T020000")
	writeLine(b, "RRULE:FREQ=YEARLY;BYMONTH=3;BYDAY=2SU")
	writeLine(b, "END:DAYLIGHT")
	writeLine(b, "BEGIN:STANDARD")
	writeLine(b, "TZOFFSETFROM:-0400")
	writeLine(b, "TZOFFSETTO:-0500")
	writeLine(b, "TZNAME:EST")
	writeLine(b, "DTSTART:20071104T020000")
	writeLine(b, "RRULE:FREQ=YEARLY;BYMONTH=11;BYDAY=1SU")
	writeLine(b, "END:STANDARD")
	writeLine(b, "END:VTIMEZONE")
}

func (g *Generator) writeEvent(b *strings.Builder, ep *repository.EpisodeWithSeries, stamp string) {
	writeLine(b, "BEGIN:VEVENT")
	writeLine(b, fmt.Sprintf("UID:episode-%d-%d@%s", ep.ID, ep.SeriesTVDBID, uidDomain))
	writeLine(b, "DTSTAMP:"+stamp)

	if ep.AirDateTimeUTC != nil {
		start := ep.AirDateTimeUTC.In(feedLocation)
		end := roundUpToQuarterHour(start.Add(time.Duration(runtimeOrDefault(ep.RuntimeMinutes)) * time.Minute))
		writeLine(b, "DTSTART;TZID="+feedTZID+":"+start.Format("20060102T150405"))
		writeLine(b, "DTEND;TZID="+feedTZID+":"+end.Format("20060102T150405"))
	} else {
		// 正確な放送時刻が解決できなかったエピソードは終日イベント。
		// 終了日は排他的なので翌日を指定する。
		writeLine(b, "DTSTART;VALUE=DATE:"+ep.AirDate.Format("20060102"))
		writeLine(b, "DTEND;VALUE=DATE:"+ep.AirDate.AddDate(0, 0, 1).Format("20060102"))
	}

	summary := fmt.Sprintf("%s %s", ep.SeriesName, ep.EpisodeCode())
	if ep.IsSeasonFinale {
		summary += " - Season Finale"
	}
	writeLine(b, "SUMMARY:"+escapeText(summary))
	writeLine(b, "LOCATION:"+escapeText(fmt.Sprintf("%s (%s)", ep.Title, ep.EpisodeCode())))

	if desc := buildDescription(ep); desc != "" {
		writeLine(b, "DESCRIPTION:"+escapeText(desc))
	}
	if url := imdbURL(ep.SeriesIMDBID); url != "" {
		writeLine(b, "URL:"+url)
	}

	writeLine(b, "END:VEVENT")
}

// buildDescription は概要・放映時間・現地放送時刻・IMDBリンクから
// 説明文を組み立てる。全要素が欠落していれば空文字列。
func buildDescription(ep *repository.EpisodeWithSeries) string {
	var parts []string
	if ep.Overview != "" {
		parts = append(parts, ep.Overview)
	}
	if ep.RuntimeMinutes != nil {
		parts = append(parts, fmt.Sprintf("Runtime: %d minutes", *ep.RuntimeMinutes))
	}
	if ep.AirDateTimeUTC != nil && ep.OriginalTimezone != "" {
		if loc, err := time.LoadLocation(ep.OriginalTimezone); err == nil {
			local := ep.AirDateTimeUTC.In(loc)
			parts = append(parts, fmt.Sprintf("Airs at %s (%s)", local.Format("15:04"), ep.OriginalTimezone))
		}
	}
	if url := imdbURL(ep.SeriesIMDBID); url != "" {
		parts = append(parts, "Watch on IMDB: "+url)
	}
	return strings.Join(parts, "\n")
}

func imdbURL(imdbID string) string {
	if imdbID == "" {
		return ""
	}
	return fmt.Sprintf("https://www.imdb.com/title/%s/", imdbID)
}

func runtimeOrDefault(runtime *int) int {
	if runtime == nil || *runtime <= 0 {
		return defaultRuntimeMinutes
	}
	return *runtime
}

// roundUpToQuarterHour は時刻を次の15分境界へ切り上げる。
// ちょうど境界上の時刻はそのまま返す。
func roundUpToQuarterHour(t time.Time) time.Time {
	const quarter = 15 * time.Minute
	offset := time.Duration(t.Minute())*time.Minute + time.Duration(t.Second())*time.Second + time.Duration(t.Nanosecond())
	rem := offset % quarter
	if rem == 0 {
		return t
	}
	return t.Add(quarter - rem)
}

// escapeText はテキストフィールドの値をエスケープする。
// バックスラッシュ・カンマ・セミコロン・二重引用符をバックスラッシュで
// エスケープし、改行はリテラルの\nに、CRは除去する。
func escapeText(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, ",", "\\,")
	s = strings.ReplaceAll(s, ";", "\\;")
	s = strings.ReplaceAll(s, `"`, `\"`)
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}

// writeLine はCRLF終端の1行を書き出す。
func writeLine(b *strings.Builder, line string) {
	b.WriteString(line)
	b.WriteString("\r\n")
}
