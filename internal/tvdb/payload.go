// Package tvdb はTheTVDB v4 APIの型付きクライアントを提供する。
package tvdb

import "encoding/json"

// Numeric は数値または文字列で返ってくる上流フィールドを受けるための型。
// 値の解釈（数字列の整数化）はairtimeリゾルバが行うため、ここでは生の文字列表現のみ保持する。
type Numeric string

// UnmarshalJSON はJSON数値・文字列・nullのいずれも文字列として取り込む。
func (n *Numeric) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		*n = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*n = Numeric(s)
		return nil
	}

	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return err
	}
	*n = Numeric(num.String())
	return nil
}

// String は生の文字列表現を返す。
func (n Numeric) String() string {
	return string(n)
}

// RemoteID は外部サービスとの相互参照IDを表す。
type RemoteID struct {
	ID         string `json:"id"`
	Type       int    `json:"type"`
	SourceName string `json:"sourceName"`
}

// Network は放送ネットワーク情報を表す。
type Network struct {
	Name    string `json:"name"`
	Country string `json:"country"`
}

// SeriesPayload は/series/{id}/extendedのレスポンスを表す。
// 放送時刻・タイムゾーン・放映時間は上流でフィールド名が揺れるため、
// 候補をすべて受けてairtimeリゾルバ側でフォールバック順に解決する。
type SeriesPayload struct {
	ID              int64      `json:"id"`
	Name            string     `json:"name"`
	AirTime         string     `json:"airTime"`
	AirsTime        string     `json:"airsTime"`
	OriginalAirTime string     `json:"originalAirTime"`
	Timezone        string     `json:"timezone"`
	TimeZone        string     `json:"timeZone"`
	Network         string     `json:"network"`
	OriginalNetwork Network    `json:"originalNetwork"`
	AverageRuntime  Numeric    `json:"averageRuntime"`
	Runtime         Numeric    `json:"runtime"`
	AverageLength   Numeric    `json:"averageLength"`
	RemoteIDs       []RemoteID `json:"remoteIds"`
}

// NetworkName は放送ネットワーク名を返す。originalNetwork優先。
func (s *SeriesPayload) NetworkName() string {
	if s.OriginalNetwork.Name != "" {
		return s.OriginalNetwork.Name
	}
	return s.Network
}

// IMDBID はremoteIdsからIMDBの相互参照IDを返す。無ければ空文字列。
func (s *SeriesPayload) IMDBID() string {
	for _, r := range s.RemoteIDs {
		if r.SourceName == "IMDB" {
			return r.ID
		}
	}
	return ""
}

// EpisodePayload は上流のエピソードレコードを表す。
// SeasonNumber/Numberはポインタ: 0が正当な値（スペシャル回のシーズン0）の
// ため、欠落との区別が必要になる。
type EpisodePayload struct {
	ID              int64   `json:"id"`
	SeriesID        int64   `json:"seriesId"`
	SeasonNumber    *int    `json:"seasonNumber"`
	Number          *int    `json:"number"`
	Name            string  `json:"name"`
	Aired           string  `json:"aired"`
	Overview        string  `json:"overview"`
	FinaleType      string  `json:"finaleType"`
	AirTime         string  `json:"airTime"`
	AirsTime        string  `json:"airsTime"`
	OriginalAirTime string  `json:"originalAirTime"`
	Timezone        string  `json:"timezone"`
	TimeZone        string  `json:"timeZone"`
	Runtime         Numeric `json:"runtime"`
	RunTime         Numeric `json:"runTime"`
	Length          Numeric `json:"length"`
}

// HasMandatoryFields は同期の前提となる3フィールド
// （air date、season number、episode number）が揃っているかを返す。
// 欠けているレコードは同期対象から除外される。
func (e *EpisodePayload) HasMandatoryFields() bool {
	return e.Aired != "" && e.SeasonNumber != nil && e.Number != nil
}

// IsFinale はシーズンまたはシリーズの最終回かどうかを返す。
func (e *EpisodePayload) IsFinale() bool {
	return e.FinaleType == "season" || e.FinaleType == "series"
}
