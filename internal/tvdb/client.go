package tvdb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"regexp"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/hitoshi/tvcal/internal/model"
)

// ErrNotAuthenticated はAuthenticate前にAPI呼び出しを行った場合のエラー。
var ErrNotAuthenticated = errors.New("tvdb: not authenticated")

// PIN拒否の判定パターン。上流のエラーメッセージは形式が安定しないため、
// messageフィールドの単語境界付き"pin"、またはerrorフィールドの
// invalid/pin共起パターンで判定する。
var (
	pinWordPattern    = regexp.MustCompile(`(?i)\bpin\b`)
	invalidPinPattern = regexp.MustCompile(`(?i)invalid.*pin|pin.*invalid`)
)

// defaultPageSize は上流がlinks.page_sizeを返さない場合のページサイズ。
const defaultPageSize = 500

// maxAttempts は一時的エラーに対するGETのリトライ回数。
const maxAttempts = 3

// UpstreamObserver は上流API呼び出しの観測値を受け取る。
// metrics.MetricsCollectorが実装する。
type UpstreamObserver interface {
	RecordUpstreamStatus(status int)
	RecordUpstreamLatency(d time.Duration)
}

// Client はTheTVDB v4 APIのクライアント。
// 1回の同期実行につき1インスタンスを生成し、Authenticateで得たトークンを
// 以降の呼び出しで使用する。複数goroutineからの共有は想定しない。
type Client struct {
	apiKey   string
	baseURL  string
	httpc    *http.Client
	observer UpstreamObserver
	token    string
}

// NewClient はClientを生成する。httpcがnilの場合はtimeout付きのデフォルトを
// 使用する。observerはnilでもよく、その場合は観測値を記録しない。
func NewClient(apiKey, baseURL string, timeout time.Duration, httpc *http.Client, observer UpstreamObserver) *Client {
	if httpc == nil {
		httpc = &http.Client{Timeout: timeout}
	}
	return &Client{
		apiKey:   apiKey,
		baseURL:  baseURL,
		httpc:    httpc,
		observer: observer,
	}
}

// observe はリクエスト1回分のステータスとレイテンシを記録する。
// statusが0の場合（トランスポートエラー）はレイテンシのみ記録する。
func (c *Client) observe(status int, started time.Time) {
	if c.observer == nil {
		return
	}
	c.observer.RecordUpstreamLatency(time.Since(started))
	if status != 0 {
		c.observer.RecordUpstreamStatus(status)
	}
}

// loginResponse は/loginのレスポンス。
type loginResponse struct {
	Data struct {
		Token string `json:"token"`
	} `json:"data"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

// Authenticate はユーザーのPINで上流にログインし、トークンを保持する。
// 上流が明示的にPINを拒否した場合はmodel.ErrInvalidPINを返し、
// それ以外の失敗は上流メッセージをverbatimに保持したUpstreamErrorを返す。
func (c *Client) Authenticate(ctx context.Context, pin string) error {
	body, err := json.Marshal(map[string]string{
		"apikey": c.apiKey,
		"pin":    pin,
	})
	if err != nil {
		return fmt.Errorf("ログインリクエストの組み立てに失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/login", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("ログインリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := c.httpc.Do(req)
	if err != nil {
		c.observe(0, started)
		return &model.UpstreamError{Op: "login", Err: err}
	}
	defer resp.Body.Close()
	c.observe(resp.StatusCode, started)

	var parsed loginResponse
	decodeErr := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&parsed)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if decodeErr != nil {
			return &model.UpstreamError{Op: "login", Err: decodeErr}
		}
		c.token = parsed.Data.Token
		return nil
	}

	// 401でメッセージがPINを指している場合のみ資格情報エラーとして扱う。
	// それ以外の401（APIキー起因など）は一時的エラー扱い。
	if resp.StatusCode == http.StatusUnauthorized && decodeErr == nil {
		if pinWordPattern.MatchString(parsed.Message) || invalidPinPattern.MatchString(parsed.Error) {
			return model.ErrInvalidPIN
		}
	}

	return &model.UpstreamError{Op: "login", Message: parsed.Message}
}

// favoritesResponse は/user/favoritesのレスポンス。
type favoritesResponse struct {
	Data struct {
		Series []int64 `json:"series"`
	} `json:"data"`
	Message string `json:"message"`
}

// ListFavorites はユーザーのお気に入りシリーズIDの一覧を返す。
// お気に入りが無い場合は空スライスを返す。
func (c *Client) ListFavorites(ctx context.Context) ([]int64, error) {
	if c.token == "" {
		return nil, ErrNotAuthenticated
	}

	var parsed favoritesResponse
	if err := c.doGET(ctx, "/user/favorites", "favorites", &parsed); err != nil {
		return nil, err
	}

	if parsed.Data.Series == nil {
		return []int64{}, nil
	}
	return parsed.Data.Series, nil
}

// seriesResponse は/series/{id}/extendedのレスポンス。
type seriesResponse struct {
	Data    SeriesPayload `json:"data"`
	Message string        `json:"message"`
}

// SeriesDetails はシリーズの詳細情報を取得する。
func (c *Client) SeriesDetails(ctx context.Context, seriesID int64) (*SeriesPayload, error) {
	if c.token == "" {
		return nil, ErrNotAuthenticated
	}

	var parsed seriesResponse
	path := fmt.Sprintf("/series/%d/extended", seriesID)
	if err := c.doGET(ctx, path, "series", &parsed); err != nil {
		return nil, err
	}
	return &parsed.Data, nil
}

// episodesResponse は/series/{id}/episodes/defaultのレスポンス。
type episodesResponse struct {
	Data struct {
		Episodes []EpisodePayload `json:"episodes"`
	} `json:"data"`
	Links struct {
		TotalItems int `json:"total_items"`
		PageSize   int `json:"page_size"`
	} `json:"links"`
	Message string `json:"message"`
}

// SeriesEpisodes はシリーズの全エピソードをページネーションを辿って取得する。
// links.total_itemsが尽きるまで透過的にページを進める。
func (c *Client) SeriesEpisodes(ctx context.Context, seriesID int64) ([]EpisodePayload, error) {
	if c.token == "" {
		return nil, ErrNotAuthenticated
	}

	all := make([]EpisodePayload, 0, defaultPageSize)
	page := 0

	for {
		var parsed episodesResponse
		path := fmt.Sprintf("/series/%d/episodes/default?page=%d", seriesID, page)
		if err := c.doGET(ctx, path, "episodes", &parsed); err != nil {
			return nil, err
		}

		all = append(all, parsed.Data.Episodes...)

		pageSize := parsed.Links.PageSize
		if pageSize <= 0 {
			pageSize = defaultPageSize
		}
		totalPages := int(math.Ceil(float64(parsed.Links.TotalItems) / float64(pageSize)))
		if page >= totalPages-1 {
			break
		}
		page++
	}

	return all, nil
}

// episodeResponse は/episodes/{id}/extendedのレスポンス。
type episodeResponse struct {
	Data    EpisodePayload `json:"data"`
	Message string         `json:"message"`
}

// EpisodeDetails はエピソードの詳細情報を取得する。
// overviewのバックフィル用。呼び出し側はベストエフォートとして扱う。
func (c *Client) EpisodeDetails(ctx context.Context, episodeID int64) (*EpisodePayload, error) {
	if c.token == "" {
		return nil, ErrNotAuthenticated
	}

	var parsed episodeResponse
	path := fmt.Sprintf("/episodes/%d/extended", episodeID)
	if err := c.doGET(ctx, path, "episode", &parsed); err != nil {
		return nil, err
	}
	return &parsed.Data, nil
}

// upstreamMessage はレスポンスボディから上流のエラーメッセージを取り出す。
func upstreamMessage(body []byte) string {
	var parsed struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Message != "" {
		return parsed.Message
	}
	return ""
}

// doGET は認証ヘッダー付きでGETし、レスポンスJSONをvにデコードする。
// ネットワークエラーと429/5xxはretry-goで指数バックオフ付きリトライし、
// それ以外のエラーステータスは即座にUpstreamErrorとして返す。
func (c *Client) doGET(ctx context.Context, path, op string, v any) error {
	return retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("リクエストの作成に失敗しました: %w", err))
			}
			req.Header.Set("Authorization", "Bearer "+c.token)
			req.Header.Set("Content-Type", "application/json")

			started := time.Now()
			resp, err := c.httpc.Do(req)
			if err != nil {
				c.observe(0, started)
				return &model.UpstreamError{Op: op, Err: err}
			}
			defer resp.Body.Close()
			c.observe(resp.StatusCode, started)

			if resp.StatusCode >= 300 {
				body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
				upErr := &model.UpstreamError{
					Op:      op,
					Message: upstreamMessage(body),
					Err:     fmt.Errorf("status %d", resp.StatusCode),
				}
				if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
					return upErr
				}
				return retry.Unrecoverable(upErr)
			}

			if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
				return retry.Unrecoverable(&model.UpstreamError{Op: op, Err: err})
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(maxAttempts),
		retry.Delay(300*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
}
