package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/hitoshi/tvcal/internal/progress"
	"github.com/hitoshi/tvcal/internal/repository"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 45 * time.Second
)

// SyncProgressHandler は同期進捗のWebSocket配信ハンドラー。
// ユーザーごとのトピックを購読し、進捗イベントをJSONで送出する。
type SyncProgressHandler struct {
	users    repository.UserRepository
	hub      *progress.Hub
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewSyncProgressHandler はSyncProgressHandlerを生成する。
// allowedOriginが空の場合はOriginチェックを行わない。
func NewSyncProgressHandler(users repository.UserRepository, hub *progress.Hub, logger *slog.Logger, allowedOrigin string) *SyncProgressHandler {
	return &SyncProgressHandler{
		users:  users,
		hub:    hub,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if allowedOrigin == "" {
					return true
				}
				origin := r.Header.Get("Origin")
				return origin == "" || origin == allowedOrigin
			},
		},
	}
}

// Subscribe はWebSocketへアップグレードし、進捗イベントを配信する。
// 同期開始後に接続したクライアントは過去のイベントを受け取れない。
// 終端状態の確認はフィードURLまたはPOST /usersの再実行で行う。
// GET /ws/sync/{userID}
func (h *SyncProgressHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	user, err := h.users.FindByID(r.Context(), userID)
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if user == nil {
		http.Error(w, "User not found", http.StatusNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgradeが失敗した場合はライブラリがレスポンスを書き込み済み。
		h.logger.Warn("WebSocketアップグレードに失敗しました",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return
	}

	events := h.hub.Subscribe(userID)
	defer h.hub.Unsubscribe(userID, events)
	defer conn.Close()

	// クライアント側のクローズ検出用の読み取りループ。
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(wsPongWait))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
