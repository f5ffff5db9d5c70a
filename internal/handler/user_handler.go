// Package handler はHTTPエンドポイントのハンドラーとルーティングを提供する。
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/tvcal/internal/middleware"
	"github.com/hitoshi/tvcal/internal/model"
	"github.com/hitoshi/tvcal/internal/repository"
	syncengine "github.com/hitoshi/tvcal/internal/sync"
)

// UserSyncer はユーザー同期の実行インターフェース。
// 実装はsync.Reconciler。ハンドラーはバックグラウンドで起動する。
type UserSyncer interface {
	SyncUser(ctx context.Context, user *model.User, force bool) error
}

// UserHandler はPIN登録と同期トリガーのHTTPハンドラー。
type UserHandler struct {
	users      repository.UserRepository
	syncer     UserSyncer
	logger     *slog.Logger
	baseURL    string
	syncWindow time.Duration
	now        func() time.Time
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(
	users repository.UserRepository,
	syncer UserSyncer,
	logger *slog.Logger,
	baseURL string,
	syncWindow time.Duration,
) *UserHandler {
	return &UserHandler{
		users:      users,
		syncer:     syncer,
		logger:     logger,
		baseURL:    strings.TrimRight(baseURL, "/"),
		syncWindow: syncWindow,
		now:        time.Now,
	}
}

// registerRequest はPOST /usersのリクエストボディ。
type registerRequest struct {
	PIN string `json:"pin"`
}

// registerResponse はPOST /usersのレスポンスボディ。
type registerResponse struct {
	Status      string `json:"status"`
	UserID      string `json:"user_id"`
	CalendarURL string `json:"calendar_url"`
}

// Register はPINでユーザーを検索または作成し、必要なら同期を起動する。
// レスポンスは即座に返り、同期はバックグラウンドで進行する。
// POST /users
func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnprocessableEntity,
			model.NewValidationError("Request body must be valid JSON"))
		return
	}

	pin := strings.TrimSpace(req.PIN)
	if pin == "" {
		middleware.WriteErrorResponse(w, http.StatusUnprocessableEntity,
			model.NewValidationError("PIN is required"))
		return
	}

	user, created, err := h.findOrCreateUser(r.Context(), pin)
	if err != nil {
		h.logger.Error("ユーザーの作成に失敗しました", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	status := "ready"
	if created || syncengine.NeedsSync(user.LastSyncedAt, h.now(), h.syncWindow) {
		status = "syncing"
		// 同期はリクエストから切り離してバックグラウンドで実行する。
		go func(u model.User) {
			if err := h.syncer.SyncUser(context.Background(), &u, false); err != nil {
				h.logger.Error("バックグラウンド同期が失敗しました",
					slog.String("user_id", u.ID),
					slog.String("error", err.Error()),
				)
			}
		}(*user)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(registerResponse{
		Status:      status,
		UserID:      user.ID,
		CalendarURL: fmt.Sprintf("%s/calendar/%s", h.baseURL, user.ID),
	})
}

// findOrCreateUser はPINでユーザーを検索し、存在しなければ作成する。
// PINのユニーク制約違反（並行登録との競合）は再検索で既存行に合流する。
func (h *UserHandler) findOrCreateUser(ctx context.Context, pin string) (*model.User, bool, error) {
	user, err := h.users.FindByPIN(ctx, pin)
	if err != nil {
		return nil, false, fmt.Errorf("ユーザーの検索に失敗: %w", err)
	}
	if user != nil {
		return user, false, nil
	}

	user = &model.User{ID: uuid.NewString(), PIN: pin}
	if err := h.users.Create(ctx, user); err != nil {
		if repository.IsUniqueViolation(err) {
			existing, findErr := h.users.FindByPIN(ctx, pin)
			if findErr == nil && existing != nil {
				return existing, false, nil
			}
		}
		return nil, false, fmt.Errorf("ユーザーの作成に失敗: %w", err)
	}
	return user, true, nil
}
