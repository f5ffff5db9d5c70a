package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/tvcal/internal/ics"
	"github.com/hitoshi/tvcal/internal/repository"
)

// CalendarHandler はiCalendarフィード配信のHTTPハンドラー。
type CalendarHandler struct {
	users     repository.UserRepository
	episodes  repository.EpisodeRepository
	generator *ics.Generator
	logger    *slog.Logger
	now       func() time.Time
}

// NewCalendarHandler はCalendarHandlerを生成する。
func NewCalendarHandler(
	users repository.UserRepository,
	episodes repository.EpisodeRepository,
	generator *ics.Generator,
	logger *slog.Logger,
) *CalendarHandler {
	return &CalendarHandler{
		users:     users,
		episodes:  episodes,
		generator: generator,
		logger:    logger,
		now:       time.Now,
	}
}

// Serve はユーザーの今後のエピソードをiCalendar文書として同期的に返す。
// カレンダーアプリの購読URLとして使用されるため、未知のIDには
// プレーンテキストの404を返す。
// GET /calendar/{userID}
func (h *CalendarHandler) Serve(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	user, err := h.users.FindByID(r.Context(), userID)
	if err != nil {
		h.logger.Error("ユーザーの検索に失敗しました",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if user == nil {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, "User not found")
		return
	}

	episodes, err := h.episodes.ListUpcomingByUserID(r.Context(), user.ID, h.now())
	if err != nil {
		h.logger.Error("エピソード一覧の取得に失敗しました",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	document := h.generator.Generate(episodes)

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="tvdb-calendar-%s.ics"`, user.ID))
	fmt.Fprint(w, document)
}
