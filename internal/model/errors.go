// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, upstream, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidPIN      = "INVALID_PIN"
	ErrCodeUpstreamError   = "UPSTREAM_ERROR"
	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodeUserNotFound    = "USER_NOT_FOUND"
	ErrCodeInternalError   = "INTERNAL_ERROR"
)

// ErrInvalidPIN は上流がPINを明示的に拒否したことを表すセンチネルエラー。
// 上流のメッセージに依存せず、errors.Isで判定できるようにする。
var ErrInvalidPIN = errors.New("PIN Invalid")

// UpstreamError はカタログAPIの一時的な失敗を表す。
// ネットワーク障害、5xx、不正なレスポンスを含み、次回の同期でリトライ可能。
// 上流のメッセージをそのまま保持する。
type UpstreamError struct {
	Op      string // 失敗した操作（login, favorites, series など）
	Message string // 上流のエラーメッセージ（verbatim）
	Err     error  // 元のエラー（あれば）
}

// Error はerrorインターフェースを実装する。
func (e *UpstreamError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("tvdb %s failed: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("tvdb %s failed", e.Op)
}

// Unwrap は元のエラーを返す。
func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// NewInvalidPINError はPIN拒否エラーのAPIErrorを生成する。
// メッセージは仕様上 "PIN Invalid" 固定。
func NewInvalidPINError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPIN,
		Message:  "PIN Invalid",
		Category: "auth",
		Action:   "TheTVDBのアカウントページでPINを確認し、再入力してください。",
	}
}

// NewValidationError はローカルデータの検証エラーを生成する。
func NewValidationError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  message,
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewUserNotFoundError はユーザー未検出エラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "User not found",
		Category: "auth",
		Action:   "PINを再登録してください。",
	}
}

// NewUpstreamAPIError はカタログAPI障害のAPIErrorを生成する。
// 詳細はログにのみ記録し、ユーザーには一般的なメッセージを返す。
func NewUpstreamAPIError() *APIError {
	return &APIError{
		Code:     ErrCodeUpstreamError,
		Message:  "Failed to process request. Please check your PIN.",
		Category: "upstream",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
