// Package model はドメインモデルを定義する。
package model

import "time"

// User はTheTVDBのPINで識別されるサービス利用ユーザーを表す。
// IDは公開URLに使用される不変のUUID。PINは外部に公開しない。
type User struct {
	ID           string
	PIN          string
	LastSyncedAt *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
