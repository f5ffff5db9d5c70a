// Package sync はユーザーのお気に入りをカタログAPIから取り込み、
// 共有シリーズカタログとエピソードを最新化する同期エンジンを提供する。
package sync

import "time"

// NeedsSync は最終同期時刻から再同期が必要かを判定する純粋な述語。
// lastSyncedAtがnil、またはnowからwindowを引いた時刻より古い場合に
// 再同期が必要となる。
func NeedsSync(lastSyncedAt *time.Time, now time.Time, window time.Duration) bool {
	if lastSyncedAt == nil {
		return true
	}
	return lastSyncedAt.Before(now.Add(-window))
}
