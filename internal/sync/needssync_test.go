package sync

import (
	"testing"
	"time"
)

func TestNeedsSync(t *testing.T) {
	now := time.Date(2025, 7, 21, 12, 0, 0, 0, time.UTC)
	window := 12 * time.Hour

	cases := []struct {
		name         string
		lastSyncedAt *time.Time
		want         bool
	}{
		{"未同期（nil）は必要", nil, true},
		{"13時間前は必要", timePtr(now.Add(-13 * time.Hour)), true},
		{"11時間前は不要", timePtr(now.Add(-11 * time.Hour)), false},
		{"ちょうど12時間前は不要", timePtr(now.Add(-12 * time.Hour)), false},
		{"直前は不要", timePtr(now.Add(-time.Minute)), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := NeedsSync(tc.lastSyncedAt, now, window); got != tc.want {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestNeedsSync_UserWindow(t *testing.T) {
	now := time.Date(2025, 7, 21, 12, 0, 0, 0, time.UTC)
	window := time.Hour

	if !NeedsSync(timePtr(now.Add(-2*time.Hour)), now, window) {
		t.Error("2時間前のユーザーは1時間ウィンドウで同期が必要")
	}
	if NeedsSync(timePtr(now.Add(-30*time.Minute)), now, window) {
		t.Error("30分前のユーザーは同期不要")
	}
}

func timePtr(t time.Time) *time.Time { return &t }
