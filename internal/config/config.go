// Package config は環境変数からのアプリケーション設定読み込みを提供する。
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// TVDB
	TVDBAPIKey  string
	TVDBBaseURL string
	TVDBTimeout time.Duration

	// Sync
	UserSyncWindow      time.Duration // ユーザー再同期が必要になる経過時間
	SeriesSyncWindow    time.Duration // シリーズの鮮度ウィンドウ（staleness window）
	UserSweepSchedule   string        // ユーザー一括同期のcronスケジュール
	SeriesSweepSchedule string        // シリーズ一括同期のcronスケジュール

	// Rate Limit
	RateLimitGeneral int // req/min per IP

	// Server
	ServerPort string
	BaseURL    string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.TVDBAPIKey = os.Getenv("TVDB_API_KEY")
	if cfg.TVDBAPIKey == "" {
		missing = append(missing, "TVDB_API_KEY")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.TVDBBaseURL = getEnvString("TVDB_BASE_URL", "https://api4.thetvdb.com/v4")
	cfg.TVDBTimeout = getEnvDuration("TVDB_TIMEOUT", 15*time.Second)
	cfg.UserSyncWindow = getEnvDuration("USER_SYNC_WINDOW", 1*time.Hour)
	cfg.SeriesSyncWindow = getEnvDuration("SERIES_SYNC_WINDOW", 12*time.Hour)
	cfg.UserSweepSchedule = getEnvString("USER_SWEEP_SCHEDULE", "@hourly")
	cfg.SeriesSweepSchedule = getEnvString("SERIES_SWEEP_SCHEDULE", "@every 6h")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.BaseURL = getEnvString("BASE_URL", "http://localhost:8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
