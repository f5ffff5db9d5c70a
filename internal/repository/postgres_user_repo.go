package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/tvcal/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByID は指定ID（公開UUID）のユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user := &model.User{}
	var lastSyncedAt sql.NullTime

	err := r.db.QueryRowContext(ctx,
		`SELECT id, pin, last_synced_at, created_at, updated_at
		 FROM users WHERE id = $1`,
		id,
	).Scan(&user.ID, &user.PIN, &lastSyncedAt, &user.CreatedAt, &user.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}

	user.LastSyncedAt = nullTimeValue(lastSyncedAt)
	return user, nil
}

// FindByPIN は指定PINのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByPIN(ctx context.Context, pin string) (*model.User, error) {
	user := &model.User{}
	var lastSyncedAt sql.NullTime

	err := r.db.QueryRowContext(ctx,
		`SELECT id, pin, last_synced_at, created_at, updated_at
		 FROM users WHERE pin = $1`,
		pin,
	).Scan(&user.ID, &user.PIN, &lastSyncedAt, &user.CreatedAt, &user.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("PINによるユーザーの検索に失敗しました: %w", err)
	}

	user.LastSyncedAt = nullTimeValue(lastSyncedAt)
	return user, nil
}

// Create は呼び出し側が採番したID（UUID）でユーザーを作成し、
// 作成日時をuserに書き戻す。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO users (id, pin) VALUES ($1, $2)
		 RETURNING created_at, updated_at`,
		user.ID, user.PIN,
	).Scan(&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return fmt.Errorf("ユーザーの作成に失敗しました: %w", err)
	}
	return nil
}

// UpdateLastSyncedAt は同期完了時刻を更新する。
func (r *PostgresUserRepo) UpdateLastSyncedAt(ctx context.Context, id string, syncedAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET last_synced_at = $2, updated_at = now() WHERE id = $1`,
		id, syncedAt,
	)
	if err != nil {
		return fmt.Errorf("同期完了時刻の更新に失敗しました: %w", err)
	}
	return nil
}

// ListDueForSync はlast_synced_atがNULLまたはcutoffより古いユーザーを返す。
func (r *PostgresUserRepo) ListDueForSync(ctx context.Context, cutoff time.Time) ([]*model.User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, pin, last_synced_at, created_at, updated_at
		 FROM users
		 WHERE last_synced_at IS NULL OR last_synced_at < $1
		 ORDER BY last_synced_at ASC NULLS FIRST`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("同期対象ユーザーの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		user := &model.User{}
		var lastSyncedAt sql.NullTime

		if err := rows.Scan(&user.ID, &user.PIN, &lastSyncedAt, &user.CreatedAt, &user.UpdatedAt); err != nil {
			return nil, fmt.Errorf("同期対象ユーザーの読み取りに失敗しました: %w", err)
		}
		user.LastSyncedAt = nullTimeValue(lastSyncedAt)
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("同期対象ユーザーの走査に失敗しました: %w", err)
	}

	return users, nil
}

// IsUniqueViolation はPostgreSQLのユニーク制約違反エラーかどうかを判定する。
// 並行作成の競合を冪等に処理するためのレースセーフティのバックストップ。
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

// nullTimeValue はsql.NullTimeから*time.Timeを取得する。
func nullTimeValue(nt sql.NullTime) *time.Time {
	if nt.Valid {
		t := nt.Time
		return &t
	}
	return nil
}

// nullString は空文字列をsql.NullStringに変換する。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はsql.NullStringから文字列を取得する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
