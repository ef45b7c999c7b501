package registry

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/nao1215/pushfanout/pkg/migration"
)

//go:embed migrations/*.sql
var migrations embed.FS

// ErrInvalidArgument はユーザーIDやトークンが空の場合のエラー。
var ErrInvalidArgument = errors.New("ユーザーIDとトークンは空にできません")

// Store はSQLiteに永続化したユーザー名簿とエンドポイントレジストリ。
// 複数の受信者タスクから同時に呼び出してよい。
type Store struct {
	// db はSQLiteデータベース接続。
	db *sql.DB
}

// Open はSQLiteデータベースを開き、マイグレーションを適用したStoreを返す。
// dsnには "file:/data/notification.db" や ":memory:" を指定する。
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", withPragmas(dsn))
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	// 書き込みを1接続に直列化する。同一ユーザーのトークンを同時に削除しても更新が失われない。
	db.SetMaxOpenConns(1)

	if _, err := migration.Run(ctx, db, migrations, "migrations"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}
	return &Store{db: db}, nil
}

// withPragmas はSQLiteの接続パラメータを付与する。
func withPragmas(dsn string) string {
	if dsn == ":memory:" {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// Close はデータベース接続を閉じる。
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping はデータベースへの疎通を確認する。
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// AddUser はユーザーを名簿に追加する。既に存在する場合は何もしない。
func (s *Store) AddUser(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrInvalidArgument
	}
	if _, err := s.db.ExecContext(ctx, "INSERT OR IGNORE INTO users (id) VALUES (?)", userID); err != nil {
		return fmt.Errorf("ユーザーの追加に失敗: %w", err)
	}
	return nil
}

// ListUserIDs は名簿上の全ユーザーIDを返す。
func (s *Store) ListUserIDs(ctx context.Context) ([]string, error) {
	return s.queryStrings(ctx, "SELECT id FROM users ORDER BY created_at, id")
}

// Register はユーザーの配信先エンドポイントを登録する。
// ユーザーが名簿に無い場合は同時に追加する。登録済みのトークンは何もしない。
func (s *Store) Register(ctx context.Context, userID, token string) error {
	if userID == "" || token == "" {
		return ErrInvalidArgument
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO users (id) VALUES (?)", userID); err != nil {
		return fmt.Errorf("ユーザーの追加に失敗: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO notification_tokens (user_id, token) VALUES (?, ?)", userID, token); err != nil {
		return fmt.Errorf("トークンの登録に失敗: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("トークン登録のコミットに失敗: %w", err)
	}
	return nil
}

// Lookup はユーザーの配信先トークンを返す。
// ユーザーが存在しない、またはトークンが無い場合は空のスライスを返し、エラーにはしない。
func (s *Store) Lookup(ctx context.Context, userID string) ([]string, error) {
	tokens, err := s.queryStrings(ctx,
		"SELECT token FROM notification_tokens WHERE user_id = ? ORDER BY created_at, token", userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザー %s のトークン取得に失敗: %w", userID, err)
	}
	return tokens, nil
}

// Revoke はユーザーの配信先トークンを1件削除する。
// 存在しないトークンの削除は何もせず成功とする。
func (s *Store) Revoke(ctx context.Context, userID, token string) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM notification_tokens WHERE user_id = ? AND token = ?", userID, token); err != nil {
		return fmt.Errorf("ユーザー %s のトークン削除に失敗: %w", userID, err)
	}
	return nil
}

// queryStrings は1列の文字列を返すクエリを実行する。
func (s *Store) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
