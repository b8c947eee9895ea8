package database

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

const (
	defaultMaxOpenConns    = 10
	defaultConnMaxLifetime = 30 * time.Minute
)

// poolConfig はコネクションプールの設定。
type poolConfig struct {
	maxOpenConns    int
	connMaxLifetime time.Duration
}

// Option はOpenのプール設定を変更する。
type Option func(*poolConfig)

// WithMaxOpenConns は同時接続数の上限を設定する。0以下は既定値のまま。
// アイドル接続数は上限の半分（最低1）になる。
func WithMaxOpenConns(n int) Option {
	return func(c *poolConfig) {
		if n > 0 {
			c.maxOpenConns = n
		}
	}
}

// WithConnMaxLifetime は接続を使い回す最大時間を設定する。0以下は既定値のまま。
func WithConnMaxLifetime(d time.Duration) Option {
	return func(c *poolConfig) {
		if d > 0 {
			c.connMaxLifetime = d
		}
	}
}

// Open はPostgreSQLデータベース接続を開き、プールを設定する。
// sql.Openは接続を試行しないため、実際の接続確認にはdb.Ping()を使用すること。
func Open(databaseURL string, opts ...Option) (*sql.DB, error) {
	cfg := poolConfig{
		maxOpenConns:    defaultMaxOpenConns,
		connMaxLifetime: defaultConnMaxLifetime,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.maxOpenConns)
	db.SetMaxIdleConns(max(cfg.maxOpenConns/2, 1))
	db.SetConnMaxLifetime(cfg.connMaxLifetime)
	return db, nil
}
