package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB 数据库连接池封装
type DB struct {
	Pool *pgxpool.Pool
}

// New 创建数据库连接
func New(ctx context.Context, databaseURL string) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	// 连接池配置
	config.MaxConns = 10
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	// 测试连接
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close 关闭连接池
func (db *DB) Close() {
	db.Pool.Close()
}

// Migrate 执行数据库迁移
func (db *DB) Migrate(ctx context.Context) error {
	migrations := []string{
		migrationCreateRequestHistory,
		migrationCreateAggregateSnapshots,
	}

	for _, m := range migrations {
		if _, err := db.Pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}

	return nil
}

// 数据库迁移 SQL
const migrationCreateRequestHistory = `
CREATE TABLE IF NOT EXISTS request_history (
    id BIGSERIAL PRIMARY KEY,
    ability VARCHAR(32) NOT NULL,
    action VARCHAR(16) NOT NULL,
    uid INT NOT NULL,
    pid INT NOT NULL,
    package_name VARCHAR(255) NOT NULL,
    uuid VARCHAR(64) NOT NULL,
    time_interval INT NOT NULL DEFAULT 0,
    nlp_request_type INT NOT NULL DEFAULT 0,
    recorded_at TIMESTAMP WITH TIME ZONE NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_request_history_ability ON request_history(ability);
CREATE INDEX IF NOT EXISTS idx_request_history_package ON request_history(package_name);
CREATE INDEX IF NOT EXISTS idx_request_history_recorded_at ON request_history(recorded_at);
`

const migrationCreateAggregateSnapshots = `
CREATE TABLE IF NOT EXISTS aggregate_snapshots (
    id BIGSERIAL PRIMARY KEY,
    ability VARCHAR(32) NOT NULL,
    requester_count INT NOT NULL,
    min_time_interval INT NOT NULL,
    high_accuracy BOOLEAN NOT NULL DEFAULT FALSE,
    record TEXT NOT NULL,
    recorded_at TIMESTAMP WITH TIME ZONE NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_aggregate_snapshots_ability ON aggregate_snapshots(ability, recorded_at);
`
