package repository

import (
	"context"
	"fmt"

	"github.com/langchou/locationd/internal/models"
)

// HistoryRepository 请求历史仓库
type HistoryRepository struct {
	db *DB
}

// NewHistoryRepository 创建请求历史仓库
func NewHistoryRepository(db *DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// InsertHistory 写入一条请求历史
func (r *HistoryRepository) InsertHistory(ctx context.Context, h *models.RequestHistory) error {
	query := `
		INSERT INTO request_history (ability, action, uid, pid, package_name, uuid, time_interval, nlp_request_type, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`
	err := r.db.Pool.QueryRow(ctx, query,
		h.Ability,
		h.Action,
		h.Uid,
		h.Pid,
		h.PackageName,
		h.UUID,
		h.TimeInterval,
		h.NlpRequestType,
		h.RecordedAt,
	).Scan(&h.ID)

	if err != nil {
		return fmt.Errorf("insert request history: %w", err)
	}
	return nil
}

// ListHistory 按时间倒序列出请求历史，ability 为空时不过滤
func (r *HistoryRepository) ListHistory(ctx context.Context, ability string, limit int) ([]*models.RequestHistory, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query := `
		SELECT id, ability, action, uid, pid, package_name, uuid, time_interval, nlp_request_type, recorded_at
		FROM request_history
		WHERE ($1 = '' OR ability = $1)
		ORDER BY recorded_at DESC, id DESC
		LIMIT $2
	`
	rows, err := r.db.Pool.Query(ctx, query, ability, limit)
	if err != nil {
		return nil, fmt.Errorf("list request history: %w", err)
	}
	defer rows.Close()

	var list []*models.RequestHistory
	for rows.Next() {
		h := &models.RequestHistory{}
		err := rows.Scan(
			&h.ID,
			&h.Ability,
			&h.Action,
			&h.Uid,
			&h.Pid,
			&h.PackageName,
			&h.UUID,
			&h.TimeInterval,
			&h.NlpRequestType,
			&h.RecordedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan request history: %w", err)
		}
		list = append(list, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate request history: %w", err)
	}

	return list, nil
}

// InsertSnapshot 写入聚合快照
func (r *HistoryRepository) InsertSnapshot(ctx context.Context, s *models.AggregateSnapshot) error {
	query := `
		INSERT INTO aggregate_snapshots (ability, requester_count, min_time_interval, high_accuracy, record, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	err := r.db.Pool.QueryRow(ctx, query,
		s.Ability,
		s.RequesterCount,
		s.MinTimeInterval,
		s.HighAccuracy,
		s.Record,
		s.RecordedAt,
	).Scan(&s.ID)

	if err != nil {
		return fmt.Errorf("insert aggregate snapshot: %w", err)
	}
	return nil
}

// LatestSnapshot 获取能力最近一次聚合快照
func (r *HistoryRepository) LatestSnapshot(ctx context.Context, ability string) (*models.AggregateSnapshot, error) {
	query := `
		SELECT id, ability, requester_count, min_time_interval, high_accuracy, record, recorded_at
		FROM aggregate_snapshots WHERE ability = $1 ORDER BY recorded_at DESC, id DESC LIMIT 1
	`
	s := &models.AggregateSnapshot{}
	err := r.db.Pool.QueryRow(ctx, query, ability).Scan(
		&s.ID,
		&s.Ability,
		&s.RequesterCount,
		&s.MinTimeInterval,
		&s.HighAccuracy,
		&s.Record,
		&s.RecordedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("get latest snapshot: %w", err)
	}
	return s, nil
}
