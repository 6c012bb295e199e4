package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"r6-rolesync/internal/domain"
	"r6-rolesync/internal/rank"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

type RankHistoryRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewRankHistoryRepository(sqlDB *sql.DB, logger zerolog.Logger) *RankHistoryRepository {
	return &RankHistoryRepository{
		db:     sqlDB,
		logger: logger,
	}
}

func (r *RankHistoryRepository) Insert(ctx context.Context, change domain.RankChange) error {
	id := change.ID
	if id == "" {
		var err error
		id, err = gonanoid.New()
		if err != nil {
			return fmt.Errorf("failed to generate nanoid: %w", err)
		}
	}

	changedAt := change.ChangedAt
	if changedAt.IsZero() {
		changedAt = time.Now().UTC()
	}

	var prev any
	if change.PreviousRank != nil {
		prev = change.PreviousRank.String()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO rank_history (id, member_id, handle, previous_rank, new_rank, changed_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, change.MemberID, change.Handle, prev, change.NewRank.String(), changedAt)
	if err != nil {
		return fmt.Errorf("failed to insert rank history: %w", err)
	}
	return nil
}

func (r *RankHistoryRepository) GetByMember(ctx context.Context, memberID string, limit int) ([]domain.RankChange, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, member_id, handle, previous_rank, new_rank, changed_at
		FROM rank_history WHERE member_id = ?
		ORDER BY changed_at DESC LIMIT ?`, memberID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query rank history: %w", err)
	}
	defer rows.Close()

	var changes []domain.RankChange
	for rows.Next() {
		var change domain.RankChange
		var prev sql.NullString
		var newRank string
		if err := rows.Scan(&change.ID, &change.MemberID, &change.Handle, &prev, &newRank, &change.ChangedAt); err != nil {
			return nil, fmt.Errorf("failed to scan rank history: %w", err)
		}
		if prev.Valid {
			if parsed, ok := rank.Parse(prev.String); ok {
				change.PreviousRank = &parsed
			}
		}
		if parsed, ok := rank.Parse(newRank); ok {
			change.NewRank = parsed
		}
		changes = append(changes, change)
	}
	return changes, rows.Err()
}
