package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"r6-rolesync/internal/domain"
	"r6-rolesync/internal/rank"

	"github.com/rs/zerolog"
)

type IdentityRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewIdentityRepository(sqlDB *sql.DB, logger zerolog.Logger) *IdentityRepository {
	return &IdentityRepository{
		db:     sqlDB,
		logger: logger,
	}
}

// Link binds memberID to handle. At most one member may own a handle at a
// time: any prior owner row is evicted inside the same transaction, last
// link wins. The cached rank is reset; callers populate it after the first
// fetch.
func (r *IdentityRepository) Link(ctx context.Context, memberID, handle, platform string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var prevOwner string
	err = tx.QueryRowContext(ctx, `SELECT member_id FROM identities WHERE handle = ?`, handle).Scan(&prevOwner)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to look up handle owner: %w", err)
	}
	if err == nil && prevOwner != memberID {
		if _, err := tx.ExecContext(ctx, `DELETE FROM identities WHERE handle = ?`, handle); err != nil {
			return fmt.Errorf("failed to evict prior owner: %w", err)
		}
		r.logger.Info().
			Str("member_id", prevOwner).
			Str("handle", handle).
			Msg("evicted prior owner of handle")
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO identities (member_id, handle, platform, cached_rank, created_at, updated_at)
		VALUES (?, ?, ?, NULL, ?, ?)
		ON CONFLICT(member_id) DO UPDATE SET
			handle = excluded.handle,
			platform = excluded.platform,
			cached_rank = NULL,
			updated_at = excluded.updated_at`,
		memberID, handle, platform, now, now)
	if err != nil {
		return fmt.Errorf("failed to link member: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit link: %w", err)
	}

	r.logger.Info().Str("member_id", memberID).Str("handle", handle).Msg("linked member to handle")
	return nil
}

// Unlink removes the member's identity. The bool reports whether a row
// existed.
func (r *IdentityRepository) Unlink(ctx context.Context, memberID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM identities WHERE member_id = ?`, memberID)
	if err != nil {
		return false, fmt.Errorf("failed to unlink member: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	r.logger.Info().Str("member_id", memberID).Bool("existed", n > 0).Msg("unlinked member")
	return n > 0, nil
}

func (r *IdentityRepository) Get(ctx context.Context, memberID string) (*domain.TrackedIdentity, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT member_id, handle, platform, cached_rank, created_at, updated_at
		FROM identities WHERE member_id = ?`, memberID)

	identity, err := scanIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotLinked
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get identity: %w", err)
	}
	return identity, nil
}

func (r *IdentityRepository) Exists(ctx context.Context, memberID string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM identities WHERE member_id = ?`, memberID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check identity: %w", err)
	}
	return true, nil
}

// List returns every tracked identity ordered by member id, so cycle
// processing and audit output are deterministic.
func (r *IdentityRepository) List(ctx context.Context) ([]domain.TrackedIdentity, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT member_id, handle, platform, cached_rank, created_at, updated_at
		FROM identities ORDER BY member_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list identities: %w", err)
	}
	defer rows.Close()

	var identities []domain.TrackedIdentity
	for rows.Next() {
		identity, err := scanIdentity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan identity: %w", err)
		}
		identities = append(identities, *identity)
	}
	return identities, rows.Err()
}

func (r *IdentityRepository) UpdateRank(ctx context.Context, memberID string, newRank rank.Rank) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE identities SET cached_rank = ?, updated_at = ? WHERE member_id = ?`,
		newRank.String(), time.Now().UTC(), memberID)
	if err != nil {
		return fmt.Errorf("failed to update rank: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotLinked
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIdentity(row rowScanner) (*domain.TrackedIdentity, error) {
	var identity domain.TrackedIdentity
	var cachedRank sql.NullString
	if err := row.Scan(
		&identity.MemberID,
		&identity.Handle,
		&identity.Platform,
		&cachedRank,
		&identity.CreatedAt,
		&identity.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if cachedRank.Valid {
		if parsed, ok := rank.Parse(cachedRank.String); ok {
			identity.CachedRank = &parsed
		}
	}
	return &identity, nil
}
