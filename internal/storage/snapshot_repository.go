package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/algo-portfolio/internal/models"
)

// SnapshotRepository persists computed portfolio snapshots as jsonb
type SnapshotRepository struct {
	pool *pgxpool.Pool
}

// NewSnapshotRepository creates a new snapshot repository
func NewSnapshotRepository(pool *pgxpool.Pool) *SnapshotRepository {
	return &SnapshotRepository{pool: pool}
}

// Create stores a new snapshot
func (r *SnapshotRepository) Create(ctx context.Context, snapshot *models.StoredSnapshot) error {
	data, err := json.Marshal(snapshot.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot data: %w", err)
	}

	query := `
		INSERT INTO portfolio_snapshots (id, user_id, method, computed_at, data)
		VALUES ($1, $2, $3, $4, $5)
	`

	if _, err := r.pool.Exec(ctx, query,
		snapshot.ID,
		snapshot.UserID,
		snapshot.Method,
		snapshot.ComputedAt,
		data,
	); err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}
	return nil
}

// GetLatest returns the most recent snapshot of a user, or nil when none
// was stored yet.
func (r *SnapshotRepository) GetLatest(ctx context.Context, userID string) (*models.StoredSnapshot, error) {
	query := `
		SELECT id, user_id, method, computed_at, data
		FROM portfolio_snapshots
		WHERE user_id = $1
		ORDER BY computed_at DESC
		LIMIT 1
	`

	snapshot, err := scanSnapshot(r.pool.QueryRow(ctx, query, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest snapshot: %w", err)
	}
	return snapshot, nil
}

// ListByUser returns a user's snapshots newest first
func (r *SnapshotRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*models.StoredSnapshot, error) {
	if limit <= 0 {
		limit = 30
	}

	query := `
		SELECT id, user_id, method, computed_at, data
		FROM portfolio_snapshots
		WHERE user_id = $1
		ORDER BY computed_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []*models.StoredSnapshot
	for rows.Next() {
		snapshot, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snapshots = append(snapshots, snapshot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}
	return snapshots, nil
}

// DeleteForUser removes every snapshot of a user
func (r *SnapshotRepository) DeleteForUser(ctx context.Context, userID string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM portfolio_snapshots WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to delete snapshots: %w", err)
	}
	return nil
}

func scanSnapshot(row pgx.Row) (*models.StoredSnapshot, error) {
	var snapshot models.StoredSnapshot
	var data []byte

	if err := row.Scan(
		&snapshot.ID,
		&snapshot.UserID,
		&snapshot.Method,
		&snapshot.ComputedAt,
		&data,
	); err != nil {
		return nil, err
	}

	if len(data) > 0 {
		var payload models.PortfolioSnapshot
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal snapshot data: %w", err)
		}
		snapshot.Data = &payload
	}
	return &snapshot, nil
}
