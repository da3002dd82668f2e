package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditRepository appends to and counts the audit log
type AuditRepository struct {
	pool *pgxpool.Pool
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(pool *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{pool: pool}
}

// Write appends an audit entry
func (r *AuditRepository) Write(ctx context.Context, userID, action string, meta map[string]interface{}) error {
	var metaJSON []byte
	if meta != nil {
		var err error
		metaJSON, err = json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("failed to marshal audit meta: %w", err)
		}
	}

	query := `
		INSERT INTO audit_logs (id, user_id, action, meta, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	if _, err := r.pool.Exec(ctx, query, uuid.New().String(), userID, action, metaJSON, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

// CountActionsSince counts a user's entries of one action at or after since
func (r *AuditRepository) CountActionsSince(ctx context.Context, userID, action string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM audit_logs
		WHERE user_id = $1 AND action = $2 AND created_at >= $3
	`

	var count int
	if err := r.pool.QueryRow(ctx, query, userID, action, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count audit logs: %w", err)
	}
	return count, nil
}
