package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/algo-portfolio/internal/models"
)

// ChallengeRepository handles wallet verification challenges
type ChallengeRepository struct {
	pool *pgxpool.Pool
}

// NewChallengeRepository creates a new challenge repository
func NewChallengeRepository(pool *pgxpool.Pool) *ChallengeRepository {
	return &ChallengeRepository{pool: pool}
}

// Create stores a new challenge
func (r *ChallengeRepository) Create(ctx context.Context, challenge *models.VerificationChallenge) error {
	query := `
		INSERT INTO wallet_verification_challenges
			(id, user_id, wallet_id, note_text, receiver, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	if _, err := r.pool.Exec(ctx, query,
		challenge.ID,
		challenge.UserID,
		challenge.WalletID,
		challenge.NoteText,
		challenge.Receiver,
		challenge.CreatedAt,
		challenge.ExpiresAt,
	); err != nil {
		return fmt.Errorf("failed to create challenge: %w", err)
	}
	return nil
}

// Get returns a challenge, or nil when it does not exist
func (r *ChallengeRepository) Get(ctx context.Context, challengeID string) (*models.VerificationChallenge, error) {
	query := `
		SELECT id, user_id, wallet_id, note_text, receiver, created_at, expires_at, consumed_at
		FROM wallet_verification_challenges
		WHERE id = $1
	`

	var c models.VerificationChallenge
	err := r.pool.QueryRow(ctx, query, challengeID).Scan(
		&c.ID,
		&c.UserID,
		&c.WalletID,
		&c.NoteText,
		&c.Receiver,
		&c.CreatedAt,
		&c.ExpiresAt,
		&c.ConsumedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get challenge: %w", err)
	}
	return &c, nil
}

// Consume marks a challenge used. A challenge is consumed at most once.
func (r *ChallengeRepository) Consume(ctx context.Context, challengeID string, at time.Time) error {
	query := `
		UPDATE wallet_verification_challenges
		SET consumed_at = $2
		WHERE id = $1 AND consumed_at IS NULL
	`

	tag, err := r.pool.Exec(ctx, query, challengeID, at)
	if err != nil {
		return fmt.Errorf("failed to consume challenge: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("challenge %s already consumed or missing", challengeID)
	}
	return nil
}

// DeleteForWallet removes every challenge of a wallet
func (r *ChallengeRepository) DeleteForWallet(ctx context.Context, walletID string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM wallet_verification_challenges WHERE wallet_id = $1`, walletID); err != nil {
		return fmt.Errorf("failed to delete challenges: %w", err)
	}
	return nil
}
