package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "github.com/algo-portfolio/internal/errors"
	"github.com/algo-portfolio/internal/models"
)

const uniqueViolation = "23505"

// WalletRepository handles linked wallet persistence
type WalletRepository struct {
	pool *pgxpool.Pool
}

// NewWalletRepository creates a new wallet repository
func NewWalletRepository(pool *pgxpool.Pool) *WalletRepository {
	return &WalletRepository{pool: pool}
}

const walletColumns = `id, user_id, address, label, verified_at, verification_method, verification_tx_id, created_at`

// Create inserts a wallet. Linking the same address twice for one user
// fails with a wallet-already-linked error.
func (r *WalletRepository) Create(ctx context.Context, wallet *models.LinkedWallet) error {
	query := `
		INSERT INTO linked_wallets (` + walletColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.pool.Exec(ctx, query,
		wallet.ID,
		wallet.UserID,
		wallet.Address,
		wallet.Label,
		wallet.VerifiedAt,
		wallet.VerificationMethod,
		wallet.VerificationTxID,
		wallet.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return apperrors.NewWalletAlreadyLinkedError(wallet.Address)
		}
		return fmt.Errorf("failed to create wallet: %w", err)
	}
	return nil
}

// GetByID returns a wallet, or nil when it does not exist
func (r *WalletRepository) GetByID(ctx context.Context, walletID string) (*models.LinkedWallet, error) {
	query := `SELECT ` + walletColumns + ` FROM linked_wallets WHERE id = $1`

	wallet, err := scanWallet(r.pool.QueryRow(ctx, query, walletID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return wallet, nil
}

// ListByUser returns every wallet of a user, oldest first
func (r *WalletRepository) ListByUser(ctx context.Context, userID string) ([]models.LinkedWallet, error) {
	return r.list(ctx, `SELECT `+walletColumns+` FROM linked_wallets WHERE user_id = $1 ORDER BY created_at ASC`, userID)
}

// ListVerified returns the verified wallets of a user
func (r *WalletRepository) ListVerified(ctx context.Context, userID string) ([]models.LinkedWallet, error) {
	return r.list(ctx, `
		SELECT `+walletColumns+`
		FROM linked_wallets
		WHERE user_id = $1 AND verified_at IS NOT NULL
		ORDER BY created_at ASC
	`, userID)
}

// ListAllVerified returns every verified wallet ordered by user
func (r *WalletRepository) ListAllVerified(ctx context.Context) ([]models.LinkedWallet, error) {
	return r.list(ctx, `
		SELECT `+walletColumns+`
		FROM linked_wallets
		WHERE verified_at IS NOT NULL
		ORDER BY user_id ASC, created_at ASC
	`)
}

// MarkVerified records a successful ownership proof
func (r *WalletRepository) MarkVerified(ctx context.Context, walletID, method, txID string, at time.Time) error {
	query := `
		UPDATE linked_wallets
		SET verified_at = $2, verification_method = $3, verification_tx_id = $4
		WHERE id = $1
	`

	tag, err := r.pool.Exec(ctx, query, walletID, at, method, txID)
	if err != nil {
		return fmt.Errorf("failed to mark wallet verified: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("wallet not found: %s", walletID)
	}
	return nil
}

// Delete removes a wallet
func (r *WalletRepository) Delete(ctx context.Context, walletID string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM linked_wallets WHERE id = $1`, walletID); err != nil {
		return fmt.Errorf("failed to delete wallet: %w", err)
	}
	return nil
}

func (r *WalletRepository) list(ctx context.Context, query string, args ...interface{}) ([]models.LinkedWallet, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query wallets: %w", err)
	}
	defer rows.Close()

	wallets := make([]models.LinkedWallet, 0)
	for rows.Next() {
		wallet, err := scanWallet(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan wallet: %w", err)
		}
		wallets = append(wallets, *wallet)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating wallets: %w", err)
	}
	return wallets, nil
}

func scanWallet(row pgx.Row) (*models.LinkedWallet, error) {
	var w models.LinkedWallet
	if err := row.Scan(
		&w.ID,
		&w.UserID,
		&w.Address,
		&w.Label,
		&w.VerifiedAt,
		&w.VerificationMethod,
		&w.VerificationTxID,
		&w.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &w, nil
}
