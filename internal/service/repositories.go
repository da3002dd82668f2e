package service

import (
	"context"
	"time"

	"github.com/algo-portfolio/internal/models"
)

// SnapshotStore persists computed snapshots per user
type SnapshotStore interface {
	Create(ctx context.Context, snapshot *models.StoredSnapshot) error
	// GetLatest returns nil when the user has no stored snapshot
	GetLatest(ctx context.Context, userID string) (*models.StoredSnapshot, error)
	DeleteForUser(ctx context.Context, userID string) error
}

// WalletStore persists linked wallets
type WalletStore interface {
	Create(ctx context.Context, wallet *models.LinkedWallet) error
	// GetByID returns nil when the wallet does not exist
	GetByID(ctx context.Context, walletID string) (*models.LinkedWallet, error)
	ListByUser(ctx context.Context, userID string) ([]models.LinkedWallet, error)
	ListVerified(ctx context.Context, userID string) ([]models.LinkedWallet, error)
	ListAllVerified(ctx context.Context) ([]models.LinkedWallet, error)
	MarkVerified(ctx context.Context, walletID, method, txID string, at time.Time) error
	Delete(ctx context.Context, walletID string) error
}

// ChallengeStore persists wallet ownership challenges
type ChallengeStore interface {
	Create(ctx context.Context, challenge *models.VerificationChallenge) error
	// Get returns nil when the challenge does not exist
	Get(ctx context.Context, challengeID string) (*models.VerificationChallenge, error)
	Consume(ctx context.Context, challengeID string, at time.Time) error
	DeleteForWallet(ctx context.Context, walletID string) error
}

// AuditStore records user actions
type AuditStore interface {
	Write(ctx context.Context, userID, action string, meta map[string]interface{}) error
	CountActionsSince(ctx context.Context, userID, action string, since time.Time) (int, error)
}

// DailyPriceStore keeps one USD price per asset and UTC day
type DailyPriceStore interface {
	Upsert(ctx context.Context, rows []models.DailyPrice) error
	GetRange(ctx context.Context, assetKeys []string, fromDay, toDay string) ([]models.DailyPrice, error)
}

// Audit actions
const (
	AuditWalletLinked     = "wallet.linked"
	AuditWalletVerified   = "wallet.link.verified"
	AuditWalletDeleted    = "wallet.deleted"
	AuditChallengeCreated = "wallet.challenge.created"
	AuditManualRefresh    = "portfolio.refresh.manual"
	AuditAutoRefresh      = "portfolio.refresh.auto"
	AuditAccountDeleted   = "account.deleted"
)
