package service

import (
	"context"

	"github.com/algo-portfolio/internal/errors"
	"github.com/algo-portfolio/internal/logging"
)

// AccountService removes everything stored for a user
type AccountService struct {
	wallets    WalletStore
	challenges ChallengeStore
	snapshots  SnapshotStore
	audit      AuditStore
}

// NewAccountService creates a new account service
func NewAccountService(wallets WalletStore, challenges ChallengeStore, snapshots SnapshotStore, audit AuditStore) *AccountService {
	return &AccountService{
		wallets:    wallets,
		challenges: challenges,
		snapshots:  snapshots,
		audit:      audit,
	}
}

// DeleteAccount deletes the user's wallets with their challenges and the
// user's snapshots. A user with neither wallets nor a snapshot is unknown.
// The audit trail is kept and gains an account deletion entry.
func (s *AccountService) DeleteAccount(ctx context.Context, userID string) error {
	wallets, err := s.wallets.ListByUser(ctx, userID)
	if err != nil {
		return errors.NewDatabaseError("list wallets", err)
	}
	if len(wallets) == 0 {
		latest, err := s.snapshots.GetLatest(ctx, userID)
		if err != nil {
			return errors.NewDatabaseError("get snapshot", err)
		}
		if latest == nil {
			return errors.NewUserNotFoundError(userID)
		}
	}

	for _, wallet := range wallets {
		if err := s.challenges.DeleteForWallet(ctx, wallet.ID); err != nil {
			return errors.NewDatabaseError("delete challenges", err)
		}
		if err := s.wallets.Delete(ctx, wallet.ID); err != nil {
			return errors.NewDatabaseError("delete wallet", err)
		}
	}
	if err := s.snapshots.DeleteForUser(ctx, userID); err != nil {
		return errors.NewDatabaseError("delete snapshots", err)
	}

	if err := s.audit.Write(ctx, userID, AuditAccountDeleted, map[string]interface{}{"wallets": len(wallets)}); err != nil {
		logging.FromContext(ctx).WithError(err).Warn("Failed to write audit log")
	}
	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"userId":  userID,
		"wallets": len(wallets),
	}).Info("Account deleted")
	return nil
}
