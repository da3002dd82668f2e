package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/algorand/go-algorand-sdk/v2/encoding/msgpack"
	sdktypes "github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/google/uuid"

	"github.com/algo-portfolio/internal/adapter"
	"github.com/algo-portfolio/internal/config"
	"github.com/algo-portfolio/internal/errors"
	"github.com/algo-portfolio/internal/logging"
	"github.com/algo-portfolio/internal/models"
	"github.com/algo-portfolio/internal/retry"
)

const (
	notePrefix          = "algo-portfolio-verify:"
	verificationTxLimit = 1000
)

// ValidateAlgorandAddress checks the base32 form, length and checksum of
// an account address
func ValidateAlgorandAddress(address string) bool {
	_, err := sdktypes.DecodeAddress(address)
	return err == nil
}

// DecodeSignedPayload turns a wallet's base64 signed transaction export into
// raw msgpack bytes. URL-safe and unpadded forms are accepted.
func DecodeSignedPayload(payload string) ([]byte, error) {
	normalized := strings.Join(strings.Fields(payload), "")
	if normalized == "" {
		return nil, fmt.Errorf("empty signed transaction payload")
	}
	b64 := strings.NewReplacer("-", "+", "_", "/").Replace(normalized)
	if raw, err := base64.StdEncoding.DecodeString(b64); err == nil && len(raw) > 0 {
		return raw, nil
	}
	if raw, err := base64.RawStdEncoding.DecodeString(b64); err == nil && len(raw) > 0 {
		return raw, nil
	}
	return nil, fmt.Errorf("signed transaction payload is not base64")
}

// VerificationResult is the outcome of a note transaction search
type VerificationResult struct {
	OK   bool
	TxID string
}

// VerificationService links wallets to users and proves their ownership
// with a zero-value payment carrying a one-time note.
type VerificationService struct {
	ledger     adapter.LedgerSource
	submitter  adapter.TransactionSubmitter
	wallets    WalletStore
	challenges ChallengeStore
	snapshots  SnapshotStore
	audit      AuditStore
	cfg        config.VerificationConfig
	now        func() time.Time
}

// NewVerificationService creates a new verification service. submitter may
// be nil, in which case signed transactions are only searched for on chain.
func NewVerificationService(
	ledger adapter.LedgerSource,
	submitter adapter.TransactionSubmitter,
	wallets WalletStore,
	challenges ChallengeStore,
	snapshots SnapshotStore,
	audit AuditStore,
	cfg config.VerificationConfig,
) *VerificationService {
	return &VerificationService{
		ledger:     ledger,
		submitter:  submitter,
		wallets:    wallets,
		challenges: challenges,
		snapshots:  snapshots,
		audit:      audit,
		cfg:        cfg,
		now:        time.Now,
	}
}

// LinkWallet registers an unverified wallet for the user
func (s *VerificationService) LinkWallet(ctx context.Context, userID, address string, label *string) (*models.LinkedWallet, error) {
	address = strings.TrimSpace(address)
	if !ValidateAlgorandAddress(address) {
		return nil, errors.NewInvalidWalletAddressError(address)
	}

	existing, err := s.wallets.ListByUser(ctx, userID)
	if err != nil {
		return nil, errors.NewDatabaseError("list wallets", err)
	}
	for _, w := range existing {
		if w.Address == address {
			return nil, errors.NewWalletAlreadyLinkedError(address)
		}
	}

	wallet := &models.LinkedWallet{
		ID:        uuid.New().String(),
		UserID:    userID,
		Address:   address,
		Label:     label,
		CreatedAt: s.now().UTC(),
	}
	if err := s.wallets.Create(ctx, wallet); err != nil {
		if errors.HasCode(err, errors.CodeWalletAlreadyLinked) {
			return nil, err
		}
		return nil, errors.NewDatabaseError("create wallet", err)
	}
	s.writeAudit(ctx, userID, AuditWalletLinked, map[string]interface{}{"walletId": wallet.ID})
	return wallet, nil
}

// ListWallets returns every wallet the user linked
func (s *VerificationService) ListWallets(ctx context.Context, userID string) ([]models.LinkedWallet, error) {
	wallets, err := s.wallets.ListByUser(ctx, userID)
	if err != nil {
		return nil, errors.NewDatabaseError("list wallets", err)
	}
	return wallets, nil
}

// DeleteWallet removes a wallet with its challenges and drops the user's
// stored snapshots, which may include the wallet.
func (s *VerificationService) DeleteWallet(ctx context.Context, userID, walletID string) error {
	wallet, err := s.wallets.GetByID(ctx, walletID)
	if err != nil {
		return errors.NewDatabaseError("get wallet", err)
	}
	if wallet == nil {
		return errors.NewWalletNotFoundError(walletID)
	}
	if wallet.UserID != userID {
		return errors.NewForbiddenError("wallet")
	}

	if err := s.challenges.DeleteForWallet(ctx, walletID); err != nil {
		return errors.NewDatabaseError("delete challenges", err)
	}
	if err := s.wallets.Delete(ctx, walletID); err != nil {
		return errors.NewDatabaseError("delete wallet", err)
	}
	if err := s.snapshots.DeleteForUser(ctx, userID); err != nil {
		return errors.NewDatabaseError("delete snapshots", err)
	}
	s.writeAudit(ctx, userID, AuditWalletDeleted, map[string]interface{}{"walletId": walletID})
	return nil
}

// CreateChallenge issues a one-time note the wallet must send to the
// verification receiver before the challenge expires.
func (s *VerificationService) CreateChallenge(ctx context.Context, userID, walletID string) (*models.VerificationChallenge, error) {
	wallet, err := s.wallets.GetByID(ctx, walletID)
	if err != nil {
		return nil, errors.NewDatabaseError("get wallet", err)
	}
	if wallet == nil || wallet.UserID != userID {
		return nil, errors.NewWalletNotFoundError(walletID)
	}
	if s.cfg.Receiver == "" {
		return nil, errors.NewServiceUnavailableError("wallet verification")
	}

	now := s.now().UTC()
	challenge := &models.VerificationChallenge{
		ID:        uuid.New().String(),
		UserID:    userID,
		WalletID:  walletID,
		NoteText:  notePrefix + uuid.New().String(),
		Receiver:  s.cfg.Receiver,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.ChallengeTTL),
	}
	if err := s.challenges.Create(ctx, challenge); err != nil {
		return nil, errors.NewDatabaseError("create challenge", err)
	}
	s.writeAudit(ctx, userID, AuditChallengeCreated, map[string]interface{}{
		"walletId":    walletID,
		"challengeId": challenge.ID,
	})
	return challenge, nil
}

// VerifyByNoteTransaction polls the wallet's payments for one carrying
// noteText to the configured receiver, confirmed between createdAt and
// expiresAt plus the grace period.
func (s *VerificationService) VerifyByNoteTransaction(ctx context.Context, address, noteText string, createdAt, expiresAt time.Time) VerificationResult {
	minUnix := createdAt.Unix()
	maxUnix := expiresAt.Add(s.cfg.Grace).Unix()
	logger := logging.FromContext(ctx).WithField("wallet", address)

	var found VerificationResult
	result := retry.WithBackoff(ctx, retry.FixedDelayConfig(s.cfg.MaxAttempts, s.cfg.RetryDelay), func(ctx context.Context, attempt int) error {
		txns, err := s.ledger.GetTransactionsForAddress(ctx, address, verificationTxLimit)
		if err != nil {
			logger.WithError(err).Warn("Verification lookup failed")
			if !errors.IsRetryable(err) {
				return retry.Permanent(err)
			}
			return err
		}
		tx := adapter.MatchVerificationTransaction(txns, noteText, minUnix, maxUnix)
		if tx == nil || tx.Payment.Receiver != s.cfg.Receiver {
			return fmt.Errorf("no matching verification transaction on attempt %d", attempt)
		}
		found = VerificationResult{OK: true, TxID: tx.ID}
		return nil
	})
	if !result.Success {
		return VerificationResult{}
	}
	return found
}

// ConfirmChallenge verifies the challenge on chain, consumes it and marks
// the wallet verified. With a signed transaction payload the transaction is
// checked and submitted; otherwise the ledger is searched for the note.
func (s *VerificationService) ConfirmChallenge(ctx context.Context, userID, challengeID, signedTxn string) (*models.LinkedWallet, error) {
	challenge, err := s.challenges.Get(ctx, challengeID)
	if err != nil {
		return nil, errors.NewDatabaseError("get challenge", err)
	}
	if challenge == nil || challenge.UserID != userID {
		return nil, errors.NewChallengeNotFoundError(challengeID)
	}
	if challenge.ConsumedAt != nil || challenge.ExpiresAt.Before(s.now()) {
		return nil, errors.NewChallengeExpiredError(challengeID)
	}

	wallet, err := s.wallets.GetByID(ctx, challenge.WalletID)
	if err != nil {
		return nil, errors.NewDatabaseError("get wallet", err)
	}
	if wallet == nil {
		return nil, errors.NewWalletNotFoundError(challenge.WalletID)
	}

	var verification VerificationResult
	if strings.TrimSpace(signedTxn) != "" {
		verification, err = s.verifySignedTransaction(ctx, wallet.Address, challenge, signedTxn)
		if err != nil {
			return nil, err
		}
	} else {
		verification = s.VerifyByNoteTransaction(ctx, wallet.Address, challenge.NoteText, challenge.CreatedAt, challenge.ExpiresAt)
		if !verification.OK {
			return nil, errors.NewVerificationFailedError("No matching verification transaction found yet")
		}
	}

	now := s.now().UTC()
	if err := s.challenges.Consume(ctx, challenge.ID, now); err != nil {
		return nil, errors.NewDatabaseError("consume challenge", err)
	}
	if err := s.wallets.MarkVerified(ctx, wallet.ID, models.VerificationMethodNote, verification.TxID, now); err != nil {
		return nil, errors.NewDatabaseError("mark wallet verified", err)
	}

	method := models.VerificationMethodNote
	txID := verification.TxID
	wallet.VerifiedAt = &now
	wallet.VerificationMethod = &method
	wallet.VerificationTxID = &txID

	s.writeAudit(ctx, userID, AuditWalletVerified, map[string]interface{}{
		"walletId":         wallet.ID,
		"verificationTxId": verification.TxID,
	})
	return wallet, nil
}

// verifySignedTransaction checks sender, receiver and note of a signed
// payment and broadcasts it. When the node rejects it, typically because the
// wallet already broadcast it, the ledger is searched instead.
func (s *VerificationService) verifySignedTransaction(ctx context.Context, address string, challenge *models.VerificationChallenge, payload string) (VerificationResult, error) {
	raw, err := DecodeSignedPayload(payload)
	if err != nil {
		return VerificationResult{}, errors.NewInvalidParameterError("signedTxnB64", "invalid signed transaction payload")
	}
	var stxn sdktypes.SignedTxn
	if err := msgpack.Decode(raw, &stxn); err != nil {
		return VerificationResult{}, errors.NewInvalidParameterError("signedTxnB64", "invalid signed transaction payload")
	}

	if stxn.Txn.Sender.String() != address {
		return VerificationResult{}, errors.NewInvalidParameterError("signedTxnB64", "signed transaction sender does not match wallet")
	}
	if stxn.Txn.Receiver.String() != s.cfg.Receiver {
		return VerificationResult{}, errors.NewInvalidParameterError("signedTxnB64", "signed transaction receiver mismatch")
	}
	if string(stxn.Txn.Note) != challenge.NoteText {
		return VerificationResult{}, errors.NewInvalidParameterError("signedTxnB64", "signed transaction note mismatch")
	}

	logger := logging.FromContext(ctx).WithField("wallet", address)
	if s.submitter != nil {
		txID, err := s.submitter.SubmitSignedTransaction(ctx, raw)
		if err == nil {
			return VerificationResult{OK: true, TxID: txID}, nil
		}
		logger.WithError(err).Warn("Signed verification transaction rejected, searching the ledger")
	}

	result := s.VerifyByNoteTransaction(ctx, address, challenge.NoteText, challenge.CreatedAt, challenge.ExpiresAt)
	if !result.OK {
		return VerificationResult{}, errors.NewVerificationFailedError("Signed transaction could not be submitted or found on-chain yet")
	}
	return result, nil
}

func (s *VerificationService) writeAudit(ctx context.Context, userID, action string, meta map[string]interface{}) {
	if err := s.audit.Write(ctx, userID, action, meta); err != nil {
		logging.FromContext(ctx).WithError(err).WithField("action", action).Warn("Failed to write audit log")
	}
}
