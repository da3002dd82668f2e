package models

import (
	"time"
)

// VerificationMethodNote marks wallets verified by a note transaction
const VerificationMethodNote = "note_transaction"

// LinkedWallet is a wallet address linked to a user
type LinkedWallet struct {
	ID                 string     `json:"id" db:"id"`
	UserID             string     `json:"userId" db:"user_id"`
	Address            string     `json:"address" db:"address"`
	Label              *string    `json:"label,omitempty" db:"label"`
	VerifiedAt         *time.Time `json:"verifiedAt,omitempty" db:"verified_at"`
	VerificationMethod *string    `json:"verificationMethod,omitempty" db:"verification_method"`
	VerificationTxID   *string    `json:"verificationTxId,omitempty" db:"verification_tx_id"`
	CreatedAt          time.Time  `json:"createdAt" db:"created_at"`
}

// IsVerified reports whether ownership was proven
func (w *LinkedWallet) IsVerified() bool {
	return w.VerifiedAt != nil
}

// VerificationChallenge is an outstanding ownership challenge
type VerificationChallenge struct {
	ID         string     `json:"id" db:"id"`
	UserID     string     `json:"userId" db:"user_id"`
	WalletID   string     `json:"walletId" db:"wallet_id"`
	NoteText   string     `json:"noteText" db:"note_text"`
	Receiver   string     `json:"receiver" db:"receiver"`
	CreatedAt  time.Time  `json:"createdAt" db:"created_at"`
	ExpiresAt  time.Time  `json:"expiresAt" db:"expires_at"`
	ConsumedAt *time.Time `json:"consumedAt,omitempty" db:"consumed_at"`
}

// AuditEntry is an audit log row
type AuditEntry struct {
	ID        string                 `json:"id" db:"id"`
	UserID    string                 `json:"userId" db:"user_id"`
	Action    string                 `json:"action" db:"action"`
	Meta      map[string]interface{} `json:"meta,omitempty" db:"meta"`
	CreatedAt time.Time              `json:"createdAt" db:"created_at"`
}

// DailyPrice is a stored per-day USD price of an asset
type DailyPrice struct {
	AssetKey  string    `json:"assetKey" ch:"asset_key"`
	DayKey    string    `json:"dayKey" ch:"day"`
	PriceUSD  *float64  `json:"priceUsd" ch:"price_usd"`
	Source    string    `json:"source" ch:"source"`
	UpdatedAt time.Time `json:"updatedAt" ch:"updated_at"`
}
