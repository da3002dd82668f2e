package service

import (
	"context"
	"sort"
	"sync"
	"time"

	sdktypes "github.com/algorand/go-algorand-sdk/v2/types"

	"github.com/algo-portfolio/internal/models"
)

// testAddress builds a checksummed address from a repeated key byte
func testAddress(seed byte) string {
	var addr sdktypes.Address
	for i := range addr {
		addr[i] = seed
	}
	return addr.String()
}

type memStores struct {
	mu         sync.Mutex
	wallets    map[string]models.LinkedWallet
	challenges map[string]models.VerificationChallenge
	snapshots  []models.StoredSnapshot
	audits     []models.AuditEntry
	daily      map[string]models.DailyPrice
	upserts    int
}

func newMemStores() *memStores {
	return &memStores{
		wallets:    make(map[string]models.LinkedWallet),
		challenges: make(map[string]models.VerificationChallenge),
		daily:      make(map[string]models.DailyPrice),
	}
}

func (m *memStores) walletStore() WalletStore       { return (*memWallets)(m) }
func (m *memStores) challengeStore() ChallengeStore { return (*memChallenges)(m) }
func (m *memStores) snapshotStore() SnapshotStore   { return (*memSnapshots)(m) }
func (m *memStores) auditStore() AuditStore         { return (*memAudit)(m) }
func (m *memStores) dailyStore() DailyPriceStore    { return (*memDaily)(m) }

func (m *memStores) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.audits))
	for _, a := range m.audits {
		out = append(out, a.Action)
	}
	return out
}

type memWallets memStores

func (m *memWallets) Create(ctx context.Context, wallet *models.LinkedWallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wallets[wallet.ID] = *wallet
	return nil
}

func (m *memWallets) GetByID(ctx context.Context, walletID string) (*models.LinkedWallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[walletID]
	if !ok {
		return nil, nil
	}
	return &w, nil
}

func (m *memWallets) list(keep func(models.LinkedWallet) bool) []models.LinkedWallet {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.LinkedWallet
	for _, w := range m.wallets {
		if keep(w) {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memWallets) ListByUser(ctx context.Context, userID string) ([]models.LinkedWallet, error) {
	return m.list(func(w models.LinkedWallet) bool { return w.UserID == userID }), nil
}

func (m *memWallets) ListVerified(ctx context.Context, userID string) ([]models.LinkedWallet, error) {
	return m.list(func(w models.LinkedWallet) bool { return w.UserID == userID && w.IsVerified() }), nil
}

func (m *memWallets) ListAllVerified(ctx context.Context) ([]models.LinkedWallet, error) {
	return m.list(func(w models.LinkedWallet) bool { return w.IsVerified() }), nil
}

func (m *memWallets) MarkVerified(ctx context.Context, walletID, method, txID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := m.wallets[walletID]
	w.VerifiedAt = &at
	w.VerificationMethod = &method
	w.VerificationTxID = &txID
	m.wallets[walletID] = w
	return nil
}

func (m *memWallets) Delete(ctx context.Context, walletID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.wallets, walletID)
	return nil
}

type memChallenges memStores

func (m *memChallenges) Create(ctx context.Context, challenge *models.VerificationChallenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.challenges[challenge.ID] = *challenge
	return nil
}

func (m *memChallenges) Get(ctx context.Context, challengeID string) (*models.VerificationChallenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.challenges[challengeID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *memChallenges) Consume(ctx context.Context, challengeID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.challenges[challengeID]
	c.ConsumedAt = &at
	m.challenges[challengeID] = c
	return nil
}

func (m *memChallenges) DeleteForWallet(ctx context.Context, walletID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, c := range m.challenges {
		if c.WalletID == walletID {
			delete(m.challenges, id)
		}
	}
	return nil
}

type memSnapshots memStores

func (m *memSnapshots) Create(ctx context.Context, snapshot *models.StoredSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots = append(m.snapshots, *snapshot)
	return nil
}

func (m *memSnapshots) GetLatest(ctx context.Context, userID string) (*models.StoredSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *models.StoredSnapshot
	for i := range m.snapshots {
		s := m.snapshots[i]
		if s.UserID != userID {
			continue
		}
		if latest == nil || !s.ComputedAt.Before(latest.ComputedAt) {
			latest = &s
		}
	}
	return latest, nil
}

func (m *memSnapshots) DeleteForUser(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.snapshots[:0]
	for _, s := range m.snapshots {
		if s.UserID != userID {
			kept = append(kept, s)
		}
	}
	m.snapshots = kept
	return nil
}

type memAudit memStores

func (m *memAudit) Write(ctx context.Context, userID, action string, meta map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audits = append(m.audits, models.AuditEntry{UserID: userID, Action: action, Meta: meta, CreatedAt: time.Now()})
	return nil
}

func (m *memAudit) CountActionsSince(ctx context.Context, userID, action string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, a := range m.audits {
		if a.UserID == userID && a.Action == action && !a.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

type memDaily memStores

func (m *memDaily) Upsert(ctx context.Context, rows []models.DailyPrice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++
	for _, row := range rows {
		m.daily[row.AssetKey+":"+row.DayKey] = row
	}
	return nil
}

func (m *memDaily) GetRange(ctx context.Context, assetKeys []string, fromDay, toDay string) ([]models.DailyPrice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wanted := make(map[string]bool, len(assetKeys))
	for _, k := range assetKeys {
		wanted[k] = true
	}
	var out []models.DailyPrice
	for _, row := range m.daily {
		if wanted[row.AssetKey] && row.DayKey >= fromDay && row.DayKey <= toDay {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AssetKey != out[j].AssetKey {
			return out[i].AssetKey < out[j].AssetKey
		}
		return out[i].DayKey < out[j].DayKey
	})
	return out, nil
}
