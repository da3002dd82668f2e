package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/algo-portfolio/internal/errors"
	"github.com/algo-portfolio/internal/models"
)

func newAccountFixture() (*AccountService, *memStores) {
	stores := newMemStores()
	svc := NewAccountService(stores.walletStore(), stores.challengeStore(), stores.snapshotStore(), stores.auditStore())
	return svc, stores
}

func TestDeleteAccount(t *testing.T) {
	svc, stores := newAccountFixture()
	ctx := context.Background()

	stores.wallets["w1"] = models.LinkedWallet{ID: "w1", UserID: "user-1", Address: testAddress(1)}
	stores.wallets["w2"] = models.LinkedWallet{ID: "w2", UserID: "user-1", Address: testAddress(2)}
	stores.wallets["w3"] = models.LinkedWallet{ID: "w3", UserID: "user-2", Address: testAddress(3)}
	stores.challenges["c1"] = models.VerificationChallenge{ID: "c1", UserID: "user-1", WalletID: "w1"}
	stores.challenges["c3"] = models.VerificationChallenge{ID: "c3", UserID: "user-2", WalletID: "w3"}
	require.NoError(t, stores.snapshotStore().Create(ctx, &models.StoredSnapshot{ID: "s1", UserID: "user-1", ComputedAt: time.Now()}))
	require.NoError(t, stores.snapshotStore().Create(ctx, &models.StoredSnapshot{ID: "s3", UserID: "user-2", ComputedAt: time.Now()}))

	require.NoError(t, svc.DeleteAccount(ctx, "user-1"))

	assert.Len(t, stores.wallets, 1)
	assert.Contains(t, stores.wallets, "w3")
	assert.Len(t, stores.challenges, 1)
	assert.Contains(t, stores.challenges, "c3")
	require.Len(t, stores.snapshots, 1)
	assert.Equal(t, "user-2", stores.snapshots[0].UserID)
	assert.Equal(t, []string{AuditAccountDeleted}, stores.actions())
	assert.Equal(t, 2, stores.audits[0].Meta["wallets"])

	err := svc.DeleteAccount(ctx, "user-1")
	assert.True(t, errors.HasCode(err, errors.CodeUserNotFound))
}

func TestDeleteAccountWithOnlySnapshot(t *testing.T) {
	svc, stores := newAccountFixture()
	ctx := context.Background()
	require.NoError(t, stores.snapshotStore().Create(ctx, &models.StoredSnapshot{ID: "s1", UserID: "user-1"}))

	require.NoError(t, svc.DeleteAccount(ctx, "user-1"))
	assert.Empty(t, stores.snapshots)
}

func TestDeleteUnknownAccount(t *testing.T) {
	svc, stores := newAccountFixture()

	err := svc.DeleteAccount(context.Background(), "missing")
	assert.True(t, errors.HasCode(err, errors.CodeUserNotFound))
	assert.Equal(t, 404, errors.Categorize(err).StatusCode)
	assert.Empty(t, stores.actions())
}
