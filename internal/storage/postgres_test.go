package storage

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/algo-portfolio/internal/config"
	apperrors "github.com/algo-portfolio/internal/errors"
	"github.com/algo-portfolio/internal/models"
)

func TestPostgresURL(t *testing.T) {
	got := PostgresURL(&config.PostgresConfig{
		Host:     "db",
		Port:     "5432",
		Database: "algo_portfolio",
		User:     "portfolio",
		Password: "p@ss word",
	})
	want := "postgres://portfolio:p%40ss%20word@db:5432/algo_portfolio?sslmode=disable"
	if got != want {
		t.Errorf("PostgresURL() = %q, want %q", got, want)
	}
}

func TestNewPostgresDB(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db, err := NewPostgresDB(integrationPostgresConfig())
	if err != nil {
		t.Skipf("Skipping test - Postgres not available: %v", err)
		return
	}
	defer db.Close()

	if db.Pool() == nil {
		t.Fatal("Pool() returned nil")
	}
	if err := db.Ping(testContext(t)); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}

func TestWalletAndChallengeRepositories(t *testing.T) {
	db := integrationPostgres(t)
	ctx := testContext(t)
	wallets := NewWalletRepository(db.Pool())
	challenges := NewChallengeRepository(db.Pool())

	userID := "it-" + uuid.New().String()
	wallet := &models.LinkedWallet{
		ID:        uuid.New().String(),
		UserID:    userID,
		Address:   strings.Repeat("A", 58),
		CreatedAt: time.Now().UTC(),
	}
	if err := wallets.Create(ctx, wallet); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	defer func() { _ = wallets.Delete(ctx, wallet.ID) }()

	dup := *wallet
	dup.ID = uuid.New().String()
	if err := wallets.Create(ctx, &dup); !apperrors.HasCode(err, apperrors.CodeWalletAlreadyLinked) {
		t.Errorf("duplicate Create() error = %v, want wallet already linked", err)
	}

	verified, err := wallets.ListVerified(ctx, userID)
	if err != nil || len(verified) != 0 {
		t.Fatalf("ListVerified() = %v, %v, want none", verified, err)
	}

	challenge := &models.VerificationChallenge{
		ID:        uuid.New().String(),
		UserID:    userID,
		WalletID:  wallet.ID,
		NoteText:  "algo-portfolio-verify:" + uuid.New().String(),
		Receiver:  "RECEIVER",
		CreatedAt: time.Now().UTC(),
		ExpiresAt: time.Now().UTC().Add(15 * time.Minute),
	}
	if err := challenges.Create(ctx, challenge); err != nil {
		t.Fatalf("challenge Create() error = %v", err)
	}
	now := time.Now().UTC()
	if err := challenges.Consume(ctx, challenge.ID, now); err != nil {
		t.Fatalf("Consume() error = %v", err)
	}
	if err := challenges.Consume(ctx, challenge.ID, now); err == nil {
		t.Error("second Consume() should fail")
	}
	if err := wallets.MarkVerified(ctx, wallet.ID, models.VerificationMethodNote, "TXID", now); err != nil {
		t.Fatalf("MarkVerified() error = %v", err)
	}

	verified, err = wallets.ListVerified(ctx, userID)
	if err != nil || len(verified) != 1 {
		t.Fatalf("ListVerified() = %v, %v, want one", verified, err)
	}
	if *verified[0].VerificationTxID != "TXID" {
		t.Errorf("VerificationTxID = %v", *verified[0].VerificationTxID)
	}

	if err := challenges.DeleteForWallet(ctx, wallet.ID); err != nil {
		t.Fatalf("DeleteForWallet() error = %v", err)
	}
	got, err := challenges.Get(ctx, challenge.ID)
	if err != nil || got != nil {
		t.Errorf("Get() after delete = %v, %v", got, err)
	}
}

func TestSnapshotAndAuditRepositories(t *testing.T) {
	db := integrationPostgres(t)
	ctx := testContext(t)
	snapshots := NewSnapshotRepository(db.Pool())
	audit := NewAuditRepository(db.Pool())
	userID := "it-" + uuid.New().String()
	defer func() { _ = snapshots.DeleteForUser(ctx, userID) }()

	latest, err := snapshots.GetLatest(ctx, userID)
	if err != nil || latest != nil {
		t.Fatalf("GetLatest() = %v, %v, want nil", latest, err)
	}

	base := time.Now().UTC().Truncate(time.Second)
	for i, id := range []string{uuid.New().String(), uuid.New().String()} {
		err := snapshots.Create(ctx, &models.StoredSnapshot{
			ID:         id,
			UserID:     userID,
			Method:     "fifo",
			ComputedAt: base.Add(time.Duration(i) * time.Minute),
			Data:       &models.PortfolioSnapshot{},
		})
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	latest, err = snapshots.GetLatest(ctx, userID)
	if err != nil || latest == nil {
		t.Fatalf("GetLatest() = %v, %v", latest, err)
	}
	if !latest.ComputedAt.Equal(base.Add(time.Minute)) {
		t.Errorf("GetLatest().ComputedAt = %v", latest.ComputedAt)
	}
	all, err := snapshots.ListByUser(ctx, userID, 10)
	if err != nil || len(all) != 2 {
		t.Errorf("ListByUser() = %d, %v", len(all), err)
	}

	since := base.Add(-time.Second)
	for i := 0; i < 2; i++ {
		if err := audit.Write(ctx, userID, "portfolio.refresh.manual", map[string]interface{}{"walletCount": 1}); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	count, err := audit.CountActionsSince(ctx, userID, "portfolio.refresh.manual", since)
	if err != nil || count != 2 {
		t.Errorf("CountActionsSince() = %d, %v, want 2", count, err)
	}
}
