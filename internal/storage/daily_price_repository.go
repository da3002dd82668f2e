package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/algo-portfolio/internal/models"
)

const dayKeyLayout = "2006-01-02"

// DailyPriceRepository stores per-day USD prices in ClickHouse. The table
// is a ReplacingMergeTree keyed by (asset_key, day), so re-inserting a day
// replaces the older row.
type DailyPriceRepository struct {
	db *ClickHouseDB
}

// NewDailyPriceRepository creates a new daily price repository
func NewDailyPriceRepository(db *ClickHouseDB) *DailyPriceRepository {
	return &DailyPriceRepository{db: db}
}

// Upsert writes rows in one batch
func (r *DailyPriceRepository) Upsert(ctx context.Context, rows []models.DailyPrice) error {
	if len(rows) == 0 {
		return nil
	}

	batch, err := r.db.Conn().PrepareBatch(ctx, `
		INSERT INTO daily_prices (asset_key, day, price_usd, source, updated_at)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare daily price batch: %w", err)
	}

	now := time.Now().UTC()
	for _, row := range rows {
		day, err := time.Parse(dayKeyLayout, row.DayKey)
		if err != nil {
			_ = batch.Abort()
			return fmt.Errorf("invalid day key %q: %w", row.DayKey, err)
		}
		updatedAt := row.UpdatedAt
		if updatedAt.IsZero() {
			updatedAt = now
		}
		if err := batch.Append(row.AssetKey, day, row.PriceUSD, row.Source, updatedAt); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("failed to append daily price: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send daily price batch: %w", err)
	}
	return nil
}

// GetRange returns the stored prices of the assets between two inclusive
// UTC day keys, ordered by asset and day.
func (r *DailyPriceRepository) GetRange(ctx context.Context, assetKeys []string, fromDay, toDay string) ([]models.DailyPrice, error) {
	if len(assetKeys) == 0 {
		return nil, nil
	}

	query := `
		SELECT asset_key, toString(day), price_usd, source, updated_at
		FROM daily_prices FINAL
		WHERE asset_key IN (?)
			AND day >= toDate(?)
			AND day <= toDate(?)
		ORDER BY asset_key ASC, day ASC
	`

	rows, err := r.db.Conn().Query(ctx, query, assetKeys, fromDay, toDay)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily prices: %w", err)
	}
	defer rows.Close()

	var prices []models.DailyPrice
	for rows.Next() {
		var p models.DailyPrice
		if err := rows.Scan(&p.AssetKey, &p.DayKey, &p.PriceUSD, &p.Source, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan daily price: %w", err)
		}
		prices = append(prices, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily prices: %w", err)
	}
	return prices, nil
}
