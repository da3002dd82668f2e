package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/google/subcommands"

	"github.com/algo-portfolio/internal/format"
	"github.com/algo-portfolio/internal/models"
)

type snapshotCmd struct {
	asJSON bool
	txs    int
}

func (*snapshotCmd) Name() string     { return "snapshot" }
func (*snapshotCmd) Synopsis() string { return "compute a portfolio snapshot for wallets" }
func (*snapshotCmd) Usage() string {
	return `portfolioctl snapshot [-json] [-txs n] <address>...

  Fetches the wallets from the indexer, prices every asset and prints the
  valued holdings with FIFO cost basis, followed by the n most recent
  transactions with explorer links.
`
}

func (c *snapshotCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.asJSON, "json", false, "print the snapshot as JSON")
	f.IntVar(&c.txs, "txs", 10, "number of recent transactions to list")
}

func (c *snapshotCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	wallets := walletArgs(f.Args())
	if len(wallets) == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}

	a, err := loadApp()
	if err != nil {
		fail(err)
		return subcommands.ExitFailure
	}
	snapshot, err := a.Snapshots.ComputePortfolioSnapshot(ctx, wallets)
	if err != nil {
		fail(err)
		return subcommands.ExitFailure
	}

	if c.asJSON {
		if err := printJSON(snapshot); err != nil {
			fail(err)
			return subcommands.ExitFailure
		}
		return subcommands.ExitSuccess
	}
	renderSnapshot(snapshot)
	renderTransactions(snapshot.Transactions, c.txs)
	return subcommands.ExitSuccess
}

func renderSnapshot(s *models.PortfolioSnapshot) {
	fmt.Printf("Computed %s (%s)\n\n", s.ComputedAt.Format("2006-01-02 15:04 MST"), s.Method)

	w := newTable()
	fmt.Fprintln(w, "Asset\tBalance\tPrice\tValue\tCost\tRealized\tUnrealized\t")
	for _, row := range s.Assets {
		name := row.AssetName
		if name == "" {
			name = string(row.AssetKey)
		}
		fmt.Fprintf(w, "%s\t%.6f\t%s\t%s\t%s\t%s\t%s\t\n",
			name, row.Balance, format.USD(row.PriceUSD), format.USD(row.ValueUSD),
			format.USDValue(row.CostBasisUSD), format.USDValue(row.RealizedPnlUSD), format.USD(row.UnrealizedPnlUSD))
	}
	fmt.Fprintf(w, "Total\t\t\t%s\t%s\t%s\t%s\t\n",
		format.USDValue(s.Totals.ValueUSD), format.USDValue(s.Totals.CostBasisUSD),
		format.USDValue(s.Totals.RealizedPnlUSD), format.USDValue(s.Totals.UnrealizedPnlUSD))
	_ = w.Flush()

	if len(s.Wallets) > 1 {
		fmt.Println()
		w = newTable()
		fmt.Fprintln(w, "Wallet\tValue\tCost\t")
		for _, ws := range s.Wallets {
			fmt.Fprintf(w, "%s\t%s\t%s\t\n", format.ShortAddress(ws.Wallet),
				format.USDValue(ws.TotalValueUSD), format.USDValue(ws.TotalCostBasisUSD))
		}
		_ = w.Flush()
	}

	for _, p := range s.DefiPositions {
		fmt.Printf("\n%s %s on %s: %s\n", p.Protocol, p.PositionType, format.ShortAddress(p.Wallet), format.USD(p.ValueUSD))
	}
}

// renderTransactions lists the newest n rows; transactions are stored newest first
func renderTransactions(rows []models.TransactionRow, n int) {
	if n <= 0 || len(rows) == 0 {
		return
	}
	if len(rows) > n {
		rows = rows[:n]
	}

	fmt.Println()
	w := newTable()
	fmt.Fprintln(w, "Date\tWallet\tType\tAsset\tAmount\tValue\tExplorer\t")
	for _, row := range rows {
		link := format.ExplorerTxURL(row.TxID)
		if link == "" {
			link = row.TxID
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.6f\t%s\t%s\t\n",
			time.Unix(row.Ts, 0).UTC().Format("2006-01-02"), format.ShortAddress(row.Wallet),
			row.TxType, row.AssetName, row.Amount, format.USD(row.ValueUSD), link)
	}
	_ = w.Flush()
}
