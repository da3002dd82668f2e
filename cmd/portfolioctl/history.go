package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"

	"github.com/algo-portfolio/internal/format"
	"github.com/algo-portfolio/internal/service"
)

type historyCmd struct {
	asJSON bool
	last   int
}

func (*historyCmd) Name() string     { return "history" }
func (*historyCmd) Synopsis() string { return "reconstruct the daily value history of wallets" }
func (*historyCmd) Usage() string {
	return `portfolioctl history [-json] [-n days] <address>...

  Computes a fresh snapshot and walks it back day by day using historical
  prices.
`
}

func (c *historyCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.asJSON, "json", false, "print the history as JSON")
	f.IntVar(&c.last, "n", 30, "number of most recent points to print (0 for all)")
}

func (c *historyCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
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

	value := snapshot.Totals.ValueUSD
	points := service.BuildPortfolioHistoryFromTransactions(service.HistoryInput{
		Transactions:   service.HistoryTxsFromRows(snapshot.Transactions),
		LatestValueUSD: &value,
		LatestTS:       snapshot.ComputedAt,
		LatestAssets:   service.LatestAssetsFromSnapshot(snapshot),
	})
	if c.last > 0 && len(points) > c.last {
		points = points[len(points)-c.last:]
	}

	if c.asJSON {
		if err := printJSON(points); err != nil {
			fail(err)
			return subcommands.ExitFailure
		}
		return subcommands.ExitSuccess
	}

	w := newTable()
	fmt.Fprintln(w, "Date\tValue\t")
	for _, p := range points {
		fmt.Fprintf(w, "%s\t%s\t\n", p.TS.UTC().Format("2006-01-02"), format.USDValue(p.ValueUSD))
	}
	_ = w.Flush()
	return subcommands.ExitSuccess
}
