package main

import (
	"context"
	"flag"
	"fmt"
	"sort"

	"github.com/google/subcommands"

	"github.com/algo-portfolio/internal/format"
	"github.com/algo-portfolio/internal/types"
)

type pricesCmd struct{}

func (*pricesCmd) Name() string     { return "prices" }
func (*pricesCmd) Synopsis() string { return "resolve spot USD prices through the provider waterfall" }
func (*pricesCmd) Usage() string {
	return `portfolioctl prices <ALGO|asset-id>...

  Prints each price with the provider tier that answered and its confidence.
`
}

func (*pricesCmd) SetFlags(*flag.FlagSet) {}

func (*pricesCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	var keys []types.AssetKey
	for _, arg := range walletArgs(f.Args()) {
		key, ok := types.ParseAssetKey(arg)
		if !ok {
			fail(fmt.Errorf("unknown asset key %q", arg))
			return subcommands.ExitUsageError
		}
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}

	a, err := loadApp()
	if err != nil {
		fail(err)
		return subcommands.ExitFailure
	}
	quotes := a.Prices.GetSpotPriceQuotes(ctx, keys)

	sorted := make([]types.AssetKey, 0, len(quotes))
	for key := range quotes {
		sorted = append(sorted, key)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	w := newTable()
	fmt.Fprintln(w, "Asset\tPrice\tSource\tConfidence\t")
	for _, key := range sorted {
		q := quotes[key]
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t\n", key, format.USD(q.USD), q.Source, q.Confidence)
	}
	_ = w.Flush()
	return subcommands.ExitSuccess
}
