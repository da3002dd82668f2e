package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/google/subcommands"

	"github.com/algo-portfolio/internal/format"
	"github.com/algo-portfolio/internal/service"
	"github.com/algo-portfolio/internal/types"
)

type fifoCmd struct{}

func (*fifoCmd) Name() string     { return "fifo" }
func (*fifoCmd) Synopsis() string { return "run FIFO lot accounting over a JSON event file" }
func (*fifoCmd) Usage() string {
	return `portfolioctl fifo <events.json>

  Reads an array of lot events ({"txId","ts","assetKey","side","amount",
  "unitPriceUsd","feeUsd"}) and prints the remaining cost and realized PnL
  per asset.
`
}

func (*fifoCmd) SetFlags(*flag.FlagSet) {}

func (*fifoCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}

	raw, err := os.ReadFile(f.Arg(0))
	if err != nil {
		fail(err)
		return subcommands.ExitFailure
	}
	var events []types.LotEvent
	if err := json.Unmarshal(raw, &events); err != nil {
		fail(fmt.Errorf("parsing events: %w", err))
		return subcommands.ExitFailure
	}

	summaries := service.RunFIFO(events)
	keys := make([]types.AssetKey, 0, len(summaries))
	for key := range summaries {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	w := newTable()
	fmt.Fprintln(w, "Asset\tRemaining\tCost\tRealized\tUnmatched sell\tGaps\t")
	for _, key := range keys {
		s := summaries[key]
		fmt.Fprintf(w, "%s\t%.6f\t%s\t%s\t%.6f\t%v\t\n", key, s.RemainingQty,
			format.USDValue(s.RemainingCostUSD), format.USDValue(s.RealizedPnlUSD), s.UnmatchedSellQty, s.HasPriceGaps)
	}
	_ = w.Flush()
	return subcommands.ExitSuccess
}
