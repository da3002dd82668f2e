package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/algo-portfolio/internal/app"
	"github.com/algo-portfolio/internal/config"
	"github.com/algo-portfolio/internal/logging"
)

// loadApp builds the ledger and price layers. Logs go to stderr at warn
// level so command output stays readable.
func loadApp() (*app.App, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	logging.InitGlobalLogger(logging.LevelWarn, logging.ParseLogFormat(cfg.Logging.Format))
	logging.GetGlobalLogger().SetOutput(os.Stderr)
	return app.NewLedgerOnly(cfg)
}

// walletArgs accepts addresses as separate arguments or comma lists
func walletArgs(args []string) []string {
	var wallets []string
	for _, arg := range args {
		for _, part := range strings.Split(arg, ",") {
			if part = strings.TrimSpace(part); part != "" {
				wallets = append(wallets, part)
			}
		}
	}
	return wallets
}

func newTable() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
}
