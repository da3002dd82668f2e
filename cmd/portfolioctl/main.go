// Command portfolioctl computes portfolio data from the command line without
// the API or any database.
package main

import (
	"context"
	"flag"
	"os"
	"path"

	"github.com/google/subcommands"
)

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")

	commander.Register(&snapshotCmd{}, "")
	commander.Register(&historyCmd{}, "")
	commander.Register(&pricesCmd{}, "")
	commander.Register(&fifoCmd{}, "")

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}
