package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

var (
	cliApp  = cli.NewApp()
	Version = "0.1.0"
)

func init() {
	cliApp.Name = "relayer"
	cliApp.Usage = "relays source chain BridgeRequest intents to the destination bridge"
	cliApp.Version = Version
	cliApp.EnableBashCompletion = true
	cliApp.Flags = []cli.Flag{ConfigFlag}
	cliApp.Commands = []*cli.Command{
		&runCommand,
		&checkpointCommand,
		&intentsCommand,
		&messageIDCommand,
		&adminCommand,
	}
}

func main() {
	if err := cliApp.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
