package main

import (
	"errors"
	"fmt"
	"sort"

	"bridge-relayer/internal/models"
	"bridge-relayer/internal/repository"

	"github.com/urfave/cli/v2"
)

var checkpointCommand = cli.Command{
	Name:  "checkpoint",
	Usage: "inspect or reset the scan checkpoint",
	Subcommands: []*cli.Command{
		{
			Name:   "show",
			Usage:  "print the checkpoint",
			Action: checkpointShow,
		},
		{
			Name:        "reset",
			Usage:       "move the scan position (relayer must be stopped)",
			Description: "Rescans from --start-block. Observed and confirming records are dropped and rediscovered; later states are kept.",
			Flags:       []cli.Flag{StartBlockFlag, YesFlag},
			Action:      checkpointReset,
		},
	},
}

func checkpointShow(c *cli.Context) error {
	cfg, store, err := openOfflineStore(c)
	if err != nil {
		return err
	}
	defer store.Close()

	cp, err := store.Load(c.Context)
	if errors.Is(err, repository.ErrCheckpointNotFound) {
		fmt.Fprintf(c.App.Writer, "no checkpoint yet; the first run starts at block %d\n", cfg.Source.StartBlock)
		return nil
	}
	if err != nil {
		return err
	}

	w := c.App.Writer
	fmt.Fprintf(w, "source chain:       %d\n", cfg.Source.ChainID)
	fmt.Fprintf(w, "destination chain:  %d\n", cfg.Destination.ChainID)
	fmt.Fprintf(w, "last scanned block: %d\n", cp.LastScannedBlock)
	fmt.Fprintf(w, "pending intents:    %d\n", len(cp.Pending))

	counts := cp.CountByState()
	states := make([]string, 0, len(counts))
	for state := range counts {
		states = append(states, string(state))
	}
	sort.Strings(states)
	for _, state := range states {
		fmt.Fprintf(w, "  %-11s %d\n", state, counts[models.RelayState(state)])
	}
	return nil
}

func checkpointReset(c *cli.Context) error {
	if !c.Bool(YesFlag.Name) {
		return errors.New("checkpoint reset rewinds relay progress; pass --yes to confirm")
	}
	_, store, err := openOfflineStore(c)
	if err != nil {
		return err
	}
	defer store.Close()

	start := c.Uint64(StartBlockFlag.Name)
	if err := store.Reset(c.Context, start); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "checkpoint reset; scanning resumes at block %d\n", start)
	return nil
}
