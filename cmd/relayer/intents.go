package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"bridge-relayer/internal/models"
	"bridge-relayer/internal/services"

	"github.com/urfave/cli/v2"
)

var intentsCommand = cli.Command{
	Name:  "intents",
	Usage: "inspect and administer intent records",
	Subcommands: []*cli.Command{
		{
			Name:   "list",
			Usage:  "list intent records",
			Flags:  []cli.Flag{StateFlag},
			Action: intentsList,
		},
		{
			Name:      "requeue",
			Usage:     "give an abandoned intent a fresh attempt budget (relayer must be stopped; use the admin API otherwise)",
			ArgsUsage: "<message-id>",
			Action:    intentsRequeue,
		},
	},
}

func intentsList(c *cli.Context) error {
	_, store, err := openOfflineStore(c)
	if err != nil {
		return err
	}
	defer store.Close()

	var records []*models.IntentRecord
	if raw := c.String(StateFlag.Name); raw != "" {
		state, err := models.ParseRelayState(raw)
		if err != nil {
			return err
		}
		records, err = store.ListByState(c.Context, state)
		if err != nil {
			return err
		}
	} else {
		records, err = store.ListPending(c.Context)
		if err != nil {
			return err
		}
	}

	w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MESSAGE ID\tSTATE\tNONCE\tBLOCK\tATTEMPTS\tTX HASH\tLAST ERROR")
	for _, rec := range records {
		nonce := "-"
		if rec.Intent.Nonce != nil {
			nonce = rec.Intent.Nonce.String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			rec.MessageID, rec.State, nonce, rec.SourceBlockNumber, rec.Attempts, orDash(rec.TxHash), orDash(rec.LastError))
	}
	return w.Flush()
}

func intentsRequeue(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("usage: relayer intents requeue <message-id>")
	}
	id, err := models.ParseMessageID(c.Args().First())
	if err != nil {
		return err
	}

	_, store, err := openOfflineStore(c)
	if err != nil {
		return err
	}
	defer store.Close()

	rec, err := services.RequeueIntent(c.Context, store, id, time.Now().UTC())
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "%s requeued (state %s)\n", rec.MessageID, rec.State)
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
