package main

import (
	"fmt"
	"math/big"

	"bridge-relayer/internal/utils"

	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli/v2"
)

var messageIDCommand = cli.Command{
	Name:  "message-id",
	Usage: "print the message id of a source intent",
	Flags: []cli.Flag{
		&cli.Uint64Flag{Name: "chain", Usage: "source chain id", Required: true},
		&cli.StringFlag{Name: "bridge", Usage: "source bridge address", Required: true},
		&cli.StringFlag{Name: "nonce", Usage: "intent nonce (decimal)", Required: true},
	},
	Action: messageID,
}

func messageID(c *cli.Context) error {
	bridge := c.String("bridge")
	if !common.IsHexAddress(bridge) {
		return fmt.Errorf("invalid bridge address %q", bridge)
	}
	nonce, ok := new(big.Int).SetString(c.String("nonce"), 10)
	if !ok || nonce.Sign() < 0 {
		return fmt.Errorf("invalid nonce %q", c.String("nonce"))
	}

	id := utils.DeriveMessageID(c.Uint64("chain"), common.HexToAddress(bridge), nonce)
	fmt.Fprintln(c.App.Writer, id.Hex())
	return nil
}
