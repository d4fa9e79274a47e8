package main

import "github.com/urfave/cli/v2"

var (
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "YAML configuration file (defaults to config.local.yaml or config.yaml)",
		EnvVars: []string{"RELAYER_CONFIG"},
	}

	StartBlockFlag = &cli.Uint64Flag{
		Name:     "start-block",
		Usage:    "first source block to scan after the reset",
		Required: true,
	}

	YesFlag = &cli.BoolFlag{
		Name:  "yes",
		Usage: "confirm a destructive operation",
	}

	StateFlag = &cli.StringFlag{
		Name:  "state",
		Usage: "filter by relay state (observed, confirming, confirmed, submitting, completed, rejected, abandoned); empty lists pending",
	}

	JWTSecretFlag = &cli.StringFlag{
		Name:    "secret",
		Usage:   "admin JWT signing secret",
		EnvVars: []string{"ADMIN_JWT_SECRET"},
	}
)
