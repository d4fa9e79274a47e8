package main

import (
	"errors"
	"fmt"
	"time"

	"bridge-relayer/internal/handlers"

	"github.com/pquerna/otp/totp"
	"github.com/urfave/cli/v2"
)

var adminCommand = cli.Command{
	Name:  "admin",
	Usage: "admin API credential helpers",
	Subcommands: []*cli.Command{
		{
			Name:  "totp-secret",
			Usage: "generate a TOTP secret for admin.totpSecret",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "account", Value: "admin@relayer", Usage: "account label shown by authenticator apps"},
			},
			Action: adminTOTPSecret,
		},
		{
			Name:  "totp-code",
			Usage: "print the current TOTP code for a secret",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "totp-secret", EnvVars: []string{"ADMIN_TOTP_SECRET"}, Required: true},
			},
			Action: adminTOTPCode,
		},
		{
			Name:  "hash-password",
			Usage: "bcrypt a password for admin.passwordHash",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "password", EnvVars: []string{"ADMIN_PASSWORD"}, Required: true},
			},
			Action: adminHashPassword,
		},
		{
			Name:  "token",
			Usage: "mint an admin JWT without logging in",
			Flags: []cli.Flag{
				JWTSecretFlag,
				&cli.StringFlag{Name: "username", Value: "admin"},
				&cli.DurationFlag{Name: "ttl", Value: time.Hour},
			},
			Action: adminToken,
		},
	},
}

func adminTOTPSecret(c *cli.Context) error {
	key, err := handlers.GenerateTOTPSecret(c.String("account"))
	if err != nil {
		return fmt.Errorf("failed to generate TOTP secret: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "secret: %s\nurl:    %s\n", key.Secret(), key.URL())
	fmt.Fprintln(c.App.Writer, "store the secret in ADMIN_TOTP_SECRET")
	return nil
}

func adminTOTPCode(c *cli.Context) error {
	code, err := totp.GenerateCode(c.String("totp-secret"), time.Now())
	if err != nil {
		return fmt.Errorf("failed to generate TOTP code: %w", err)
	}
	fmt.Fprintln(c.App.Writer, code)
	return nil
}

func adminHashPassword(c *cli.Context) error {
	hash, err := handlers.HashPassword(c.String("password"))
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, hash)
	return nil
}

func adminToken(c *cli.Context) error {
	secret := c.String(JWTSecretFlag.Name)
	if secret == "" {
		// Fall back to the configured secret.
		cfg, _, err := loadRuntime(c)
		if err != nil {
			return fmt.Errorf("no --secret given and config could not be loaded: %w", err)
		}
		secret = cfg.Admin.JWTSecret
	}
	if secret == "" {
		return errors.New("admin JWT secret is not configured")
	}

	token, err := handlers.IssueAdminToken([]byte(secret), c.String("username"), c.Duration("ttl"), time.Now())
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, token)
	return nil
}
