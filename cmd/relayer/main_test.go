package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"bridge-relayer/internal/handlers"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cliApp.Writer = &out
	cliApp.ErrWriter = &out
	err := cliApp.Run(append([]string{"relayer"}, args...))
	return strings.TrimSpace(out.String()), err
}

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
log:
  level: error
database:
  driver: badger
  path: ` + filepath.Join(dir, "data") + `
source:
  chainId: 11155111
  rpcEndpoints: [http://127.0.0.1:1]
  startBlock: 90
destination:
  chainId: 421614
  rpcEndpoints: [http://127.0.0.1:2]
  bridgeAddress: "0xb81A7F4dc018ef56481654B5C1c448D5d71FA2cA"
signer:
  privateKey: "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
trustedSourceBridges:
  11155111: "0x5388887B8b444170B5fd0F22919073579Cc5bFEC"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestMessageIDCommand(t *testing.T) {
	out, err := runCLI(t, "message-id", "--chain", "11155111", "--bridge", "0x5388887B8b444170B5fd0F22919073579Cc5bFEC", "--nonce", "5")
	require.NoError(t, err)
	assert.Len(t, out, 66)
	assert.True(t, strings.HasPrefix(out, "0x"))

	_, err = runCLI(t, "message-id", "--chain", "1", "--bridge", "nope", "--nonce", "5")
	assert.Error(t, err)
	_, err = runCLI(t, "message-id", "--chain", "1", "--bridge", "0x5388887B8b444170B5fd0F22919073579Cc5bFEC", "--nonce", "-1")
	assert.Error(t, err)
}

func TestAdminHashPassword(t *testing.T) {
	out, err := runCLI(t, "admin", "hash-password", "--password", "s3cret")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(out), []byte("s3cret")))
}

func TestAdminToken(t *testing.T) {
	out, err := runCLI(t, "admin", "token", "--secret", "cli-secret", "--username", "ops")
	require.NoError(t, err)

	claims, err := handlers.ValidateAdminToken([]byte("cli-secret"), out)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Username)
}

func TestAdminTOTPRoundTrip(t *testing.T) {
	out, err := runCLI(t, "admin", "totp-secret")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "secret: "))
	secret := strings.TrimSpace(strings.TrimPrefix(strings.SplitN(out, "\n", 2)[0], "secret: "))

	code, err := runCLI(t, "admin", "totp-code", "--totp-secret", secret)
	require.NoError(t, err)
	assert.Len(t, code, 6)
}

func TestCheckpointCommands(t *testing.T) {
	cfgPath := writeTestConfig(t)

	out, err := runCLI(t, "--config", cfgPath, "checkpoint", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "starts at block 90")

	_, err = runCLI(t, "--config", cfgPath, "checkpoint", "reset", "--start-block", "120")
	assert.ErrorContains(t, err, "--yes")

	out, err = runCLI(t, "--config", cfgPath, "checkpoint", "reset", "--start-block", "120", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "block 120")

	out, err = runCLI(t, "--config", cfgPath, "checkpoint", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "last scanned block: 119")
}

func TestIntentsCommands(t *testing.T) {
	cfgPath := writeTestConfig(t)

	out, err := runCLI(t, "--config", cfgPath, "intents", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "MESSAGE ID")

	_, err = runCLI(t, "--config", cfgPath, "intents", "list", "--state", "bogus")
	assert.Error(t, err)

	_, err = runCLI(t, "--config", cfgPath, "intents", "requeue", "0x"+strings.Repeat("ab", 32))
	assert.ErrorContains(t, err, "intent not found")
}
