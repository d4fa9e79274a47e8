package services

import "errors"

var (
	// ErrSourceUnavailable source RPC retries exhausted for this cycle; the checkpoint is not advanced
	ErrSourceUnavailable = errors.New("source chain unavailable")
	// ErrTransient retryable destination failure (timeouts, underpriced or nonce-conflicted transactions)
	ErrTransient = errors.New("transient failure")
	// ErrAmbiguousOutcome broadcast happened but no receipt arrived in time
	ErrAmbiguousOutcome = errors.New("submission outcome unknown")

	// ErrInvalidIntent intent can never be relayed by this instance
	ErrInvalidIntent = errors.New("invalid intent")
	// ErrWrongDestination intent targets a chain other than the configured destination
	ErrWrongDestination = errors.New("wrong destination chain")
	// ErrUntrustedSource intent was not emitted by the trusted bridge for its source chain
	ErrUntrustedSource = errors.New("untrusted source bridge")

	// ErrRelayNotRunning online requeue needs the relay loop
	ErrRelayNotRunning = errors.New("relay loop is not running")
)
