package clients

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"
)

// ErrChainIDMismatch the endpoint serves a different chain than configured
var ErrChainIDMismatch = errors.New("rpc chain id does not match configuration")

// DialWithFallback tries each endpoint in order and returns the first one that answers eth_chainId
// with the expected chain id. A mismatching endpoint is a configuration error and aborts immediately.
func DialWithFallback(ctx context.Context, name string, endpoints []string, expectedChainID uint64, log *logrus.Entry) (*ethclient.Client, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("no rpc endpoints configured for %s", name)
	}

	var lastErr error
	for i, endpoint := range endpoints {
		fields := logrus.Fields{"network": name, "endpoint": endpoint, "attempt": fmt.Sprintf("%d/%d", i+1, len(endpoints))}

		client, err := ethclient.DialContext(ctx, endpoint)
		if err != nil {
			log.WithFields(fields).WithError(err).Warn("❌ Dial failed")
			lastErr = err
			continue
		}

		checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		chainID, err := client.ChainID(checkCtx)
		cancel()
		if err != nil {
			log.WithFields(fields).WithError(err).Warn("❌ ChainID check failed")
			client.Close()
			lastErr = err
			continue
		}
		if !chainID.IsUint64() || chainID.Uint64() != expectedChainID {
			client.Close()
			return nil, fmt.Errorf("%w: %s endpoint %s reports %s, expected %d", ErrChainIDMismatch, name, endpoint, chainID, expectedChainID)
		}

		log.WithFields(fields).Info("✅ Connection verified")
		return client, nil
	}
	return nil, fmt.Errorf("failed to connect to %s network: %w", name, lastErr)
}
