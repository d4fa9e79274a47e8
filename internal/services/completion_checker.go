package services

import (
	"context"
	"fmt"

	"bridge-relayer/internal/metrics"
	"bridge-relayer/internal/models"

	lru "github.com/hashicorp/golang-lru"
)

// CompletionLedger destination processed(messageId) view
type CompletionLedger interface {
	IsProcessed(ctx context.Context, id models.MessageID) (bool, error)
}

// CompletionChecker answers whether the destination has already executed an intent. Completion is
// monotonic, so positive answers are cached; negative answers always go to the chain.
type CompletionChecker struct {
	ledger    CompletionLedger
	completed *lru.Cache
}

// NewCompletionChecker creates a checker with an LRU of cacheSize positive answers.
func NewCompletionChecker(ledger CompletionLedger, cacheSize int) (*CompletionChecker, error) {
	if cacheSize <= 0 {
		cacheSize = 4096
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create completion cache: %w", err)
	}
	return &CompletionChecker{ledger: ledger, completed: cache}, nil
}

// IsCompleted consults the cache, then the destination ledger.
func (c *CompletionChecker) IsCompleted(ctx context.Context, id models.MessageID) (bool, error) {
	if c.completed.Contains(id) {
		metrics.CompletionChecks.WithLabelValues("cached").Inc()
		return true, nil
	}

	processed, err := c.ledger.IsProcessed(ctx, id)
	if err != nil {
		metrics.CompletionChecks.WithLabelValues("error").Inc()
		return false, fmt.Errorf("%w: completion check for %s: %v", ErrTransient, id, err)
	}
	if processed {
		metrics.CompletionChecks.WithLabelValues("processed").Inc()
		c.completed.Add(id, struct{}{})
		return true, nil
	}
	metrics.CompletionChecks.WithLabelValues("unprocessed").Inc()
	return false, nil
}

// MarkCompleted records a completion proven by a successful receipt.
func (c *CompletionChecker) MarkCompleted(id models.MessageID) {
	c.completed.Add(id, struct{}{})
}
