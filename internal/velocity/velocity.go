// Package velocity provides trailing-window transaction counts.
package velocity

import (
	"context"
	"fmt"
	"time"

	"github.com/streamgift/kestrel/internal/domain"
)

// Service counts a sender's recent transactions for the frequency and
// smurfing rules. Counts are always read from the store, never a cache: the
// evaluator holds the per-user lock while counting, so the result reflects
// every committed transaction for that user.
type Service struct {
	store domain.Store
}

// NewService creates a new velocity service.
func NewService(store domain.Store) *Service {
	return &Service{store: store}
}

// CountSince returns the number of transactions the user created in the
// trailing window ending now. The lower bound is inclusive.
func (s *Service) CountSince(ctx context.Context, userID string, window time.Duration) (int, error) {
	if userID == "" {
		return 0, fmt.Errorf("userID is required")
	}
	if window <= 0 {
		return 0, fmt.Errorf("window must be positive")
	}

	since := time.Now().UTC().Add(-window)
	txs, err := s.store.ListTransactionsSince(ctx, userID, since)
	if err != nil {
		return 0, fmt.Errorf("failed to list transactions: %w", err)
	}
	return len(txs), nil
}
