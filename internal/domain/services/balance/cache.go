// Package balance holds the read-through facts cache and the reservation
// manager that together guard spending against the on-chain ground truth.
package balance

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/castarena/castarena_service/internal/adapters/chain"
	"github.com/castarena/castarena_service/internal/domain/entities"
	"github.com/castarena/castarena_service/pkg/logger"
)

// FetchSource tags where a facts lookup was answered from.
type FetchSource string

const (
	// SourceCache means a fresh cached entry was returned
	SourceCache FetchSource = "cache"
	// SourceRPC means the entry was fetched because of a miss or TTL expiry
	SourceRPC FetchSource = "rpc"
	// SourceRPCForced means a TTL-valid entry was overridden as implausible
	SourceRPCForced FetchSource = "rpc_forced"
)

// CacheConfig holds facts cache tuning
type CacheConfig struct {
	UserTTL            time.Duration
	CommonTTL          time.Duration
	SuspicionWindow    time.Duration
	SuspicionThreshold decimal.Decimal
}

// FactsCache is a read-through, memory-only cache over the chain reader.
// Entries expire on TTL, and a TTL-valid balance is still refetched when it
// looks implausibly near zero right after a recorded top-up.
type FactsCache struct {
	reader chain.Reader
	config CacheConfig
	logger *logger.Logger

	mu     sync.Mutex
	users  map[string]*entities.BalanceFacts
	common *entities.CommonFacts
	topUps map[string]time.Time

	now func() time.Time
}

// NewFactsCache creates a facts cache backed by the given chain reader.
func NewFactsCache(reader chain.Reader, config CacheConfig, logger *logger.Logger) *FactsCache {
	return &FactsCache{
		reader: reader,
		config: config,
		logger: logger,
		users:  make(map[string]*entities.BalanceFacts),
		topUps: make(map[string]time.Time),
		now:    time.Now,
	}
}

// GetUserFacts returns balance facts for an address, from cache when fresh
// and plausible, otherwise refetched from the chain.
func (c *FactsCache) GetUserFacts(ctx context.Context, address string) (*entities.BalanceFacts, FetchSource, error) {
	c.mu.Lock()
	entry, ok := c.users[address]
	now := c.now()

	source := SourceRPC
	if ok && now.Sub(entry.LastUpdated) < c.config.UserTTL {
		if !c.implausibleLocked(address, entry, now) {
			c.mu.Unlock()
			return entry, SourceCache, nil
		}
		// TTL-valid but implausible after a top-up; drop it and refetch
		delete(c.users, address)
		source = SourceRPCForced
		c.logger.Info("Cached balance implausible after top-up, forcing refresh",
			"address", address,
			"cached_balance", entry.Balance.String())
	}
	c.mu.Unlock()

	facts, err := c.reader.FetchBalanceFacts(ctx, address)
	if err != nil {
		return nil, source, err
	}

	// HasSufficientBalance is derived against the current cast cost, so a
	// stale common record never inflates it.
	if common, _, cerr := c.GetCommonFacts(ctx); cerr == nil {
		facts.HasSufficientBalance = facts.Balance.GreaterThanOrEqual(common.CastCost)
	}

	c.mu.Lock()
	c.users[address] = facts
	c.mu.Unlock()

	return facts, source, nil
}

// GetCommonFacts returns the global game record, cached on a coarser TTL.
func (c *FactsCache) GetCommonFacts(ctx context.Context) (*entities.CommonFacts, FetchSource, error) {
	c.mu.Lock()
	if c.common != nil && c.now().Sub(c.common.LastUpdated) < c.config.CommonTTL {
		common := c.common
		c.mu.Unlock()
		return common, SourceCache, nil
	}
	c.mu.Unlock()

	common, err := c.reader.FetchCommonFacts(ctx)
	if err != nil {
		return nil, SourceRPC, err
	}

	c.mu.Lock()
	c.common = common
	c.mu.Unlock()

	return common, SourceRPC, nil
}

// Invalidate drops the cached entry for an address.
func (c *FactsCache) Invalidate(address string) {
	c.mu.Lock()
	delete(c.users, address)
	c.mu.Unlock()
}

// RecordTopUp marks that the address funded its balance. For the suspicion
// window that follows, a cached near-zero balance is treated as stale.
func (c *FactsCache) RecordTopUp(address string) {
	c.mu.Lock()
	c.topUps[address] = c.now()
	c.mu.Unlock()
}

func (c *FactsCache) implausibleLocked(address string, entry *entities.BalanceFacts, now time.Time) bool {
	topUp, ok := c.topUps[address]
	if !ok || now.Sub(topUp) > c.config.SuspicionWindow {
		return false
	}
	return entry.Balance.LessThan(c.config.SuspicionThreshold)
}
