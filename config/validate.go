package config

import (
	"fmt"
	"strings"
)

// MaxBatchSizeLimit caps the configurable MintBatch size.
var MaxBatchSizeLimit = 1000

// Validate rejects configurations the node cannot run with.
func (c *Config) Validate() error {
	if c.ChainID == 0 {
		return fmt.Errorf("chain id must be non-zero")
	}
	if strings.TrimSpace(c.RPCAddress) == "" {
		return fmt.Errorf("rpc address must not be empty")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("data dir must not be empty")
	}
	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log: unknown level %q", c.Log.Level)
	}
	if c.RateLimit.RequestsPerMinute < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("ratelimit: values must not be negative")
	}
	if c.Ledger.MaxBatchSize <= 0 || c.Ledger.MaxBatchSize > MaxBatchSizeLimit {
		return fmt.Errorf("ledger: max batch size must be between 1 and %d", MaxBatchSizeLimit)
	}
	if c.Ledger.ReadRequestMaxTTL <= 0 {
		return fmt.Errorf("ledger: read request ttl must be positive")
	}
	if c.Indexer.Enabled && strings.TrimSpace(c.Indexer.Path) == "" {
		return fmt.Errorf("indexer: path required when enabled")
	}
	if (c.Quota.MaxTxPerEpoch > 0 || c.Quota.MaxMintsPerEpoch > 0) && c.Quota.EpochSeconds == 0 {
		return fmt.Errorf("quota: epoch seconds required when limits are set")
	}
	names := make(map[string]struct{}, len(c.Webhooks))
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.Name) == "" || strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("webhooks[%d]: name and url are required", i)
		}
		if _, dup := names[hook.Name]; dup {
			return fmt.Errorf("webhooks: duplicate name %q", hook.Name)
		}
		names[hook.Name] = struct{}{}
		if hook.RateLimit < 0 {
			return fmt.Errorf("webhooks[%d]: rate limit must not be negative", i)
		}
	}
	if _, err := c.Genesis.Allocations(); err != nil {
		return err
	}
	return nil
}
