package config

import "codice/native/common"

// Log controls the structured logger and its optional rotated file sink.
type Log struct {
	Level      string `toml:"Level"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
	Compress   bool   `toml:"Compress"`
}

// RateLimit bounds JSON-RPC requests per client address.
type RateLimit struct {
	RequestsPerMinute float64 `toml:"RequestsPerMinute"`
	Burst             int     `toml:"Burst"`
}

// Telemetry configures Prometheus and the OTLP exporters.
type Telemetry struct {
	Metrics      bool   `toml:"Metrics"`
	Traces       bool   `toml:"Traces"`
	OTLPEndpoint string `toml:"OTLPEndpoint"`
	OTLPHeaders  string `toml:"OTLPHeaders"`
	Insecure     bool   `toml:"Insecure"`
}

// Indexer configures the sqlite provenance read model.
type Indexer struct {
	Enabled bool   `toml:"Enabled"`
	Path    string `toml:"Path"`
}

// Ledger holds certificate ledger limits.
type Ledger struct {
	MaxBatchSize      int   `toml:"MaxBatchSize"`
	ReadRequestMaxTTL int64 `toml:"ReadRequestMaxTTLSeconds"`
}

// Pauses disables mutating transactions for a module.
type Pauses struct {
	Certificate bool `toml:"Certificate"`
	Listing     bool `toml:"Listing"`
}

// IsPaused implements common.PauseView.
func (p Pauses) IsPaused(module string) bool {
	switch module {
	case common.ModuleCertificate:
		return p.Certificate
	case common.ModuleListing:
		return p.Listing
	default:
		return false
	}
}

// Quota defines per-sender limits on certificate transactions.
type Quota struct {
	MaxTxPerEpoch    uint32 `toml:"MaxTxPerEpoch"`
	MaxMintsPerEpoch uint64 `toml:"MaxMintsPerEpoch"`
	EpochSeconds     uint32 `toml:"EpochSeconds"`
}

// Runtime converts the quota into the form enforced by the node.
func (q Quota) Runtime() common.Quota {
	return common.Quota{
		MaxRequestsPerEpoch: q.MaxTxPerEpoch,
		MaxMintsPerEpoch:    q.MaxMintsPerEpoch,
		EpochSeconds:        q.EpochSeconds,
	}
}

// Webhook subscribes an HTTP endpoint to committed events whose type starts
// with one of Events.
type Webhook struct {
	Name      string   `toml:"Name"`
	URL       string   `toml:"URL"`
	Secret    string   `toml:"Secret"`
	Events    []string `toml:"Events"`
	RateLimit int      `toml:"RateLimit"`
}

// GenesisAlloc credits a native balance when the store is first initialised.
type GenesisAlloc struct {
	Address string `toml:"Address"`
	Balance string `toml:"Balance"`
}

type Genesis struct {
	Alloc []GenesisAlloc `toml:"Alloc"`
}
