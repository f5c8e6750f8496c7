package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"codice/crypto"
)

const (
	DefaultRPCAddress   = ":8080"
	DefaultDataDir      = "./codice-data"
	DefaultNetworkName  = "codice-local"
	DefaultChainID      = 1337
	DefaultIndexerPath  = "indexer.db"
	DefaultReadTTL      = 300
	DefaultRequestsRate = 600
)

type Config struct {
	RPCAddress   string `toml:"RPCAddress"`
	DataDir      string `toml:"DataDir"`
	NetworkName  string `toml:"NetworkName"`
	Environment  string `toml:"Environment"`
	ChainID      uint64 `toml:"ChainID"`
	RPCAuthToken string `toml:"RPCAuthToken"`

	Log       Log       `toml:"Log"`
	RateLimit RateLimit `toml:"RateLimit"`
	Telemetry Telemetry `toml:"Telemetry"`
	Indexer   Indexer   `toml:"Indexer"`
	Ledger    Ledger    `toml:"Ledger"`
	Pauses    Pauses    `toml:"Pauses"`
	Quota     Quota     `toml:"Quota"`
	Genesis   Genesis   `toml:"Genesis"`
	Webhooks  []Webhook `toml:"Webhooks"`
}

// Default returns a configuration suitable for a local node.
func Default() *Config {
	return &Config{
		RPCAddress:  DefaultRPCAddress,
		DataDir:     DefaultDataDir,
		NetworkName: DefaultNetworkName,
		ChainID:     DefaultChainID,
		Log:         Log{Level: "info", MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 28},
		RateLimit:   RateLimit{RequestsPerMinute: DefaultRequestsRate, Burst: 60},
		Telemetry:   Telemetry{Metrics: true, OTLPEndpoint: "localhost:4318", Insecure: true},
		Indexer:     Indexer{Enabled: true, Path: DefaultIndexerPath},
		Ledger:      Ledger{MaxBatchSize: 100, ReadRequestMaxTTL: DefaultReadTTL},
		Genesis:     Genesis{Alloc: []GenesisAlloc{}},
	}
}

// Load loads the configuration from the given path. A default file is
// written when none exists.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := Default()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s has unknown key %s", path, undecoded[0].String())
	}

	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = DefaultNetworkName
	}
	if cfg.Genesis.Alloc == nil {
		cfg.Genesis.Alloc = []GenesisAlloc{}
	}
	if cfg.Indexer.Path != "" && !filepath.IsAbs(cfg.Indexer.Path) {
		cfg.Indexer.Path = filepath.Join(cfg.DataDir, cfg.Indexer.Path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	cfg.Indexer.Path = filepath.Join(cfg.DataDir, cfg.Indexer.Path)
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

// Allocations parses the genesis allocations into raw addresses and amounts.
func (g Genesis) Allocations() (map[[20]byte]*big.Int, error) {
	out := make(map[[20]byte]*big.Int, len(g.Alloc))
	for i, alloc := range g.Alloc {
		addr, err := crypto.ParseAddress(alloc.Address)
		if err != nil {
			return nil, fmt.Errorf("genesis alloc %d: %w", i, err)
		}
		amount, err := parseUintAmount(alloc.Balance)
		if err != nil {
			return nil, fmt.Errorf("genesis alloc %d: %w", i, err)
		}
		if existing, ok := out[addr]; ok {
			amount = new(big.Int).Add(existing, amount)
		}
		out[addr] = amount
	}
	return out, nil
}

func parseUintAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return amount, nil
}
