// Package config reads process configuration from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/layer-3/fhebridge/internal/eth"
)

const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Config is the bridge process configuration
type Config struct {
	Stage          string
	LogLevel       string
	RPCURL         string            // Wallet RPC endpoint the bridge attaches to
	SandboxChains  map[uint64]string // Chain id -> direct RPC URL of development chains
	DevNodeMarkers []string          // Substrings of web3_clientVersion that identify a dev node
	RelayerURL     string            // Overrides the relayer of the production deployment
	SDKURL         string            // Origin of the production SDK module
	RedisURL       string
	GrantStore     string // memory or redis
	GrantEvents    bool   // Publish grant lifecycle events to redis streams
	HTTPAddr       string
	HTTPTimeout    time.Duration // Timeout of outbound relayer and SDK requests
	SignerKey      string        // Hex private key used to sign grants and transactions

	// MockCoprocessorKey is the hex key that signs mock input proofs. Set it
	// so proofs survive restarts; empty generates one per process.
	MockCoprocessorKey string
}

// Load reads .env files (when present) and then the environment
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a config from a lookup function
func FromEnv(getenv func(string) string) (*Config, error) {
	get := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	cfg := &Config{
		Stage:      get("STAGE", "dev"),
		LogLevel:   get("LOG_LEVEL", "info"),
		RPCURL:     get("RPC_URL", "http://localhost:8545"),
		RelayerURL: get("RELAYER_URL", ""),
		SDKURL:     get("SDK_URL", "https://cdn.zama.ai/relayer-sdk-js/0.1.0/relayer-sdk.wasm"),
		RedisURL:   get("REDIS_URL", "redis://localhost:6379/0"),
		GrantStore: get("GRANT_STORE", StoreMemory),
		HTTPAddr:   get("HTTP_ADDR", "127.0.0.1:9000"),
		SignerKey:  get("SIGNER_KEY", ""),

		MockCoprocessorKey: get("MOCK_COPROCESSOR_KEY", ""),
	}

	chains, err := ParseSandboxChains(get("SANDBOX_CHAINS", "31337=http://localhost:8545"))
	if err != nil {
		return nil, err
	}
	cfg.SandboxChains = chains

	cfg.DevNodeMarkers = splitList(get("DEV_NODE_MARKERS", "hardhat"))

	switch cfg.GrantStore {
	case StoreMemory, StoreRedis:
	default:
		return nil, fmt.Errorf("GRANT_STORE must be %q or %q, got %q", StoreMemory, StoreRedis, cfg.GrantStore)
	}

	if v := get("GRANT_EVENTS", "false"); v != "" {
		cfg.GrantEvents, err = strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid GRANT_EVENTS: %w", err)
		}
	}
	cfg.HTTPTimeout, err = time.ParseDuration(get("HTTP_TIMEOUT", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid HTTP_TIMEOUT: %w", err)
	}

	if cfg.MockCoprocessorKey != "" {
		if _, err := eth.ParseKey(cfg.MockCoprocessorKey); err != nil {
			return nil, fmt.Errorf("invalid MOCK_COPROCESSOR_KEY: %w", err)
		}
	}

	if cfg.GrantEvents && cfg.RedisURL == "" {
		return nil, errors.New("GRANT_EVENTS requires REDIS_URL")
	}

	return cfg, nil
}

// ParseSandboxChains parses "id=url,id=url"
func ParseSandboxChains(s string) (map[uint64]string, error) {
	chains := make(map[uint64]string)
	for _, item := range splitList(s) {
		id, url, ok := strings.Cut(item, "=")
		if !ok || strings.TrimSpace(url) == "" {
			return nil, fmt.Errorf("invalid SANDBOX_CHAINS entry %q, want id=url", item)
		}
		chainID, err := strconv.ParseUint(strings.TrimSpace(id), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid chain id in SANDBOX_CHAINS entry %q: %w", item, err)
		}
		chains[chainID] = strings.TrimSpace(url)
	}
	return chains, nil
}

// SandboxChainIDs returns the configured sandbox chain ids in ascending order
func (c *Config) SandboxChainIDs() []uint64 {
	ids := make([]uint64, 0, len(c.SandboxChains))
	for id := range c.SandboxChains {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
