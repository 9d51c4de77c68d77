// Package config loads service configuration from the environment and
// an optional mixing policy file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/R3E-Network/neomix/services/mixer"
)

// Config is the full service configuration. Connection settings come
// from the environment; the mixing policy comes from an optional YAML
// file merged over defaults.
type Config struct {
	// ListenAddr is the HTTP API bind address.
	ListenAddr string `env:"NEOMIX_LISTEN_ADDR,default=:8080"`

	// RPCURL is the Neo N3 JSON-RPC endpoint.
	RPCURL string `env:"NEOMIX_RPC_URL,required"`

	// NetworkMagic identifies the target network
	// (860833102 mainnet, 894710606 testnet).
	NetworkMagic uint32 `env:"NEOMIX_NETWORK_MAGIC,required"`

	// RPCTimeout bounds individual RPC calls.
	RPCTimeout time.Duration `env:"NEOMIX_RPC_TIMEOUT,default=15s"`

	// SubmitRate caps transaction submissions per second.
	SubmitRate float64 `env:"NEOMIX_SUBMIT_RATE,default=2"`

	// PollInterval is the confirmation polling cadence.
	PollInterval time.Duration `env:"NEOMIX_POLL_INTERVAL,default=3s"`

	// PolicyFile points at the YAML mixing policy. Empty means
	// defaults.
	PolicyFile string `env:"NEOMIX_POLICY_FILE,default="`

	// LogLevel is the minimum level emitted (debug, info, warn, error).
	LogLevel string `env:"NEOMIX_LOG_LEVEL,default=info"`

	// Mixer is the mixing policy, populated from the policy file rather
	// than the environment.
	Mixer mixer.MixerConfig
}

// Load reads the environment (after a best-effort .env load) and the
// policy file, validates everything, and returns the configuration.
func Load() (*Config, error) {
	// Missing .env is fine; real deployments set the environment
	// directly.
	_ = godotenv.Load()

	var cfg Config
	if err := envdecode.StrictDecode(&cfg); err != nil {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	cfg.Mixer = mixer.DefaultConfig()
	if cfg.PolicyFile != "" {
		if err := loadPolicy(cfg.PolicyFile, &cfg.Mixer); err != nil {
			return nil, err
		}
	}
	if err := cfg.Mixer.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mixing policy: %w", err)
	}

	if cfg.SubmitRate <= 0 {
		return nil, fmt.Errorf("NEOMIX_SUBMIT_RATE must be positive")
	}

	return &cfg, nil
}

// policyFile mirrors the mixing policy YAML. Durations are strings
// ("30s", "5m") and every field is optional: absent keys keep their
// defaults.
type policyFile struct {
	MinHops        *int    `yaml:"min_hops"`
	MaxHops        *int    `yaml:"max_hops"`
	MinDelay       *string `yaml:"min_delay"`
	MaxDelay       *string `yaml:"max_delay"`
	MinAmount      *int64  `yaml:"min_amount"`
	FeeReserve     *int64  `yaml:"fee_reserve"`
	ConfirmTimeout *string `yaml:"confirm_timeout"`
	Delegation     *struct {
		Enabled          bool   `yaml:"enabled"`
		ExecutorContract string `yaml:"executor_contract"`
		RecommitInterval string `yaml:"recommit_interval"`
	} `yaml:"delegation"`
}

// loadPolicy merges the YAML policy file over the defaults in cfg.
func loadPolicy(path string, cfg *mixer.MixerConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read policy file: %w", err)
	}

	var pf policyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return fmt.Errorf("parse policy file: %w", err)
	}

	if pf.MinHops != nil {
		cfg.MinHops = *pf.MinHops
	}
	if pf.MaxHops != nil {
		cfg.MaxHops = *pf.MaxHops
	}
	if pf.MinAmount != nil {
		cfg.MinAmount = *pf.MinAmount
	}
	if pf.FeeReserve != nil {
		cfg.FeeReserve = *pf.FeeReserve
	}
	if err := overrideDuration(&cfg.MinDelay, pf.MinDelay, "min_delay"); err != nil {
		return err
	}
	if err := overrideDuration(&cfg.MaxDelay, pf.MaxDelay, "max_delay"); err != nil {
		return err
	}
	if err := overrideDuration(&cfg.ConfirmTimeout, pf.ConfirmTimeout, "confirm_timeout"); err != nil {
		return err
	}
	if pf.Delegation != nil {
		cfg.Delegation.Enabled = pf.Delegation.Enabled
		cfg.Delegation.ExecutorContract = pf.Delegation.ExecutorContract
		if err := overrideDuration(&cfg.Delegation.RecommitInterval, &pf.Delegation.RecommitInterval, "delegation.recommit_interval"); err != nil {
			return err
		}
	}
	return nil
}

func overrideDuration(dst *time.Duration, raw *string, key string) error {
	if raw == nil || *raw == "" {
		return nil
	}
	d, err := time.ParseDuration(*raw)
	if err != nil {
		return fmt.Errorf("parse policy %s: %w", key, err)
	}
	*dst = d
	return nil
}
