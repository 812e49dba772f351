package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
)

const (
	envSharedSecret = "YIELDD_SHARED_SECRET"
	envSignerKey    = "YIELDD_SIGNER_KEY"

	defaultListen             = "0.0.0.0:8546"
	defaultSharedSecretHeader = "X-Xsauce-Shared-Secret"
	defaultRateLimitPerMin    = 120
	defaultReceiptWaitSeconds = 90
)

// Config captures the runtime settings for yieldd. Secrets (shared secret,
// signer key) are supplied through the environment, never the file.
type Config struct {
	Listen             string    `toml:"listen"`
	Env                string    `toml:"env"`
	DataDir            string    `toml:"data_dir"`
	RPCURL             string    `toml:"rpc_url"`
	ChainID            int64     `toml:"chain_id"`
	ReferralCode       uint16    `toml:"referral_code"`
	ReceiptWaitSeconds int       `toml:"receipt_wait_seconds"`
	RateLimitPerMin    int       `toml:"rate_limit_per_min"`
	SharedSecretHeader string    `toml:"shared_secret_header"`
	PausedModules      []string  `toml:"paused_modules"`
	Addresses          Addresses `toml:"addresses"`
	Log                LogConfig `toml:"log"`

	SharedSecretValue string `toml:"-"`
	SignerKeyHex      string `toml:"-"`
}

// Addresses pins the on-chain collaborator set.
type Addresses struct {
	Market       string `toml:"market"`
	Treasury     string `toml:"treasury"`
	PaymentToken string `toml:"payment_token"`
	ReceiptToken string `toml:"receipt_token"`
	PoolRegistry string `toml:"pool_registry"`
	Incentives   string `toml:"incentives"`
}

// LogConfig controls the optional rotating file sink.
type LogConfig struct {
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
}

// LoadConfig reads the TOML file at path and merges environment-supplied
// secrets and defaults.
func LoadConfig(path string) (Config, error) {
	cfg := Config{
		Listen:             defaultListen,
		SharedSecretHeader: defaultSharedSecretHeader,
		RateLimitPerMin:    defaultRateLimitPerMin,
		ReceiptWaitSeconds: defaultReceiptWaitSeconds,
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("yieldd: decode config %s: %w", path, err)
	}
	cfg.SharedSecretValue = strings.TrimSpace(os.Getenv(envSharedSecret))
	cfg.SignerKeyHex = strings.TrimSpace(os.Getenv(envSignerKey))
	return cfg, nil
}

// Sanitized returns a copy with secrets masked for logging.
func (cfg Config) Sanitized() Config {
	clone := cfg
	if clone.SharedSecretValue != "" {
		clone.SharedSecretValue = maskSecret(clone.SharedSecretValue)
	}
	if clone.SignerKeyHex != "" {
		clone.SignerKeyHex = maskSecret(clone.SignerKeyHex)
	}
	return clone
}

// Validate ensures the configuration is internally consistent.
func (cfg Config) Validate() error {
	if strings.TrimSpace(cfg.Listen) == "" {
		return fmt.Errorf("yieldd: listen address required")
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		return fmt.Errorf("yieldd: data_dir required")
	}
	if strings.TrimSpace(cfg.RPCURL) == "" {
		return fmt.Errorf("yieldd: rpc_url required")
	}
	if cfg.ChainID <= 0 {
		return fmt.Errorf("yieldd: chain_id must be positive")
	}
	if cfg.SharedSecretValue == "" {
		return fmt.Errorf("yieldd: %s must be set", envSharedSecret)
	}
	if cfg.SignerKeyHex == "" {
		return fmt.Errorf("yieldd: %s must be set", envSignerKey)
	}
	addrs := []struct {
		name  string
		value string
	}{
		{"addresses.market", cfg.Addresses.Market},
		{"addresses.treasury", cfg.Addresses.Treasury},
		{"addresses.payment_token", cfg.Addresses.PaymentToken},
		{"addresses.receipt_token", cfg.Addresses.ReceiptToken},
		{"addresses.pool_registry", cfg.Addresses.PoolRegistry},
		{"addresses.incentives", cfg.Addresses.Incentives},
	}
	for _, a := range addrs {
		if !common.IsHexAddress(strings.TrimSpace(a.value)) {
			return fmt.Errorf("yieldd: %s must be a hex address", a.name)
		}
	}
	return nil
}

func maskSecret(secret string) string {
	if len(secret) <= 4 {
		return "****"
	}
	return secret[:2] + strings.Repeat("*", len(secret)-4) + secret[len(secret)-2:]
}
