package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	RPCAddress string `toml:"RPCAddress"`
	DataDir    string `toml:"DataDir"`
	HistoryDSN string `toml:"HistoryDSN"`
	LogFile    string `toml:"LogFile"`
	Env        string `toml:"Env"`

	PaymentWindowSecs  int64 `toml:"PaymentWindowSecs"`
	EvidenceWindowSecs int64 `toml:"EvidenceWindowSecs"`
	RetentionDays      int64 `toml:"RetentionDays"`

	SweepIntervalSecs int `toml:"SweepIntervalSecs"`
	ExpiryBatch       int `toml:"ExpiryBatch"`
	ArchiveBatch      int `toml:"ArchiveBatch"`

	OpenPerMinute int `toml:"OpenPerMinute"`
	PaidPerMinute int `toml:"PaidPerMinute"`

	// StaticPriceUSD is the 10^6 scaled USD price per token unit served by
	// the built-in pricing stand-in until a quoting service is wired.
	StaticPriceUSD uint64 `toml:"StaticPriceUSD"`

	MaxOrdersPerAccount   int    `toml:"MaxOrdersPerAccount"`
	FirstPurchasePerMaker uint32 `toml:"FirstPurchasePerMaker"`
	FirstPurchaseMinUSD   uint64 `toml:"FirstPurchaseMinUSD"`
	FirstPurchaseMaxUSD   uint64 `toml:"FirstPurchaseMaxUSD"`
}

// Default returns the production defaults.
func Default() *Config {
	return &Config{
		RPCAddress:            ":8080",
		DataDir:               "./otc-data",
		HistoryDSN:            "./otc-data/history.db",
		Env:                   "local",
		PaymentWindowSecs:     30 * 60,
		EvidenceWindowSecs:    24 * 60 * 60,
		RetentionDays:         30,
		SweepIntervalSecs:     60,
		ExpiryBatch:           100,
		ArchiveBatch:          100,
		StaticPriceUSD:        1_000_000,
		OpenPerMinute:         6,
		PaidPerMinute:         12,
		MaxOrdersPerAccount:   64,
		FirstPurchasePerMaker: 5,
		FirstPurchaseMinUSD:   1_000_000,
		FirstPurchaseMaxUSD:   10_000_000,
	}
}

// Load loads the configuration from the given path, creating a default file
// when none exists yet.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.RPCAddress) == "" {
		return fmt.Errorf("RPCAddress must not be empty")
	}
	if c.PaymentWindowSecs <= 0 {
		return fmt.Errorf("PaymentWindowSecs must be positive")
	}
	if c.EvidenceWindowSecs < 0 {
		return fmt.Errorf("EvidenceWindowSecs must not be negative")
	}
	if c.RetentionDays <= 0 {
		return fmt.Errorf("RetentionDays must be positive")
	}
	if c.SweepIntervalSecs <= 0 {
		return fmt.Errorf("SweepIntervalSecs must be positive")
	}
	if c.ExpiryBatch <= 0 || c.ArchiveBatch <= 0 {
		return fmt.Errorf("sweep batch sizes must be positive")
	}
	if c.StaticPriceUSD == 0 {
		return fmt.Errorf("StaticPriceUSD must be positive")
	}
	if c.MaxOrdersPerAccount <= 0 {
		return fmt.Errorf("MaxOrdersPerAccount must be positive")
	}
	if c.FirstPurchaseMaxUSD > 0 && c.FirstPurchaseMinUSD > c.FirstPurchaseMaxUSD {
		return fmt.Errorf("FirstPurchaseMinUSD exceeds FirstPurchaseMaxUSD")
	}
	return nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return toml.NewEncoder(file).Encode(cfg)
}
