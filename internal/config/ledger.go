package config

import (
	"errors"
	"log"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// LedgerConfig tunes the ledger consistency engine.
type LedgerConfig struct {
	Rebuild RebuildConfig `mapstructure:"rebuild"`
	Lock    LockConfig    `mapstructure:"lock"`
	Write   WriteConfig   `mapstructure:"write"`
}

// RebuildConfig controls how the transaction log is streamed during a rebuild.
type RebuildConfig struct {
	BatchSize int `mapstructure:"batch_size"`
}

// LockConfig controls rebuild serialization.
type LockConfig struct {
	TTL  time.Duration `mapstructure:"ttl"`
	Wait time.Duration `mapstructure:"wait"`
}

// WriteConfig controls retries of the atomic write unit.
type WriteConfig struct {
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

func DefaultLedgerConfig() LedgerConfig {
	return LedgerConfig{
		Rebuild: RebuildConfig{BatchSize: 500},
		Lock: LockConfig{
			TTL:  30 * time.Second,
			Wait: 10 * time.Second,
		},
		Write: WriteConfig{
			MaxRetries:   5,
			RetryBackoff: 20 * time.Millisecond,
		},
	}
}

type LedgerConfigHolder struct {
	current atomic.Value // holds LedgerConfig
}

// NewStaticLedgerConfig returns a holder that never reloads.
func NewStaticLedgerConfig(cfg LedgerConfig) *LedgerConfigHolder {
	holder := &LedgerConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewLedgerConfigHolder(appCfg Config) (*LedgerConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("ledger")
	v.SetConfigType("yml")
	if appCfg.LedgerConfigPath != "" {
		v.AddConfigPath(filepath.Clean(appCfg.LedgerConfigPath))
	}
	v.AddConfigPath("/etc/donorbook")
	v.AddConfigPath(".")

	v.SetEnvPrefix("LEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultLedgerConfig()
	v.SetDefault("rebuild.batch_size", defaults.Rebuild.BatchSize)
	v.SetDefault("lock.ttl", defaults.Lock.TTL)
	v.SetDefault("lock.wait", defaults.Lock.Wait)
	v.SetDefault("write.max_retries", defaults.Write.MaxRetries)
	v.SetDefault("write.retry_backoff", defaults.Write.RetryBackoff)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileLoaded = false
	}

	var cfg LedgerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := validateLedgerConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticLedgerConfig(cfg)
	if !fileLoaded {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated LedgerConfig
		if err := v.Unmarshal(&updated); err != nil {
			log.Printf("[ledger-config] reload failed: %v", err)
			return
		}
		if err := validateLedgerConfig(updated); err != nil {
			log.Printf("[ledger-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[ledger-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// Get returns the active ledger configuration. A nil holder yields the defaults.
func (h *LedgerConfigHolder) Get() LedgerConfig {
	if h == nil {
		return DefaultLedgerConfig()
	}
	cfg, ok := h.current.Load().(LedgerConfig)
	if !ok {
		return DefaultLedgerConfig()
	}
	return cfg
}

func validateLedgerConfig(cfg LedgerConfig) error {
	if cfg.Rebuild.BatchSize <= 0 {
		return errors.New("rebuild.batch_size must be positive")
	}
	if cfg.Lock.TTL <= 0 {
		return errors.New("lock.ttl must be positive")
	}
	if cfg.Lock.Wait < 0 {
		return errors.New("lock.wait cannot be negative")
	}
	if cfg.Write.MaxRetries < 1 {
		return errors.New("write.max_retries must be at least 1")
	}
	return nil
}
