package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// KioskConfig tunes the donation flow. Values are hot-reloadable so a kiosk
// does not need a restart to pick up a fee-rate change.
type KioskConfig struct {
	FeeRate           float64       `mapstructure:"feeRate"`
	ReaderRetryLimit  int           `mapstructure:"readerRetryLimit"`
	CapturePollPeriod time.Duration `mapstructure:"capturePollPeriod"`
	ResetDelay        time.Duration `mapstructure:"resetDelay"`
	Currency          string        `mapstructure:"currency"`
}

func DefaultKioskConfig() KioskConfig {
	return KioskConfig{
		FeeRate:           0.06,
		ReaderRetryLimit:  3,
		CapturePollPeriod: 3 * time.Second,
		ResetDelay:        6 * time.Second,
		Currency:          "usd",
	}
}

type KioskConfigHolder struct {
	current atomic.Value // holds KioskConfig
}

func NewKioskConfigHolder() (*KioskConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("kiosk")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/givebox/config") // Volume-mounted config
	v.AddConfigPath("/etc/givebox")            // System config
	v.AddConfigPath(".")                       // Current directory (dev mode)

	v.SetEnvPrefix("GIVEBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		// if config file not found, use defaults
		defaults := DefaultKioskConfig()
		v.SetDefault("kiosk.feeRate", defaults.FeeRate)
		v.SetDefault("kiosk.readerRetryLimit", defaults.ReaderRetryLimit)
		v.SetDefault("kiosk.capturePollPeriod", defaults.CapturePollPeriod)
		v.SetDefault("kiosk.resetDelay", defaults.ResetDelay)
		v.SetDefault("kiosk.currency", defaults.Currency)
	}

	var cfg KioskConfig
	if err := v.UnmarshalKey("kiosk", &cfg); err != nil {
		return nil, err
	}
	if err := validateKioskConfig(cfg); err != nil {
		return nil, err
	}

	holder := &KioskConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated KioskConfig
		if err := v.UnmarshalKey("kiosk", &updated); err != nil {
			log.Printf("[kiosk-config] reload failed: %v", err)
			return
		}
		if err := validateKioskConfig(updated); err != nil {
			log.Printf("[kiosk-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[kiosk-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticKioskHolder wraps a fixed config, used by tests.
func NewStaticKioskHolder(cfg KioskConfig) *KioskConfigHolder {
	holder := &KioskConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *KioskConfigHolder) Get() KioskConfig {
	return h.current.Load().(KioskConfig)
}

func validateKioskConfig(cfg KioskConfig) error {
	if cfg.FeeRate < 0 || cfg.FeeRate >= 1 {
		return errors.New("kiosk.feeRate must be in [0, 1)")
	}
	if cfg.ReaderRetryLimit <= 0 {
		return errors.New("kiosk.readerRetryLimit must be positive")
	}
	if cfg.CapturePollPeriod <= 0 {
		return errors.New("kiosk.capturePollPeriod must be positive")
	}
	if cfg.ResetDelay <= 0 {
		return errors.New("kiosk.resetDelay must be positive")
	}
	if strings.TrimSpace(cfg.Currency) == "" {
		return errors.New("kiosk.currency cannot be empty")
	}
	return nil
}
