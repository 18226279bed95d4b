package kitedb

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/kitedb/kitedb/internal/bufferpool"
)

type Config struct {
	AppName string `mapstructure:"app_name"`

	Storage struct {
		Workdir   string `mapstructure:"workdir"`
		PoolSize  int    `mapstructure:"pool_size"`
		ReplacerK int    `mapstructure:"replacer_k"`
	} `mapstructure:"storage"`

	Index struct {
		// Zero means "as many entries as fit in a page" for the key width
		// chosen at index creation.
		LeafMaxSize     int `mapstructure:"leaf_max_size"`
		InternalMaxSize int `mapstructure:"internal_max_size"`
	} `mapstructure:"index"`

	Wal struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"wal"`
}

// DefaultConfig fills every knob with a usable value for the given workdir.
func DefaultConfig(workdir string) *Config {
	cfg := &Config{AppName: "kitedb"}
	cfg.Storage.Workdir = workdir
	cfg.Storage.PoolSize = bufferpool.DefaultPoolSize
	cfg.Storage.ReplacerK = bufferpool.DefaultReplacerK
	cfg.Wal.Enabled = true
	return cfg
}

func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.Storage.PoolSize <= 0 {
		cfg.Storage.PoolSize = bufferpool.DefaultPoolSize
	}
	if cfg.Storage.ReplacerK <= 0 {
		cfg.Storage.ReplacerK = bufferpool.DefaultReplacerK
	}
	return &cfg, nil
}
