package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/viper"

	go_pooled_bytebuf "github.com/datnguyenzzz/nogodb/lib/go-pooled-bytebuf"
	"github.com/datnguyenzzz/nogodb/lib/go-pooled-bytebuf/compression"
)

const EnvPrefix = "BYTEBUF"

// Loader reads the configuration from defaults, an optional YAML file and
// BYTEBUF_ prefixed environment variables, in increasing order of precedence.
type Loader struct {
	v *viper.Viper
}

func NewLoader() *Loader {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &Loader{v: v}
}

func (l *Loader) Load(path string) (*Config, error) {
	l.setDefaults()

	if path != "" {
		l.v.SetConfigFile(path)
		if err := l.v.ReadInConfig(); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := l.Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func (l *Loader) setDefaults() {
	// Allocator defaults
	l.v.SetDefault("allocator.arena_num", runtime.GOMAXPROCS(0))
	l.v.SetDefault("allocator.page_size", 8*go_pooled_bytebuf.KiB)
	l.v.SetDefault("allocator.max_order", 11)
	l.v.SetDefault("allocator.tiny_cache_size", 512)
	l.v.SetDefault("allocator.small_cache_size", 256)
	l.v.SetDefault("allocator.normal_cache_size", 64)
	l.v.SetDefault("allocator.max_cached_buffer_capacity", 32*go_pooled_bytebuf.KiB)
	l.v.SetDefault("allocator.cache_trim_interval", 8192)
	l.v.SetDefault("allocator.recycler_capacity", 256)
	l.v.SetDefault("allocator.memory_source", MemorySourceMmap)

	// Storage defaults
	l.v.SetDefault("storage.compression", compression.None.String())
	l.v.SetDefault("storage.shard_num", 4*runtime.GOMAXPROCS(0))

	// Logging defaults
	l.v.SetDefault("logging.level", "info")
	l.v.SetDefault("logging.format", "json")

	// Metrics defaults
	l.v.SetDefault("metrics.enabled", true)
	l.v.SetDefault("metrics.address", ":9090")
	l.v.SetDefault("metrics.namespace", "bytebuf")

	// Bench defaults
	l.v.SetDefault("bench.workers", runtime.GOMAXPROCS(0))
	l.v.SetDefault("bench.duration", "10s")
	l.v.SetDefault("bench.min_size", 1)
	l.v.SetDefault("bench.max_size", 64*go_pooled_bytebuf.KiB)
	l.v.SetDefault("bench.live_buffers", 64)
	l.v.SetDefault("bench.storage_every", 16)
}

// Validate checks what the allocator can't check by itself. Allocator sizes are
// validated once more by NewAllocator.
func (l *Loader) Validate(cfg *Config) error {
	switch cfg.Allocator.MemorySource {
	case MemorySourceMmap, MemorySourceHeap:
	default:
		return fmt.Errorf("unsupported allocator.memory_source: %s", cfg.Allocator.MemorySource)
	}
	if cfg.Allocator.ArenaNum < 0 {
		return fmt.Errorf("invalid allocator.arena_num: %d", cfg.Allocator.ArenaNum)
	}

	if _, err := compression.ParseType(cfg.Storage.Compression); err != nil {
		return fmt.Errorf("storage.compression: %w", err)
	}
	if cfg.Storage.ShardNum <= 0 {
		return fmt.Errorf("invalid storage.shard_num: %d", cfg.Storage.ShardNum)
	}

	if _, err := cfg.Logging.ZapLevel(); err != nil {
		return err
	}
	if cfg.Logging.Format != "json" && cfg.Logging.Format != "console" {
		return fmt.Errorf("unsupported logging.format: %s", cfg.Logging.Format)
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Address == "" {
		return errors.New("metrics.address is required when metrics are enabled")
	}

	if cfg.Bench.Workers <= 0 {
		return fmt.Errorf("invalid bench.workers: %d", cfg.Bench.Workers)
	}
	if cfg.Bench.MinSize < 0 || cfg.Bench.MaxSize < cfg.Bench.MinSize {
		return fmt.Errorf("invalid bench sizes: [%d, %d]", cfg.Bench.MinSize, cfg.Bench.MaxSize)
	}
	if cfg.Bench.LiveBuffers < 0 || cfg.Bench.StorageEvery < 0 {
		return errors.New("bench.live_buffers and bench.storage_every must not be negative")
	}
	return nil
}
