package config

import (
	"fmt"
	"time"

	"go.uber.org/zap/zapcore"

	go_pooled_bytebuf "github.com/datnguyenzzz/nogodb/lib/go-pooled-bytebuf"
	"github.com/datnguyenzzz/nogodb/lib/go-pooled-bytebuf/compression"
	"github.com/datnguyenzzz/nogodb/lib/go-pooled-bytebuf/internal/memory"
	"github.com/datnguyenzzz/nogodb/lib/go-pooled-bytebuf/storage"
)

const (
	MemorySourceMmap = "mmap"
	MemorySourceHeap = "heap"
)

type Config struct {
	Allocator AllocatorConfig `mapstructure:"allocator"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Bench     BenchConfig     `mapstructure:"bench"`
}

type AllocatorConfig struct {
	ArenaNum                int    `mapstructure:"arena_num"`
	PageSize                int    `mapstructure:"page_size"`
	MaxOrder                int    `mapstructure:"max_order"`
	TinyCacheSize           int    `mapstructure:"tiny_cache_size"`
	SmallCacheSize          int    `mapstructure:"small_cache_size"`
	NormalCacheSize         int    `mapstructure:"normal_cache_size"`
	MaxCachedBufferCapacity int    `mapstructure:"max_cached_buffer_capacity"`
	CacheTrimInterval       int    `mapstructure:"cache_trim_interval"`
	RecyclerCapacity        int    `mapstructure:"recycler_capacity"`
	MemorySource            string `mapstructure:"memory_source"`
}

type StorageConfig struct {
	Compression string `mapstructure:"compression"`
	ShardNum    int    `mapstructure:"shard_num"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Address   string `mapstructure:"address"`
	Namespace string `mapstructure:"namespace"`
}

// BenchConfig drives the allocbench workload
type BenchConfig struct {
	Workers  int           `mapstructure:"workers"`
	Duration time.Duration `mapstructure:"duration"`
	MinSize  int           `mapstructure:"min_size"`
	MaxSize  int           `mapstructure:"max_size"`
	// LiveBuffers number of buffers each worker keeps alive at any time
	LiveBuffers int `mapstructure:"live_buffers"`
	// StorageEvery every n-th iteration also goes through the storage
	StorageEvery int `mapstructure:"storage_every"`
}

// Options translates the configuration into allocator options
func (c *AllocatorConfig) Options() []go_pooled_bytebuf.AllocatorOpt {
	opts := []go_pooled_bytebuf.AllocatorOpt{
		go_pooled_bytebuf.WithArenaNum(c.ArenaNum),
		go_pooled_bytebuf.WithPageSize(c.PageSize),
		go_pooled_bytebuf.WithMaxOrder(c.MaxOrder),
		go_pooled_bytebuf.WithTinyCacheSize(c.TinyCacheSize),
		go_pooled_bytebuf.WithSmallCacheSize(c.SmallCacheSize),
		go_pooled_bytebuf.WithNormalCacheSize(c.NormalCacheSize),
		go_pooled_bytebuf.WithMaxCachedBufferCapacity(c.MaxCachedBufferCapacity),
		go_pooled_bytebuf.WithCacheTrimInterval(c.CacheTrimInterval),
		go_pooled_bytebuf.WithRecyclerCapacity(c.RecyclerCapacity),
	}
	if c.MemorySource == MemorySourceHeap {
		opts = append(opts, go_pooled_bytebuf.WithMemorySource(memory.NewHeapSource()))
	}
	return opts
}

func (c *StorageConfig) Options() ([]storage.StorageOpt, error) {
	ct, err := compression.ParseType(c.Compression)
	if err != nil {
		return nil, err
	}
	return []storage.StorageOpt{
		storage.WithCompression(ct),
		storage.WithShardNum(c.ShardNum),
	}, nil
}

func (c *LoggingConfig) ZapLevel() (zapcore.Level, error) {
	lvl, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		return zapcore.InfoLevel, fmt.Errorf("logging.level: %w", err)
	}
	return lvl, nil
}
