package storage

import (
	"runtime"

	"github.com/datnguyenzzz/nogodb/lib/go-pooled-bytebuf/compression"
)

var (
	defaultShardNum    = 4 * runtime.GOMAXPROCS(0) // 4 shards per cpu core
	defaultCompression = compression.None
)

type StorageOpt func(s *Storage)

func WithShardNum(shardNum int) StorageOpt {
	return func(s *Storage) {
		s.shardNum = shardNum
	}
}

// WithCompression payloads are encoded with t before being copied into a buffer
func WithCompression(t compression.Type) StorageOpt {
	return func(s *Storage) {
		s.compressionType = t
	}
}
