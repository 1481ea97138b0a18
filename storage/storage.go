package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/twmb/murmur3"
	"go.uber.org/zap"

	go_pooled_bytebuf "github.com/datnguyenzzz/nogodb/lib/go-pooled-bytebuf"
	"github.com/datnguyenzzz/nogodb/lib/go-pooled-bytebuf/compression"
)

var (
	ErrStorageDestroyed = errors.New("storage has been destroyed")
	ErrUnknownRef       = errors.New("data ref is not tracked by this storage")
)

// Data a serialized value. Type and Schema are opaque to the storage and handed
// back untouched on Get.
type Data struct {
	Type    int32
	Schema  string
	Payload []byte
}

// DataRef points to a payload living in a pooled buffer
type DataRef struct {
	id     uint64
	hash   int32
	buf    go_pooled_bytebuf.IByteBuf
	shard  *shard
	typ    int32
	schema string

	compression compression.Type
}

// Size bytes occupied by the payload in its buffer
func (r *DataRef) Size() int {
	return r.buf.Capacity()
}

// HeapCost rough amount of Go heap retained by the reference itself
func (r *DataRef) HeapCost() int {
	return int(unsafe.Sizeof(*r)) + len(r.schema)
}

// Storage keeps Data in buffers of a shared allocator. It is safe for
// concurrent use as long as the allocator is.
type Storage struct {
	alloc      go_pooled_bytebuf.IAllocator
	compressor compression.ICompression

	shards []*shard
	nextID atomic.Uint64

	destroyed atomic.Bool

	// options
	shardNum        int
	compressionType compression.Type
}

type shard struct {
	mu   sync.Mutex
	refs map[uint64]*DataRef
}

func New(alloc go_pooled_bytebuf.IAllocator, opts ...StorageOpt) (*Storage, error) {
	s := &Storage{
		alloc:           alloc,
		shardNum:        defaultShardNum,
		compressionType: defaultCompression,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.shardNum <= 0 {
		return nil, fmt.Errorf("shardNum: %d (expected: > 0)", s.shardNum)
	}
	compressor, err := compression.NewCompressor(s.compressionType)
	if err != nil {
		return nil, err
	}
	s.compressor = compressor

	s.shards = make([]*shard, s.shardNum)
	for i := range s.shards {
		s.shards[i] = &shard{refs: make(map[uint64]*DataRef)}
	}
	return s, nil
}

func (s *Storage) Put(hash int32, data Data) (*DataRef, error) {
	if s.destroyed.Load() {
		return nil, ErrStorageDestroyed
	}

	payload := data.Payload
	if s.compressionType != compression.None {
		compressed, err := s.compressor.Compress(nil, data.Payload)
		if err != nil {
			return nil, err
		}
		payload = compressed
	}

	buf, err := s.alloc.Allocate(len(payload))
	if err != nil {
		return nil, err
	}
	if err := buf.WriteBytes(payload); err != nil {
		_, _ = buf.Release()
		return nil, err
	}

	ref := &DataRef{
		id:          s.nextID.Add(1),
		hash:        hash,
		buf:         buf,
		typ:         data.Type,
		schema:      data.Schema,
		compression: s.compressionType,
	}
	ref.shard = s.getShard(hash, ref.id)
	if !ref.shard.track(ref, &s.destroyed) {
		// Destroy drained the shards in the meantime
		_, _ = buf.Release()
		return nil, ErrStorageDestroyed
	}
	return ref, nil
}

func (s *Storage) Get(hash int32, ref *DataRef) (Data, error) {
	if s.destroyed.Load() {
		return Data{}, ErrStorageDestroyed
	}

	// pin the buffer for the duration of the copy
	buf, err := ref.buf.Retain()
	if err != nil {
		return Data{}, err
	}
	defer func() {
		if _, err := buf.Release(); err != nil {
			zap.L().Error("failed to unpin data ref", zap.Int32("hash", hash), zap.Error(err))
		}
	}()

	stored := make([]byte, buf.Capacity())
	if err := buf.ReadBytes(stored); err != nil {
		return Data{}, err
	}

	payload := stored
	if ref.compression != compression.None {
		if payload, err = s.decompress(ref.compression, stored); err != nil {
			return Data{}, err
		}
	}

	return Data{Type: ref.typ, Schema: ref.schema, Payload: payload}, nil
}

func (s *Storage) decompress(t compression.Type, stored []byte) ([]byte, error) {
	compressor := s.compressor
	if compressor.GetType() != t {
		var err error
		if compressor, err = compression.NewCompressor(t); err != nil {
			return nil, err
		}
	}

	n, err := compressor.DecompressedLen(stored)
	if err != nil {
		return nil, err
	}
	payload := make([]byte, n)
	if err := compressor.Decompress(payload, stored); err != nil {
		return nil, err
	}
	return payload, nil
}

func (s *Storage) Remove(hash int32, ref *DataRef) error {
	if s.destroyed.Load() {
		return ErrStorageDestroyed
	}
	if s.getShard(ref.hash, ref.id) != ref.shard || !ref.shard.untrack(ref) {
		return fmt.Errorf("%w: hash: %d", ErrUnknownRef, hash)
	}
	_, err := ref.buf.Release()
	return err
}

// Destroy releases every payload still stored
func (s *Storage) Destroy() error {
	if !s.destroyed.CompareAndSwap(false, true) {
		return ErrStorageDestroyed
	}

	var errs []error
	released := 0
	for _, sh := range s.shards {
		for _, ref := range sh.drain() {
			if _, err := ref.buf.Release(); err != nil {
				errs = append(errs, err)
				continue
			}
			released++
		}
	}

	zap.L().Debug("storage destroyed", zap.Int("released", released), zap.Int("errors", len(errs)))
	return errors.Join(errs...)
}

// Len number of payloads currently stored
func (s *Storage) Len() int {
	total := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		total += len(sh.refs)
		sh.mu.Unlock()
	}
	return total
}

func (s *Storage) getShard(hash int32, id uint64) *shard {
	return s.shards[murmur32(uint64(uint32(hash)), id)%uint32(len(s.shards))]
}

// track reports false once the storage is destroyed. Destroy flips the flag
// before draining, so a ref is either drained or rejected here.
func (sh *shard) track(ref *DataRef, destroyed *atomic.Bool) bool {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if destroyed.Load() {
		return false
	}
	sh.refs[ref.id] = ref
	return true
}

func (sh *shard) untrack(ref *DataRef) bool {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if tracked, ok := sh.refs[ref.id]; !ok || tracked != ref {
		return false
	}
	delete(sh.refs, ref.id)
	return true
}

func (sh *shard) drain() []*DataRef {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	refs := make([]*DataRef, 0, len(sh.refs))
	for _, ref := range sh.refs {
		refs = append(refs, ref)
	}
	clear(sh.refs)
	return refs
}

func murmur32(ns, key uint64) uint32 {
	buf := make([]byte, 16)

	binary.LittleEndian.PutUint64(buf[0:8], ns)
	binary.LittleEndian.PutUint64(buf[8:16], key)

	return murmur3.Sum32(buf)
}
