package compression

import (
	"encoding/binary"
	"fmt"

	"github.com/DataDog/zstd"
)

const defaultZstdLevel = 3

// zstdCompressor frames are prefixed with the uvarint encoded decompressed size
type zstdCompressor struct {
	level int
}

func (z *zstdCompressor) GetType() Type {
	return Zstd
}

func (z *zstdCompressor) Compress(dst, src []byte) ([]byte, error) {
	bound := zstd.CompressBound(len(src))
	if cap(dst) < binary.MaxVarintLen64+bound {
		dst = make([]byte, binary.MaxVarintLen64+bound)
	}
	dst = dst[:cap(dst)]

	varIntLen := binary.PutUvarint(dst, uint64(len(src)))
	result, err := zstd.NewCtx().CompressLevel(dst[varIntLen:varIntLen+bound], src, z.level)
	if err != nil {
		return nil, fmt.Errorf("zstd: compress %d bytes: %w", len(src), err)
	}
	if len(result) > 0 && &result[0] != &dst[varIntLen] {
		// the library gave up on our buffer, move the frame in place
		copy(dst[varIntLen:], result)
	}
	return dst[:varIntLen+len(result)], nil
}

func (z *zstdCompressor) Decompress(buf, compressed []byte) error {
	decodedLen, prefixLen := binary.Uvarint(compressed)
	if prefixLen <= 0 {
		return fmt.Errorf("%w: zstd: missing size prefix", ErrCorrupted)
	}
	if int(decodedLen) != len(buf) {
		return fmt.Errorf("%w: zstd: want %d bytes, buffer has %d", ErrCorrupted, decodedLen, len(buf))
	}
	if len(buf) == 0 {
		return nil
	}

	n, err := zstd.NewCtx().DecompressInto(buf, compressed[prefixLen:])
	if err != nil {
		return fmt.Errorf("%w: zstd: %w", ErrCorrupted, err)
	}
	if n != len(buf) {
		return fmt.Errorf("%w: zstd: decoded %d bytes, want %d", ErrCorrupted, n, len(buf))
	}
	return nil
}

func (z *zstdCompressor) DecompressedLen(compressed []byte) (int, error) {
	decodedLen, varIntLen := binary.Uvarint(compressed)
	if varIntLen <= 0 {
		return 0, fmt.Errorf("%w: zstd: missing size prefix", ErrCorrupted)
	}
	return int(decodedLen), nil
}

var _ ICompression = (*zstdCompressor)(nil)
