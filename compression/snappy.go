package compression

import (
	"fmt"

	"github.com/golang/snappy"
)

type snappyCompressor struct{}

func (s *snappyCompressor) GetType() Type {
	return Snappy
}

func (s *snappyCompressor) Compress(dst, src []byte) ([]byte, error) {
	dst = dst[:cap(dst):cap(dst)]
	return snappy.Encode(dst, src), nil
}

func (s *snappyCompressor) Decompress(buf, compressed []byte) error {
	res, err := snappy.Decode(buf, compressed)
	if err != nil {
		return fmt.Errorf("%w: snappy: %w", ErrCorrupted, err)
	}
	if len(res) != len(buf) || (len(res) > 0 && &res[0] != &buf[0]) {
		return fmt.Errorf("%w: snappy: decoded size mismatch", ErrCorrupted)
	}
	return nil
}

func (s *snappyCompressor) DecompressedLen(compressed []byte) (int, error) {
	n, err := snappy.DecodedLen(compressed)
	if err != nil {
		return 0, fmt.Errorf("%w: snappy: %w", ErrCorrupted, err)
	}
	return n, nil
}

var _ ICompression = (*snappyCompressor)(nil)
