package compression

import (
	"errors"
	"fmt"
	"strings"
)

// Type how a payload is encoded before it lands in a buffer
type Type byte

const (
	None Type = iota
	Snappy
	Zstd
)

var ErrCorrupted = errors.New("compressed payload is corrupted")

type ICompression interface {
	GetType() Type
	// Compress appends the encoded src to dst[:0]
	Compress(dst, src []byte) ([]byte, error)
	// Decompress decodes compressed into buf, which must be exactly
	// DecompressedLen(compressed) bytes long.
	Decompress(buf, compressed []byte) error
	// DecompressedLen size of compressed once decoded
	DecompressedLen(compressed []byte) (int, error)
}

func NewCompressor(t Type) (ICompression, error) {
	switch t {
	case None:
		return &noopCompressor{}, nil
	case Snappy:
		return &snappyCompressor{}, nil
	case Zstd:
		return &zstdCompressor{level: defaultZstdLevel}, nil
	default:
		return nil, fmt.Errorf("unknown compression type: %d", t)
	}
}

func (t Type) String() string {
	switch t {
	case None:
		return "none"
	case Snappy:
		return "snappy"
	case Zstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", byte(t))
	}
}

// ParseType the inverse of Type.String, case insensitive
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return None, nil
	case "snappy":
		return Snappy, nil
	case "zstd":
		return Zstd, nil
	default:
		return None, fmt.Errorf("unknown compression type: %q", s)
	}
}

type noopCompressor struct{}

func (n *noopCompressor) GetType() Type {
	return None
}

func (n *noopCompressor) Compress(dst, src []byte) ([]byte, error) {
	return append(dst[:0], src...), nil
}

func (n *noopCompressor) Decompress(buf, compressed []byte) error {
	if len(buf) != len(compressed) {
		return fmt.Errorf("%w: none: want %d bytes, got %d", ErrCorrupted, len(buf), len(compressed))
	}
	copy(buf, compressed)
	return nil
}

func (n *noopCompressor) DecompressedLen(compressed []byte) (int, error) {
	return len(compressed), nil
}

var _ ICompression = (*noopCompressor)(nil)
