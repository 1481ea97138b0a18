//go:build !unix

package memory

// NewSource falls back to the Go heap where anonymous mappings are unavailable.
func NewSource() ISource {
	return NewHeapSource()
}
