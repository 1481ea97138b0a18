package go_pooled_bytebuf

// emptyByteBuf zero capacity buffer that can never be released
type emptyByteBuf struct {
	byteBuf
}

// Empty the buffer returned for every zero capacity allocation
var Empty IByteBuf = newEmptyByteBuf()

func newEmptyByteBuf() *emptyByteBuf {
	b := &emptyByteBuf{}
	b.reset()
	b.memory = []byte{}
	return b
}

func (e *emptyByteBuf) Retain() (IByteBuf, error) {
	return e, nil
}

func (e *emptyByteBuf) Release() (bool, error) {
	return false, nil
}

func (e *emptyByteBuf) String() string {
	return "EmptyByteBuf"
}

var _ IByteBuf = (*emptyByteBuf)(nil)
