package ros

import "bytes"

// Reader is the byte cursor a generated Message.Deserialize implementation
// reads primitive fields from. It is a thin wrapper over bytes.Reader so
// TypeDescriptor implementations never need to import this package's
// internals, only this exported type.
type Reader struct {
	*bytes.Reader
}

// NewReader wraps a raw TCPROS payload for deserialization.
func NewReader(b []byte) *Reader {
	return &Reader{Reader: bytes.NewReader(b)}
}
