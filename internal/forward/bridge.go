// Package forward re-injects packets of tagged flows onto the virtual interface.
package forward

import (
	"fmt"
	"io"
)

// LinkHeader is the packet-information header the TUN device expects in
// front of every IP packet: flags 0x0001, protocol 0x0800.
var LinkHeader = [4]byte{0x00, 0x01, 0x08, 0x00}

// defaultBufSize fits a jumbo frame without regrowing.
const defaultBufSize = 65536 + len(LinkHeader)

// Sink accepts one framed packet per Write.
type Sink interface {
	Write(frame []byte) (int, error)
}

// Bridge owns a scratch buffer and is therefore tied to one shard.
type Bridge struct {
	sink Sink
	buf  []byte
}

func NewBridge(sink Sink) *Bridge {
	return &Bridge{sink: sink, buf: make([]byte, 0, defaultBufSize)}
}

// Forward writes LinkHeader followed by ip, unmodified, to the sink.
// The caller decides how to report a failure; nothing is retried.
func (b *Bridge) Forward(ip []byte) error {
	b.buf = append(b.buf[:0], LinkHeader[:]...)
	b.buf = append(b.buf, ip...)

	n, err := b.sink.Write(b.buf)
	if err != nil {
		return fmt.Errorf("forward %d bytes: %w", len(b.buf), err)
	}
	if n != len(b.buf) {
		return io.ErrShortWrite
	}
	return nil
}

// Close closes the sink if it can be closed.
func (b *Bridge) Close() error {
	if c, ok := b.sink.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
