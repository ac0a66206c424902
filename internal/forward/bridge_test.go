package forward

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memSink struct {
	frames [][]byte
	err    error
	short  bool
	closed bool
}

func (s *memSink) Write(frame []byte) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	s.frames = append(s.frames, append([]byte(nil), frame...))
	if s.short {
		return len(frame) - 1, nil
	}
	return len(frame), nil
}

func (s *memSink) Close() error {
	s.closed = true
	return nil
}

func TestForwardPrependsHeader(t *testing.T) {
	sink := &memSink{}
	b := NewBridge(sink)

	ip := []byte{0x45, 0x00, 0x00, 0x14, 1, 2, 3, 4}
	require.NoError(t, b.Forward(ip))
	require.Len(t, sink.frames, 1)
	assert.Equal(t, append([]byte{0x00, 0x01, 0x08, 0x00}, ip...), sink.frames[0])

	// the input is never modified, and the scratch buffer is reused
	assert.Equal(t, []byte{0x45, 0x00, 0x00, 0x14, 1, 2, 3, 4}, ip)
	require.NoError(t, b.Forward([]byte{0x60}))
	assert.Equal(t, []byte{0x00, 0x01, 0x08, 0x00, 0x60}, sink.frames[1])
}

func TestForwardErrors(t *testing.T) {
	boom := errors.New("queue full")
	b := NewBridge(&memSink{err: boom})
	assert.ErrorIs(t, b.Forward([]byte{0x45}), boom)

	b = NewBridge(&memSink{short: true})
	assert.ErrorIs(t, b.Forward([]byte{0x45}), io.ErrShortWrite)
}

func TestForwardLargePacket(t *testing.T) {
	sink := &memSink{}
	b := NewBridge(sink)
	ip := make([]byte, 9000)
	for i := range ip {
		ip[i] = byte(i)
	}
	require.NoError(t, b.Forward(ip))
	assert.Equal(t, ip, sink.frames[0][4:])
}

func TestClose(t *testing.T) {
	sink := &memSink{}
	require.NoError(t, NewBridge(sink).Close())
	assert.True(t, sink.closed)

	assert.NoError(t, NewBridge(io.Discard).Close())
}
