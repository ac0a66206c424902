package core

import "time"

// RawPacket is one captured Ethernet frame, zero-copy reference to the capture ring.
// Data is only valid for the duration of the call it is handed to.
type RawPacket struct {
	Data       []byte    // Raw frame data, zero-copy slice
	Timestamp  time.Time // Capture timestamp (kernel timestamp preferred)
	CaptureLen uint32    // Actual captured length
	OrigLen    uint32    // Original frame length
}
