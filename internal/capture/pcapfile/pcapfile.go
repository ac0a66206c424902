// Package pcapfile replays a capture file through the same path live frames take.
package pcapfile

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/decoystation/internal/capture"
	"firestige.xyz/decoystation/internal/core"
)

type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// Reader replays classic pcap or pcapng files. Frame timestamps come from the
// file, so flow expiry follows capture time rather than wall time.
type Reader struct {
	path     string
	f        *os.File
	r        packetReader
	received atomic.Uint64
}

var _ capture.Capturer = (*Reader)(nil)

// Open detects the file format and checks that it holds Ethernet frames.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open capture file: %w", err)
	}

	r, err := newPacketReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if lt := r.LinkType(); lt != layers.LinkTypeEthernet {
		f.Close()
		return nil, fmt.Errorf("%s: unsupported link type %s", path, lt)
	}
	return &Reader{path: path, f: f, r: r}, nil
}

func newPacketReader(f *os.File) (packetReader, error) {
	br := bufio.NewReader(f)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, err
	}
	// pcapng section header block
	if magic[0] == 0x0a && magic[1] == 0x0d && magic[2] == 0x0d && magic[3] == 0x0a {
		return pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	}
	return pcapgo.NewReader(br)
}

// Capture feeds every frame to h in file order and returns at end of file.
func (r *Reader) Capture(ctx context.Context, h capture.Handler) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		data, ci, err := r.r.ReadPacketData()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read %s: %w", r.path, err)
		}
		r.received.Add(1)
		h(core.RawPacket{
			Data:       data,
			Timestamp:  ci.Timestamp,
			CaptureLen: uint32(ci.CaptureLength),
			OrigLen:    uint32(ci.Length),
		})
	}
}

// Stats may be read while Capture runs.
func (r *Reader) Stats() capture.Stats {
	return capture.Stats{Received: r.received.Load()}
}

func (r *Reader) Close() error {
	return r.f.Close()
}
