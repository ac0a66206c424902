// Package afpacket captures frames with AF_PACKET TPACKET_V3.
//
// Every shard opens its own handle and joins one fanout group; the kernel's
// hash fanout keeps all packets of a flow on the same shard.
package afpacket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/afpacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"

	"firestige.xyz/decoystation/internal/capture"
	"firestige.xyz/decoystation/internal/core"
)

const (
	DefaultSnapLen      = 65535
	DefaultRingBufferMB = 64
	DefaultFanoutID     = 42

	pollTimeout = 100 * time.Millisecond
)

// Config configures one capture handle.
type Config struct {
	Interface    string
	BPFFilter    string
	SnapLen      int
	RingBufferMB int
	FanoutID     uint16
	Fanout       bool // join the hash fanout group; required with more than one shard
}

// Capturer owns one TPacket handle. The handle is opened by New and closed
// when Capture returns, never concurrently with a read.
type Capturer struct {
	cfg    Config
	handle *afpacket.TPacket

	received atomic.Uint64
	dropped  atomic.Uint64
}

var _ capture.Capturer = (*Capturer)(nil)

// New opens the handle, joins the fanout group and installs the BPF filter.
func New(cfg Config) (*Capturer, error) {
	if cfg.Interface == "" {
		return nil, fmt.Errorf("%w: capture interface is required", core.ErrConfigInvalid)
	}
	if cfg.SnapLen <= 0 {
		cfg.SnapLen = DefaultSnapLen
	}
	if cfg.RingBufferMB <= 0 {
		cfg.RingBufferMB = DefaultRingBufferMB
	}

	frameSize, blockSize, numBlocks, err := ringGeometry(cfg.RingBufferMB, cfg.SnapLen, os.Getpagesize())
	if err != nil {
		return nil, err
	}

	handle, err := afpacket.NewTPacket(
		afpacket.OptInterface(cfg.Interface),
		afpacket.OptFrameSize(frameSize),
		afpacket.OptBlockSize(blockSize),
		afpacket.OptNumBlocks(numBlocks),
		afpacket.OptPollTimeout(pollTimeout),
		afpacket.OptTPacketVersion(afpacket.TPacketVersion3),
	)
	if err != nil {
		return nil, fmt.Errorf("create TPacket handle on %s: %w", cfg.Interface, err)
	}
	c := &Capturer{cfg: cfg, handle: handle}

	if cfg.Fanout {
		if err := handle.SetFanout(afpacket.FanoutHash, cfg.FanoutID); err != nil {
			handle.Close()
			return nil, fmt.Errorf("join fanout group %d: %w", cfg.FanoutID, err)
		}
	}

	if cfg.BPFFilter != "" {
		if err := c.applyBPFFilter(); err != nil {
			handle.Close()
			return nil, err
		}
	}

	if err := handle.InitSocketStats(); err != nil {
		slog.Warn("failed to init socket stats", "error", err)
	}

	slog.Debug("afpacket handle opened",
		"interface", cfg.Interface,
		"frame_size", frameSize,
		"block_size", blockSize,
		"num_blocks", numBlocks,
		"fanout_id", cfg.FanoutID)
	return c, nil
}

// Capture reads frames with ZeroCopyReadPacketData and hands each one to h
// before reading the next, so the ring slot stays valid for the whole call.
// It returns when ctx is cancelled or the socket fails, and closes the handle
// on the way out.
func (c *Capturer) Capture(ctx context.Context, h capture.Handler) error {
	defer c.close()
	return c.readLoop(ctx, c.handle, h)
}

// packetReader is the read side of *afpacket.TPacket.
type packetReader interface {
	ZeroCopyReadPacketData() ([]byte, gopacket.CaptureInfo, error)
}

func (c *Capturer) readLoop(ctx context.Context, r packetReader, h capture.Handler) error {
	var reads uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		data, ci, err := r.ZeroCopyReadPacketData()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if retryableRead(err) {
				continue
			}
			return fmt.Errorf("read from %s: %w", c.cfg.Interface, err)
		}
		c.received.Add(1)

		h(core.RawPacket{
			Data:       data,
			Timestamp:  ci.Timestamp,
			CaptureLen: uint32(ci.CaptureLength),
			OrigLen:    uint32(ci.Length),
		})

		// socket stats cost a syscall; sample them
		if reads++; reads&0x3FF == 0 {
			c.updateDrops()
		}
	}
}

// retryableRead reports poll timeouts and interrupted polls. Anything else,
// such as POLLERR after the interface went away, ends the capture.
func retryableRead(err error) bool {
	return errors.Is(err, afpacket.ErrTimeout) || errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN)
}

func (c *Capturer) updateDrops() {
	if _, v3, err := c.handle.SocketStats(); err == nil {
		c.dropped.Store(uint64(v3.Drops()))
	}
}

// Stats returns cumulative counters.
func (c *Capturer) Stats() capture.Stats {
	return capture.Stats{
		Received: c.received.Load(),
		Dropped:  c.dropped.Load(),
	}
}

// Close releases a handle that never reached Capture.
func (c *Capturer) Close() error {
	c.close()
	return nil
}

func (c *Capturer) close() {
	if c.handle != nil {
		c.handle.Close()
		c.handle = nil
	}
}

// applyBPFFilter compiles the filter with libpcap and installs the raw
// program on the socket.
func (c *Capturer) applyBPFFilter() error {
	insns, err := pcap.CompileBPFFilter(layers.LinkTypeEthernet, c.cfg.SnapLen, c.cfg.BPFFilter)
	if err != nil {
		return fmt.Errorf("compile BPF filter %q: %w", c.cfg.BPFFilter, err)
	}

	raw := make([]bpf.RawInstruction, len(insns))
	for i, insn := range insns {
		raw[i] = bpf.RawInstruction{Op: insn.Code, Jt: insn.Jt, Jf: insn.Jf, K: insn.K}
	}
	if err := c.handle.SetBPF(raw); err != nil {
		return fmt.Errorf("set BPF: %w", err)
	}
	return nil
}
