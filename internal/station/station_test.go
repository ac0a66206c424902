package station

import (
	"context"
	"errors"
	"math/rand"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"firestige.xyz/decoystation/internal/capture"
	"firestige.xyz/decoystation/internal/core"
	"firestige.xyz/decoystation/internal/detector"
	"firestige.xyz/decoystation/internal/flow"
	"firestige.xyz/decoystation/internal/forward"
	"firestige.xyz/decoystation/internal/notify"
	"firestige.xyz/decoystation/internal/pkttest"
	"firestige.xyz/decoystation/internal/selector"
	"firestige.xyz/decoystation/internal/tag"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type sink struct {
	frames [][]byte
	err    error
	closed bool
}

func (s *sink) Write(b []byte) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	s.frames = append(s.frames, append([]byte(nil), b...))
	return len(b), nil
}

func (s *sink) Close() error {
	s.closed = true
	return nil
}

type recorder struct {
	mu   sync.Mutex
	msgs [][]byte
}

func (r *recorder) Publish(msg []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, append([]byte(nil), msg...))
	return nil
}

func (r *recorder) Close() error { return nil }

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

var (
	clientIP = netip.MustParseAddr("10.20.30.40")
	serverIP = netip.MustParseAddr("203.0.113.80")
	seed     = [16]byte{0xde, 0xc0, 0xde, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13}
	epoch    = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
)

type fixture struct {
	shard  *Shard
	sink   *sink
	notes  *recorder
	key    *tag.PrivateKey
	sel    *selector.Selector
	decoy  netip.Addr
	record []byte
}

func newFixture(t *testing.T, fc flow.Config) *fixture {
	t.Helper()

	rng := rand.New(rand.NewSource(7))
	key, err := tag.GenerateKey(rng)
	require.NoError(t, err)
	sel, err := selector.New(selector.DefaultRanges)
	require.NoError(t, err)
	decoy, err := sel.Select(seed)
	require.NoError(t, err)
	record, err := tag.NewEncoder(key.Public(), rng).Encode(seed, 0, 256)
	require.NoError(t, err)

	fx := &fixture{sink: &sink{}, notes: &recorder{}, key: key, sel: sel, decoy: decoy, record: record}
	fx.shard = NewShard(ShardConfig{
		ID:       0,
		Flow:     fc,
		Detector: detector.New(detector.Config{Key: key, Selector: sel, Notifier: fx.notes}),
		Bridge:   forward.NewBridge(fx.sink),
	})
	return fx
}

func (fx *fixture) feed(t *testing.T, at time.Duration, seg pkttest.TCP) []byte {
	t.Helper()
	frame := pkttest.Frame(t, seg)
	fx.shard.ProcessFrame(core.RawPacket{Data: frame, Timestamp: epoch.Add(at)})
	return frame
}

func toServer(srcPort uint16) pkttest.TCP {
	return pkttest.TCP{Src: clientIP, Dst: serverIP, SrcPort: srcPort, DstPort: flow.TLSPort}
}

func syn(port uint16) pkttest.TCP {
	s := toServer(port)
	s.SYN = true
	return s
}

func appData(port uint16, payload []byte) pkttest.TCP {
	s := toServer(port)
	s.ACK, s.PSH = true, true
	s.Payload = payload
	return s
}

func toDecoy(fx *fixture, port uint16) pkttest.TCP {
	return pkttest.TCP{Src: clientIP, Dst: fx.decoy, SrcPort: port, DstPort: flow.TLSPort, ACK: true}
}

func TestSYNStartsAndTeardownEndsTracking(t *testing.T) {
	for _, teardown := range []pkttest.TCP{{RST: true}, {FIN: true, ACK: true}} {
		fx := newFixture(t, flow.Config{})
		fx.feed(t, 0, syn(40000))

		f := core.Flow{SrcIP: clientIP, DstIP: serverIP, SrcPort: 40000, DstPort: flow.TLSPort}
		assert.True(t, fx.shard.tracker.IsTracked(f, epoch))

		td := toServer(40000)
		td.RST, td.FIN, td.ACK = teardown.RST, teardown.FIN, teardown.ACK
		fx.feed(t, time.Millisecond, td)
		assert.False(t, fx.shard.tracker.IsTracked(f, epoch))

		// app data after teardown is never examined
		fx.feed(t, 2*time.Millisecond, appData(40000, fx.record))
		assert.Zero(t, fx.shard.Counters().DecodeAttempts.Load())
	}
}

func TestSYNACKDoesNotStartTracking(t *testing.T) {
	fx := newFixture(t, flow.Config{})
	s := syn(40000)
	s.ACK = true
	fx.feed(t, 0, s)
	fx.feed(t, time.Millisecond, appData(40000, fx.record))

	snap := fx.shard.Counters().Drain()
	assert.Zero(t, snap.SYNs)
	assert.Zero(t, snap.DecodeAttempts)
}

func TestUntrackedAppDataIgnored(t *testing.T) {
	fx := newFixture(t, flow.Config{})
	fx.feed(t, 0, appData(40000, fx.record))

	assert.Zero(t, fx.shard.Counters().DecodeAttempts.Load())
	assert.Zero(t, fx.notes.count())
}

func TestOneDecodeAttemptPerFlow(t *testing.T) {
	fx := newFixture(t, flow.Config{})
	junk := append([]byte{0x17, 3, 3, 0, 200}, make([]byte, 200)...)

	fx.feed(t, 0, syn(40000))
	fx.feed(t, time.Millisecond, appData(40000, junk))
	// a real tag after the first record is too late
	fx.feed(t, 2*time.Millisecond, appData(40000, fx.record))

	snap := fx.shard.Counters().Drain()
	assert.Equal(t, uint64(1), snap.DecodeAttempts)
	assert.Zero(t, snap.Tags)
	assert.Zero(t, fx.notes.count())
}

func TestNonAppDataKeepsFlowPending(t *testing.T) {
	fx := newFixture(t, flow.Config{})
	handshake := append([]byte{0x16, 3, 1, 0, 100}, make([]byte, 100)...)

	fx.feed(t, 0, syn(40000))
	fx.feed(t, time.Millisecond, appData(40000, handshake))
	fx.feed(t, 2*time.Millisecond, appData(40000, fx.record))

	snap := fx.shard.Counters().Drain()
	assert.Equal(t, uint64(1), snap.DecodeAttempts)
	assert.Equal(t, uint64(1), snap.Tags)
}

func TestHandshakeTrafficKeepsFlowPending(t *testing.T) {
	fx := newFixture(t, flow.Config{PendingTimeout: 10 * time.Second})
	handshake := append([]byte{0x16, 3, 1, 0, 100}, make([]byte, 100)...)

	// each record arrives before the previous one would have expired,
	// but the last one is well past a single timeout from the SYN
	fx.feed(t, 0, syn(40000))
	fx.feed(t, 8*time.Second, appData(40000, handshake))
	fx.feed(t, 16*time.Second, appData(40000, handshake))
	fx.feed(t, 24*time.Second, appData(40000, fx.record))

	snap := fx.shard.Counters().Drain()
	assert.Equal(t, uint64(1), snap.DecodeAttempts)
	assert.Equal(t, uint64(1), snap.Tags)
	assert.Equal(t, 1, fx.notes.count())
}

func TestIdlePendingFlowExpires(t *testing.T) {
	fx := newFixture(t, flow.Config{PendingTimeout: 10 * time.Second})

	fx.feed(t, 0, syn(40000))
	fx.feed(t, 11*time.Second, appData(40000, fx.record))

	snap := fx.shard.Counters().Drain()
	assert.Zero(t, snap.DecodeAttempts)
	assert.Zero(t, snap.Tags)
}

type faultyDecoder struct{}

func (faultyDecoder) Decode(*tag.PrivateKey, []byte) (tag.Payload, error) {
	panic("corrupt carrier")
}

func TestDecodeFaultClearsPending(t *testing.T) {
	fx := newFixture(t, flow.Config{})
	fx.shard = NewShard(ShardConfig{
		Detector: detector.New(detector.Config{Key: fx.key, Decoder: faultyDecoder{}, Selector: fx.sel, Notifier: fx.notes}),
		Bridge:   forward.NewBridge(fx.sink),
	})
	f := core.Flow{SrcIP: clientIP, DstIP: serverIP, SrcPort: 40000, DstPort: flow.TLSPort}

	fx.feed(t, 0, syn(40000))
	require.True(t, fx.shard.tracker.IsTracked(f, epoch))

	assert.NotPanics(t, func() {
		fx.feed(t, time.Millisecond, appData(40000, fx.record))
	})

	snap := fx.shard.Counters().Drain()
	assert.Equal(t, uint64(1), snap.DecodeAttempts)
	assert.Equal(t, uint64(1), snap.DecodeFaults)
	assert.Zero(t, snap.Tags)
	assert.False(t, fx.shard.tracker.IsTracked(f, epoch.Add(time.Millisecond)))
	assert.Zero(t, fx.notes.count())

	// the shard keeps working after a fault
	fx.feed(t, 2*time.Millisecond, syn(40001))
	assert.Equal(t, uint64(1), fx.shard.Counters().Drain().PendingAdmitted)
}

func TestTaggedFlowIsForwarded(t *testing.T) {
	fx := newFixture(t, flow.Config{})
	fx.feed(t, 0, syn(40000))
	fx.feed(t, time.Millisecond, appData(40000, fx.record))

	require.Equal(t, 1, fx.notes.count())
	got, err := notify.DecodeRegistration(fx.notes.msgs[0])
	require.NoError(t, err)
	assert.Equal(t, seed, got.Seed)
	assert.Equal(t, fx.decoy, got.Dst)
	assert.True(t, fx.sel.Contains(got.Dst))

	// every packet to the decoy from the client is forwarded, whatever its
	// flags or source port
	segs := []pkttest.TCP{
		toDecoy(fx, 50000),
		{Src: clientIP, Dst: fx.decoy, SrcPort: 50001, DstPort: 443, SYN: true},
		{Src: clientIP, Dst: fx.decoy, SrcPort: 50000, DstPort: 443, RST: true},
		{Src: clientIP, Dst: fx.decoy, SrcPort: 50000, DstPort: 443, FIN: true, ACK: true},
		{Src: clientIP, Dst: fx.decoy, SrcPort: 50002, DstPort: 443, ACK: true, PSH: true, Payload: []byte("hello")},
	}
	for i, seg := range segs {
		frame := fx.feed(t, time.Duration(i+2)*time.Millisecond, seg)
		require.Len(t, fx.sink.frames, i+1)

		out := fx.sink.frames[i]
		assert.Equal(t, forward.LinkHeader[:], out[:4])
		assert.Equal(t, pkttest.IPBytes(frame, seg), out[4:])
	}

	snap := fx.shard.Counters().Drain()
	assert.Equal(t, uint64(len(segs)), snap.Forwarded)
	assert.Equal(t, uint64(1), snap.Tags)
	// forwarded SYNs never reach the pending namespace
	assert.Equal(t, uint64(1), snap.SYNs)
}

func TestTaggedFlowNotForwardedForOthers(t *testing.T) {
	fx := newFixture(t, flow.Config{})
	fx.feed(t, 0, syn(40000))
	fx.feed(t, time.Millisecond, appData(40000, fx.record))

	// another client to the same decoy
	fx.feed(t, 2*time.Millisecond, pkttest.TCP{
		Src: netip.MustParseAddr("10.20.30.41"), Dst: fx.decoy, SrcPort: 1, DstPort: 443, ACK: true,
	})
	// the covert connection itself
	fx.feed(t, 3*time.Millisecond, appData(40000, []byte{0x17, 3, 3, 0, 1, 0}))
	// same decoy, other port
	fx.feed(t, 4*time.Millisecond, pkttest.TCP{Src: clientIP, Dst: fx.decoy, SrcPort: 1, DstPort: 80, ACK: true})

	assert.Empty(t, fx.sink.frames)
}

func TestTaggedExpirySlides(t *testing.T) {
	fx := newFixture(t, flow.Config{TaggedTimeout: 10 * time.Second})
	fx.feed(t, 0, syn(40000))
	fx.feed(t, time.Millisecond, appData(40000, fx.record))

	// traffic every 8s keeps it alive well past the first deadline
	for i := 1; i <= 4; i++ {
		fx.feed(t, time.Duration(i)*8*time.Second, toDecoy(fx, 50000))
	}
	require.Len(t, fx.sink.frames, 4)

	// 11s of silence expires it
	fx.feed(t, 43*time.Second, toDecoy(fx, 50000))
	assert.Len(t, fx.sink.frames, 4)
}

func TestDoubleSYNCountedOnce(t *testing.T) {
	fx := newFixture(t, flow.Config{})
	fx.feed(t, 0, syn(40000))
	fx.feed(t, time.Second, syn(40000))

	snap := fx.shard.Counters().Drain()
	assert.Equal(t, uint64(2), snap.SYNs)
	assert.Equal(t, uint64(1), snap.PendingAdmitted)
	assert.Zero(t, snap.PendingRejected)
	pending, _ := fx.shard.tracker.Len()
	assert.Equal(t, 1, pending)
}

func TestPendingLimitRejects(t *testing.T) {
	fx := newFixture(t, flow.Config{MaxPending: 2})
	fx.feed(t, 0, syn(1))
	fx.feed(t, 0, syn(2))
	fx.feed(t, 0, syn(3))

	snap := fx.shard.Counters().Drain()
	assert.Equal(t, uint64(2), snap.PendingAdmitted)
	assert.Equal(t, uint64(1), snap.PendingRejected)
}

func TestFrameCounters(t *testing.T) {
	fx := newFixture(t, flow.Config{})

	v6 := pkttest.TCP{
		Src: netip.MustParseAddr("2001:db8::1"), Dst: netip.MustParseAddr("2001:db8::2"),
		SrcPort: 1, DstPort: 443, SYN: true,
	}
	frames := [][]byte{
		pkttest.NonIPFrame(64),
		pkttest.Frame(t, pkttest.TCP{Src: clientIP, Dst: serverIP, SrcPort: 1, DstPort: 80, SYN: true}),
		pkttest.Frame(t, syn(2)),
		pkttest.Frame(t, v6),
	}
	var total uint64
	for _, f := range frames {
		total += uint64(len(f))
		fx.shard.ProcessFrame(core.RawPacket{Data: f})
	}

	snap := fx.shard.Counters().Drain()
	assert.Equal(t, uint64(4), snap.Frames)
	assert.Equal(t, total, snap.Bytes)
	assert.Equal(t, uint64(2), snap.IPv4)
	assert.Equal(t, uint64(1), snap.IPv6)
	assert.Equal(t, uint64(3), snap.TCP)
	assert.Equal(t, uint64(2), snap.TLSPackets)
	assert.Equal(t, uint64(len(frames[2])+len(frames[3])), snap.TLSBytes)
	assert.Equal(t, uint64(2), snap.SYNs)

	// drained
	assert.Zero(t, fx.shard.Counters().Drain().Frames)
}

func TestForwardErrorCounted(t *testing.T) {
	fx := newFixture(t, flow.Config{})
	fx.feed(t, 0, syn(40000))
	fx.feed(t, time.Millisecond, appData(40000, fx.record))

	fx.sink.err = errors.New("queue full")
	fx.feed(t, 2*time.Millisecond, toDecoy(fx, 50000))

	snap := fx.shard.Counters().Drain()
	assert.Zero(t, snap.Forwarded)
	assert.Equal(t, uint64(1), snap.ForwardErrors)
}

func TestGarbageFramesNeverPanic(t *testing.T) {
	fx := newFixture(t, flow.Config{})
	rng := rand.New(rand.NewSource(3))
	base := pkttest.Frame(t, appData(40000, fx.record))

	fx.feed(t, 0, syn(40000))
	for i := 0; i < 5000; i++ {
		frame := append([]byte(nil), base[:rng.Intn(len(base)+1)]...)
		if len(frame) > 0 {
			frame[rng.Intn(len(frame))] ^= byte(rng.Intn(256))
		}
		assert.NotPanics(t, func() { fx.shard.ProcessFrame(core.RawPacket{Data: frame, Timestamp: epoch}) })
	}
}

func TestShardClose(t *testing.T) {
	fx := newFixture(t, flow.Config{})
	require.NoError(t, fx.shard.Close())
	assert.True(t, fx.sink.closed)
}

type sliceCapture struct {
	frames [][]byte
	err    error
	drops  uint64
}

func (c *sliceCapture) Capture(ctx context.Context, h capture.Handler) error {
	for _, f := range c.frames {
		if ctx.Err() != nil {
			return nil
		}
		h(core.RawPacket{Data: f})
	}
	return c.err
}

func (c *sliceCapture) Stats() capture.Stats {
	return capture.Stats{Received: uint64(len(c.frames)), Dropped: c.drops}
}

func (c *sliceCapture) Close() error { return nil }

func TestRuntimeRunsAllShards(t *testing.T) {
	a, b := newFixture(t, flow.Config{}), newFixture(t, flow.Config{})
	b.shard.id = 1

	workers := []Worker{
		{Shard: a.shard, Capture: &sliceCapture{frames: [][]byte{pkttest.Frame(t, syn(1))}, drops: 3}},
		{Shard: b.shard, Capture: &sliceCapture{frames: [][]byte{pkttest.Frame(t, syn(2)), pkttest.Frame(t, syn(3))}}},
	}
	rt := NewRuntime(workers, nil)
	require.NoError(t, rt.Run(context.Background()))

	// the final report drained everything
	total := rt.Reporter().Total()
	assert.Equal(t, uint64(3), total.Frames)
	assert.Equal(t, uint64(3), total.SYNs)
	assert.True(t, a.sink.closed)
	assert.True(t, b.sink.closed)
}

func TestRuntimeCaptureError(t *testing.T) {
	fx := newFixture(t, flow.Config{})
	boom := errors.New("ring gone")
	rt := NewRuntime([]Worker{{Shard: fx.shard, Capture: &sliceCapture{err: boom}}}, nil)

	err := rt.Run(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.True(t, fx.sink.closed)
}

func TestReporterDrainsAndAggregates(t *testing.T) {
	a, b := newFixture(t, flow.Config{}), newFixture(t, flow.Config{})
	b.shard.id = 1
	a.feed(t, 0, syn(1))
	b.feed(t, 0, syn(2))
	b.feed(t, 0, syn(3))

	src := &sliceCapture{drops: 5}
	r := NewReporter([]*Shard{a.shard, b.shard}, []capture.Capturer{src, nil}, time.Second)

	snap := r.Report(time.Second)
	assert.Equal(t, uint64(3), snap.SYNs)
	assert.Equal(t, uint64(3), snap.PendingAdmitted)

	src.drops = 8
	snap = r.Report(time.Second)
	assert.Zero(t, snap.SYNs)
	assert.Equal(t, uint64(8), r.lastDrops[0])
	assert.Equal(t, uint64(3), r.Total().SYNs)
}
