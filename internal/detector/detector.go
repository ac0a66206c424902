// Package detector spends one decode attempt on a pending flow's first
// application-data record and, on success, publishes the registration.
package detector

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"

	"firestige.xyz/decoystation/internal/core"
	"firestige.xyz/decoystation/internal/flow"
	"firestige.xyz/decoystation/internal/notify"
	"firestige.xyz/decoystation/internal/tag"
)

// TLS record type of application data.
const recordTypeApplicationData = 0x17

// IsApplicationData is a cheap qualification test, not a TLS parse: more
// than a record header's worth of bytes and the application-data type byte.
func IsApplicationData(payload []byte) bool {
	return len(payload) > 5 && payload[0] == recordTypeApplicationData
}

// Selector picks a decoy address for a seed.
type Selector interface {
	Select(seed [16]byte) (netip.Addr, error)
}

// Result describes one decode attempt.
type Result struct {
	ID     core.FlowNoSrcPort // set when Tagged
	Tagged bool
	Tag    core.Tag

	Fault      bool  // the decoder faulted on the payload
	SelectErr  error // selection failed after a successful decode
	PublishErr error // the registration could not be handed to the notifier
}

// Config wires a Detector. Key and Selector are shared read-only across shards;
// Notifier belongs to the shard.
type Config struct {
	Shard    int
	Key      *tag.PrivateKey
	Decoder  tag.Decoder
	Selector Selector
	Notifier notify.Notifier
}

// Detector is owned by one shard and is not safe for concurrent use.
type Detector struct {
	shard    int
	key      *tag.PrivateKey
	decoder  tag.Decoder
	selector Selector
	notifier notify.Notifier
}

func New(cfg Config) *Detector {
	if cfg.Decoder == nil {
		cfg.Decoder = tag.V1{}
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Discard{}
	}
	return &Detector{
		shard:    cfg.Shard,
		key:      cfg.Key,
		decoder:  cfg.Decoder,
		selector: cfg.Selector,
		notifier: cfg.Notifier,
	}
}

// Check runs the decode attempt for f on payload. The caller must already
// have decided that this is the flow's one attempt.
//
// Decode failures, including faults, are the common case and produce a zero
// Result. Selection failures are configuration defects and are logged at
// error. A publish failure is logged at warn; the flow is still reported as
// tagged since the client did present a valid tag.
func (d *Detector) Check(f core.Flow, payload []byte) Result {
	p, err := d.attemptDecode(payload)
	if err != nil {
		if errors.Is(err, core.ErrDecodeFault) {
			slog.Debug("decode fault", "shard", d.shard, "flow", f.String(), "error", err)
			return Result{Fault: true}
		}
		return Result{}
	}

	dst, err := d.selector.Select(p.Seed)
	if err != nil {
		slog.Error("decoy selection failed", "shard", d.shard, "flow", f.String(), "error", err)
		return Result{SelectErr: err}
	}

	t := core.Tag{Seed: p.Seed, Dst: dst}
	res := Result{
		ID:     flow.FromParts(f.SrcIP, dst, flow.TLSPort),
		Tagged: true,
		Tag:    t,
	}

	msg := notify.EncodeRegistration(t)
	if err := d.notifier.Publish(msg[:]); err != nil {
		slog.Warn("publish registration failed", "shard", d.shard, "flow", f.String(), "error", err)
		res.PublishErr = err
	}

	slog.Info("tag registered", "shard", d.shard, "client", f.SrcIP, "decoy", dst)
	return res
}

// attemptDecode is the only place untrusted payload bytes reach the decoder.
// A panic inside the decoder is converted to ErrDecodeFault here and goes no
// further.
func (d *Detector) attemptDecode(payload []byte) (p tag.Payload, err error) {
	defer func() {
		if r := recover(); r != nil {
			p, err = tag.Payload{}, fmt.Errorf("%w: %v", core.ErrDecodeFault, r)
		}
	}()
	return d.decoder.Decode(d.key, payload)
}

// Close releases the shard's notifier.
func (d *Detector) Close() error {
	return d.notifier.Close()
}
