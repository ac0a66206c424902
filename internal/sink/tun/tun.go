// Package tun opens queues of a multi-queue TUN device for forwarding.
//
// The device is opened with the packet-information header enabled (no
// IFF_NO_PI), so every write starts with the 4-byte flags/protocol header
// the forwarding bridge prepends.
package tun

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

const cloneDevice = "/dev/net/tun"

// ErrQueueFull is returned when the kernel queue cannot take a packet
// without blocking. The packet is dropped.
var ErrQueueFull = errors.New("tun: queue full")

// Config describes the device.
type Config struct {
	Name   string // interface name, e.g. "tun0"
	MTU    int    // 0 = leave unchanged
	Queues int    // one per shard
}

// Device is a TUN interface with one queue per shard.
type Device struct {
	name   string
	queues []*Queue
}

// Open attaches Queues queues to the named device (creating it if needed),
// then brings the link up and applies the MTU through netlink.
func Open(cfg Config) (*Device, error) {
	if cfg.Name == "" {
		return nil, errors.New("tun: empty interface name")
	}
	if cfg.Queues <= 0 {
		cfg.Queues = 1
	}

	d := &Device{name: cfg.Name}
	for i := 0; i < cfg.Queues; i++ {
		q, err := openQueue(cfg.Name, i)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.queues = append(d.queues, q)
	}

	if err := setUp(cfg.Name, cfg.MTU); err != nil {
		d.Close()
		return nil, err
	}

	slog.Info("tun device ready", "name", cfg.Name, "queues", cfg.Queues, "mtu", cfg.MTU)
	return d, nil
}

func openQueue(name string, index int) (*Queue, error) {
	fd, err := unix.Open(cloneDevice, unix.O_RDWR|unix.O_CLOEXEC|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cloneDevice, err)
	}

	ifr, err := unix.NewIfreq(name)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("tun %s: %w", name, err)
	}
	ifr.SetUint16(unix.IFF_TUN | unix.IFF_MULTI_QUEUE)
	if err := unix.IoctlIfreq(fd, unix.TUNSETIFF, ifr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("attach queue %d to %s: %w", index, name, err)
	}
	return &Queue{fd: fd, index: index}, nil
}

func setUp(name string, mtu int) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return fmt.Errorf("lookup link %s: %w", name, err)
	}
	if mtu > 0 && link.Attrs().MTU != mtu {
		if err := netlink.LinkSetMTU(link, mtu); err != nil {
			return fmt.Errorf("set mtu on %s: %w", name, err)
		}
	}
	if err := netlink.LinkSetUp(link); err != nil {
		return fmt.Errorf("set %s up: %w", name, err)
	}
	return nil
}

// Name returns the interface name.
func (d *Device) Name() string { return d.name }

// Queue returns the i-th queue.
func (d *Device) Queue(i int) *Queue { return d.queues[i] }

// Len returns the number of queues.
func (d *Device) Len() int { return len(d.queues) }

// Close closes every queue. The interface itself is left in place.
func (d *Device) Close() error {
	var errs []error
	for _, q := range d.queues {
		if err := q.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Queue is one non-blocking file descriptor of the device.
type Queue struct {
	fd     int
	index  int
	closed sync.Once
}

// Write sends one framed packet. It never blocks.
func (q *Queue) Write(frame []byte) (int, error) {
	n, err := unix.Write(q.fd, frame)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return 0, ErrQueueFull
		}
		return 0, fmt.Errorf("tun queue %d: %w", q.index, err)
	}
	return n, nil
}

// Close closes the queue's descriptor. Safe to call more than once.
func (q *Queue) Close() error {
	var err error
	q.closed.Do(func() { err = unix.Close(q.fd) })
	return err
}
