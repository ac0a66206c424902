package notify

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"firestige.xyz/decoystation/internal/core"
)

const (
	DefaultSubject = "decoy.registrations"

	defaultReconnectBuf = 8 * 1024 * 1024
)

type natsOptions struct {
	URL          string        `mapstructure:"url"`
	Subject      string        `mapstructure:"subject"`
	Name         string        `mapstructure:"name"`
	ReconnectBuf int           `mapstructure:"reconnect_buffer"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

func parseNATSOptions(options map[string]any) (natsOptions, error) {
	opts := natsOptions{
		URL:          nats.DefaultURL,
		Subject:      DefaultSubject,
		Name:         "decoy-station",
		ReconnectBuf: defaultReconnectBuf,
		Timeout:      nats.DefaultTimeout,
	}
	if err := decodeOptions(options, &opts); err != nil {
		return opts, err
	}
	if opts.Subject == "" {
		return opts, fmt.Errorf("%w: nats subject is empty", core.ErrConfigInvalid)
	}
	return opts, nil
}

func (o natsOptions) connect() (*nats.Conn, error) {
	nc, err := nats.Connect(o.URL,
		nats.Name(o.Name),
		nats.Timeout(o.Timeout),
		nats.ReconnectBufSize(o.ReconnectBuf),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", o.URL, err)
	}
	return nc, nil
}

// NATSPublisher publishes registrations on one subject.
type NATSPublisher struct {
	nc      *nats.Conn
	subject string
}

func newNATS(options map[string]any) (Notifier, error) {
	opts, err := parseNATSOptions(options)
	if err != nil {
		return nil, err
	}
	nc, err := opts.connect()
	if err != nil {
		return nil, err
	}
	slog.Info("connected to nats", "url", opts.URL, "subject", opts.Subject)
	return &NATSPublisher{nc: nc, subject: opts.Subject}, nil
}

// Publish copies msg into the client's outbound buffer; it does not wait
// for the server.
func (p *NATSPublisher) Publish(msg []byte) error {
	return p.nc.Publish(p.subject, msg)
}

// Close drains the connection.
func (p *NATSPublisher) Close() error {
	return p.nc.Drain()
}

// Subscription delivers decoded registrations to a handler.
type Subscription struct {
	nc  *nats.Conn
	sub *nats.Subscription
}

// Subscribe connects with the same options as the nats backend and calls
// handler for every well-formed registration. Malformed messages are logged
// and skipped.
func Subscribe(options map[string]any, handler func(core.Tag)) (*Subscription, error) {
	opts, err := parseNATSOptions(options)
	if err != nil {
		return nil, err
	}
	nc, err := opts.connect()
	if err != nil {
		return nil, err
	}

	sub, err := nc.Subscribe(opts.Subject, func(m *nats.Msg) {
		tag, err := DecodeRegistration(m.Data)
		if err != nil {
			slog.Warn("skipping registration", "error", err)
			return
		}
		handler(tag)
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("subscribe %s: %w", opts.Subject, err)
	}
	slog.Info("subscribed", "subject", opts.Subject)
	return &Subscription{nc: nc, sub: sub}, nil
}

// Close unsubscribes and closes the connection.
func (s *Subscription) Close() error {
	err := s.sub.Unsubscribe()
	s.nc.Close()
	return err
}
