// Package notify publishes tag registrations to the relay side.
//
// Publishing is fire-and-forget: backends hand messages to a client that
// buffers and flushes asynchronously, so Publish never waits on the network.
package notify

import (
	"fmt"
	"sort"
	"sync"

	"github.com/mitchellh/mapstructure"

	"firestige.xyz/decoystation/internal/core"
)

// Notifier is the outbound notification channel. One instance per shard.
type Notifier interface {
	Publish(msg []byte) error
	Close() error
}

// Config selects a backend and carries its free-form options.
type Config struct {
	Type    string         `mapstructure:"type"`
	Options map[string]any `mapstructure:"options"`
}

// Factory builds a notifier from backend options.
type Factory func(options map[string]any) (Notifier, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a backend available under name.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := factories[name]; exists {
		panic(fmt.Sprintf("notify: backend %q already registered", name))
	}
	factories[name] = f
}

// Backends lists registered backend names.
func Backends() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds the configured backend. An empty type selects nats.
func New(cfg Config) (Notifier, error) {
	typ := cfg.Type
	if typ == "" {
		typ = "nats"
	}

	mu.RLock()
	f, ok := factories[typ]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown notify type %q", core.ErrConfigInvalid, typ)
	}
	return f(cfg.Options)
}

// decodeOptions fills out from a free-form option map. Durations may be given
// as strings ("100ms").
func decodeOptions(options map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(options); err != nil {
		return fmt.Errorf("%w: notify options: %v", core.ErrConfigInvalid, err)
	}
	return nil
}

func init() {
	Register("nats", newNATS)
	Register("kafka", newKafka)
	Register("discard", func(map[string]any) (Notifier, error) { return Discard{}, nil })
}
