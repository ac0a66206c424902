package notify

// Discard drops every message. Used for dry runs and offline replay.
type Discard struct{}

func (Discard) Publish([]byte) error { return nil }
func (Discard) Close() error         { return nil }
