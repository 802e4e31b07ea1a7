package services

import (
	"bytes"
	"context"
	"encoding/json"
)

// Snapshot is the value read at a realtime path
type Snapshot struct {
	Path string
	Raw  json.RawMessage
}

// Exists reports whether the path holds a value
func (s Snapshot) Exists() bool {
	raw := bytes.TrimSpace(s.Raw)
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
}

// Decode unmarshals the snapshot value into v
func (s Snapshot) Decode(v any) error {
	return json.Unmarshal(s.Raw, v)
}

// Unsubscribe detaches a subscription. It blocks until no further callbacks can run,
// so it must not be called from inside one of the subscription's callbacks.
type Unsubscribe func()

// RealtimeStore is the realtime key-value database the device link talks to
type RealtimeStore interface {
	// Subscribe delivers the value at path to onData, starting with the current value,
	// and transport failures to onError, until the returned Unsubscribe is called.
	Subscribe(ctx context.Context, path string, onData func(Snapshot), onError func(error)) (Unsubscribe, error)
	ReadOnce(ctx context.Context, path string) (Snapshot, error)
	Write(ctx context.Context, path string, value any) error
}
