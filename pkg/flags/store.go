package flags

import (
	"context"
	"errors"
)

// Keys of the persisted configuration flags.
const (
	KeyWakeEnabled          = "wake_enabled"
	KeyIdleDetectionEnabled = "idle_detection_enabled"
)

// ErrNotFound is returned by Bool when a flag was never written.
var ErrNotFound = errors.New("flags: not found")

// Store is a key-value accessor for persisted boolean flags.
// Implementations must be safe for concurrent use.
type Store interface {
	// Bool returns the value of key, or ErrNotFound if it was never set.
	Bool(ctx context.Context, key string) (bool, error)

	// SetBool persists value under key.
	SetBool(ctx context.Context, key string, value bool) error
}

// Flags is the set of flags an instance reads at start.
type Flags struct {
	WakeEnabled          bool
	IdleDetectionEnabled bool
}

// Load reads all known flags from s. Flags that were never set read as
// false.
func Load(ctx context.Context, s Store) (Flags, error) {
	var f Flags
	var err error
	if f.WakeEnabled, err = lookup(ctx, s, KeyWakeEnabled); err != nil {
		return Flags{}, err
	}
	if f.IdleDetectionEnabled, err = lookup(ctx, s, KeyIdleDetectionEnabled); err != nil {
		return Flags{}, err
	}
	return f, nil
}

func lookup(ctx context.Context, s Store, key string) (bool, error) {
	v, err := s.Bool(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return v, err
}
