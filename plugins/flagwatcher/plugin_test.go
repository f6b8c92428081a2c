package flagwatcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bft-labs/pnpcoord/internal/sim"
	"github.com/bft-labs/pnpcoord/pkg/device"
	"github.com/bft-labs/pnpcoord/pkg/flags"
	"github.com/bft-labs/pnpcoord/pkg/power"
	"github.com/bft-labs/pnpcoord/pkg/wake"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestPlugin_RequiresPath(t *testing.T) {
	p := New(Config{})
	err := p.Initialize(context.Background(), device.PluginConfig{})
	if !errors.Is(err, ErrNoPath) {
		t.Errorf("Initialize() error = %v, want ErrNoPath", err)
	}
}

func TestPlugin_DisabledWithoutFlagStore(t *testing.T) {
	p := New(Config{Path: filepath.Join(t.TempDir(), "flags.toml")})
	err := p.Initialize(context.Background(), device.PluginConfig{
		ApplyFlags: func(context.Context) error { return nil },
	})
	if err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestPlugin_AppliesOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flags.toml")

	var calls atomic.Int32
	p := New(Config{Path: path, DebounceDelay: 10 * time.Millisecond})
	err := p.Initialize(context.Background(), device.PluginConfig{
		Flags: flags.NewMemoryStore(),
		ApplyFlags: func(context.Context) error {
			calls.Add(1)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	defer p.Shutdown(context.Background())

	// Unrelated files in the directory are ignored.
	if err := os.WriteFile(filepath.Join(filepath.Dir(path), "other.toml"), []byte("x = 1"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("wake_enabled = true\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "apply", func() bool { return p.Applied() >= 1 })
	if calls.Load() < 1 {
		t.Errorf("ApplyFlags called %d times, want at least 1", calls.Load())
	}
}

func TestPlugin_RetriesFailedApply(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flags.toml")

	var calls atomic.Int32
	p := New(Config{
		Path:          path,
		DebounceDelay: 10 * time.Millisecond,
		RetryInitial:  10 * time.Millisecond,
		RetryMax:      20 * time.Millisecond,
	})
	err := p.Initialize(context.Background(), device.PluginConfig{
		Flags: flags.NewMemoryStore(),
		ApplyFlags: func(context.Context) error {
			if calls.Add(1) < 3 {
				return errors.New("store busy")
			}
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	defer p.Shutdown(context.Background())

	if err := os.WriteFile(path, []byte("wake_enabled = false\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "apply after retries", func() bool { return p.Applied() == 1 })
	if got := calls.Load(); got != 3 {
		t.Errorf("ApplyFlags called %d times, want 3", got)
	}
}

func TestPlugin_ShutdownWithPendingApply(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flags.toml")

	p := New(Config{Path: path, DebounceDelay: time.Hour})
	err := p.Initialize(context.Background(), device.PluginConfig{
		Flags: flags.NewMemoryStore(),
		ApplyFlags: func(context.Context) error { return nil },
	})
	if err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if err := os.WriteFile(path, []byte("wake_enabled = true\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		p.Shutdown(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown() blocked on a pending apply")
	}
	if p.Applied() != 0 {
		t.Errorf("Applied() = %d, want 0", p.Applied())
	}
}

func TestPlugin_ArmsInstanceWhenFlagIsSet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flags.toml")

	caps := power.DefaultCapabilities()
	caps.DeviceState[power.SystemSleeping3] = power.DeviceD2
	caps.DeviceWake = power.DeviceD2
	caps = power.AdjustCapabilities(caps)

	lower := sim.NewLower(sim.WithCapabilities(caps))
	inst, err := device.New(device.DefaultConfig(), lower,
		device.WithCapabilities(caps),
		device.WithFlagStore(flags.NewFileStore(path)),
		WithFlagWatcher(Config{Path: path, DebounceDelay: 10 * time.Millisecond}),
	)
	if err != nil {
		t.Fatalf("device.New() error = %v", err)
	}
	defer inst.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := inst.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if got := inst.Snapshot().Wake; got != wake.Disarmed {
		t.Fatalf("Wake = %v, want Disarmed", got)
	}

	// Another process flips the flag.
	if err := flags.NewFileStore(path).SetBool(ctx, flags.KeyWakeEnabled, true); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "wake armed", func() bool { return inst.Snapshot().Wake == wake.Armed })
	if got := lower.PendingWake(); got != 1 {
		t.Errorf("PendingWake() = %d, want 1", got)
	}
}
