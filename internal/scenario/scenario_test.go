package scenario

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bft-labs/pnpcoord/pkg/flags"
)

func testRunner(t *testing.T, opts ...Option) *Runner {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Iterations = 3
	cfg.Workers = 3
	return NewRunner(cfg, opts...)
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestScenarios(t *testing.T) {
	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			results, err := testRunner(t).Run(testContext(t), name)
			if err != nil {
				t.Fatalf("Run(%q) error = %v", name, err)
			}
			if len(results) != 1 || results[0].Name != name {
				t.Fatalf("Run(%q) results = %+v", name, results)
			}
			if results[0].Iterations != 3 {
				t.Errorf("Iterations = %d, want 3", results[0].Iterations)
			}
		})
	}
}

func TestRunAll(t *testing.T) {
	results, err := testRunner(t).Run(testContext(t), "all")
	if err != nil {
		t.Fatalf("Run(all) error = %v", err)
	}
	if len(results) != len(Names()) {
		t.Errorf("Run(all) returned %d results, want %d", len(results), len(Names()))
	}
}

func TestRunUnknown(t *testing.T) {
	_, err := testRunner(t).Run(context.Background(), "nope")
	if !errors.Is(err, ErrUnknown) {
		t.Errorf("Run() error = %v, want ErrUnknown", err)
	}
}

func TestWakeScenarioClearsPersistedFlag(t *testing.T) {
	store := flags.NewMemoryStore()
	if _, err := testRunner(t, WithFlagStore(store)).Run(testContext(t), "wake"); err != nil {
		t.Fatalf("Run(wake) error = %v", err)
	}
	// The scenario ends after re-enabling wake.
	enabled, err := store.Bool(context.Background(), flags.KeyWakeEnabled)
	if err != nil {
		t.Fatal(err)
	}
	if !enabled {
		t.Error("wake flag = false, want true")
	}
}

func TestNamesSorted(t *testing.T) {
	want := []string{"lifecycle", "power", "stress", "wake"}
	got := Names()
	if len(got) != len(want) {
		t.Fatalf("Names() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Names()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
