package power

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAdjustCapabilities(t *testing.T) {
	tests := []struct {
		name  string
		setup func(c *Capabilities)
		check func(t *testing.T, c Capabilities)
	}{
		{
			name: "D1 and D2 implied by state map",
			setup: func(c *Capabilities) {
				c.DeviceState[SystemSleeping1] = DeviceD1
				c.DeviceState[SystemSleeping2] = DeviceD2
			},
			check: func(t *testing.T, c Capabilities) {
				if !c.DeviceD1 || !c.DeviceD2 {
					t.Errorf("DeviceD1 = %v, DeviceD2 = %v, want both true", c.DeviceD1, c.DeviceD2)
				}
				if c.CanWake() {
					t.Error("CanWake() = true without any wake state")
				}
			},
		},
		{
			name: "wake-from flags from device and system wake",
			setup: func(c *Capabilities) {
				c.DeviceState[SystemSleeping3] = DeviceD3
				c.SystemWake = SystemSleeping3
				c.DeviceWake = DeviceD1
			},
			check: func(t *testing.T, c Capabilities) {
				if !c.WakeFromD1 || !c.WakeFromD3 {
					t.Errorf("WakeFromD1 = %v, WakeFromD3 = %v, want both true", c.WakeFromD1, c.WakeFromD3)
				}
				if !c.DeviceD1 {
					t.Error("DeviceD1 not implied by DeviceWake")
				}
				if got := c.DeepestWakeState(); got != DeviceD3 {
					t.Errorf("DeepestWakeState() = %v, want D3", got)
				}
			},
		},
		{
			name: "system wake derived no deeper than S3",
			setup: func(c *Capabilities) {
				c.DeviceState[SystemSleeping1] = DeviceD2
				c.DeviceState[SystemSleeping2] = DeviceD2
				c.DeviceState[SystemSleeping3] = DeviceD3
				c.DeviceWake = DeviceD2
			},
			check: func(t *testing.T, c Capabilities) {
				if got := c.SystemWake; got != SystemSleeping2 {
					t.Errorf("SystemWake = %v, want S2", got)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultCapabilities()
			tt.setup(&c)
			tt.check(t, AdjustCapabilities(c))
		})
	}
}

func TestDeviceStateFor(t *testing.T) {
	wakeCaps := DefaultCapabilities()
	wakeCaps.DeviceState[SystemSleeping1] = DeviceD1
	wakeCaps.DeviceState[SystemSleeping3] = DeviceD2
	wakeCaps.SystemWake = SystemSleeping3
	wakeCaps.DeviceWake = DeviceD2
	wakeCaps = AdjustCapabilities(wakeCaps)

	tests := []struct {
		name  string
		caps  Capabilities
		state SystemState
		armed bool
		want  DeviceState
	}{
		{"working is always D0", wakeCaps, SystemWorking, true, DeviceD0},
		{"not armed goes to D3", wakeCaps, SystemSleeping3, false, DeviceD3},
		{"armed keeps wake state", wakeCaps, SystemSleeping3, true, DeviceD2},
		{"armed deeper than system wake", wakeCaps, SystemHibernate, true, DeviceD3},
		{"armed without wake support", DefaultCapabilities(), SystemSleeping1, true, DeviceD3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.caps.DeviceStateFor(tt.state, tt.armed); got != tt.want {
				t.Errorf("DeviceStateFor(%v, %v) = %v, want %v", tt.state, tt.armed, got, tt.want)
			}
		})
	}
}

func TestParseCapabilities(t *testing.T) {
	data := []byte(`
device_states:
  S0: D0
  S3: d2
  S4: D3
system_wake: S3
device_wake: D2
`)
	c, err := ParseCapabilities(data)
	if err != nil {
		t.Fatalf("ParseCapabilities() error = %v", err)
	}
	if got := c.DeviceState[SystemSleeping3]; got != DeviceD2 {
		t.Errorf("DeviceState[S3] = %v, want D2", got)
	}
	if got := c.DeviceState[SystemShutdown]; got != DeviceD3 {
		t.Errorf("DeviceState[S5] = %v, want default D3", got)
	}
	if !c.DeviceD2 || !c.WakeFromD2 {
		t.Errorf("DeviceD2 = %v, WakeFromD2 = %v, want both true", c.DeviceD2, c.WakeFromD2)
	}
	if got := c.SystemWake; got != SystemSleeping3 {
		t.Errorf("SystemWake = %v, want S3", got)
	}
}

func TestParseCapabilitiesErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"bad yaml", "device_states: [\n"},
		{"unknown system state", "device_states:\n  S9: D0\n"},
		{"unknown device state", "device_states:\n  S1: D7\n"},
		{"unknown wake state", "system_wake: X\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseCapabilities([]byte(tt.data)); err == nil {
				t.Error("ParseCapabilities() error = nil, want error")
			}
		})
	}
}

func TestLoadCapabilities(t *testing.T) {
	path := filepath.Join(t.TempDir(), "caps.yaml")
	if err := os.WriteFile(path, []byte("wake_from: [D0]\nsystem_wake: S1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := LoadCapabilities(path)
	if err != nil {
		t.Fatalf("LoadCapabilities() error = %v", err)
	}
	if !c.WakeFromD0 || !c.CanWake() {
		t.Errorf("WakeFromD0 = %v, CanWake() = %v, want both true", c.WakeFromD0, c.CanWake())
	}

	if _, err := LoadCapabilities(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadCapabilities() on missing file error = nil")
	}
}
