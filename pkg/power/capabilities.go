package power

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Capabilities describes what power states an instance supports and from
// where it can signal wake.
type Capabilities struct {
	// DeviceState maps each system state to the most powered device state
	// the instance can keep while the platform is in it.
	DeviceState [NumSystemStates]DeviceState

	DeviceD1 bool
	DeviceD2 bool

	WakeFromD0 bool
	WakeFromD1 bool
	WakeFromD2 bool
	WakeFromD3 bool

	// SystemWake is the least powered system state from which the instance
	// can wake the platform. SystemUnspecified means it cannot.
	SystemWake SystemState
	// DeviceWake is the least powered device state from which the instance
	// can signal wake.
	DeviceWake DeviceState
}

// DefaultCapabilities returns capabilities of an instance that only
// supports D0 and D3 and cannot wake the platform.
func DefaultCapabilities() Capabilities {
	var c Capabilities
	c.DeviceState[SystemWorking] = DeviceD0
	for s := SystemSleeping1; s <= SystemShutdown; s++ {
		c.DeviceState[s] = DeviceD3
	}
	return c
}

// CanWake reports whether the instance can wake the platform at all.
func (c Capabilities) CanWake() bool {
	return c.SystemWake != SystemUnspecified
}

// DeepestWakeState returns the least powered device state from which wake
// can be signalled, or DeviceUnspecified.
func (c Capabilities) DeepestWakeState() DeviceState {
	switch {
	case c.WakeFromD3:
		return DeviceD3
	case c.WakeFromD2:
		return DeviceD2
	case c.WakeFromD1:
		return DeviceD1
	case c.WakeFromD0:
		return DeviceD0
	default:
		return DeviceUnspecified
	}
}

// AdjustCapabilities fills in the fields lower layers commonly leave
// unset: D1/D2 support implied by the state map, wake-from flags implied
// by DeviceWake and SystemWake, and SystemWake itself when the instance
// can signal wake but no system state was reported. SystemWake is never
// derived deeper than S3.
func AdjustCapabilities(c Capabilities) Capabilities {
	for s := SystemSleeping1; s <= SystemHibernate; s++ {
		switch c.DeviceState[s] {
		case DeviceD1:
			c.DeviceD1 = true
		case DeviceD2:
			c.DeviceD2 = true
		}
	}

	d := c.DeviceWake
	for i := 0; i < 2; i++ {
		switch d {
		case DeviceD0:
			c.WakeFromD0 = true
		case DeviceD1:
			c.DeviceD1 = true
			c.WakeFromD1 = true
		case DeviceD2:
			c.DeviceD2 = true
			c.WakeFromD2 = true
		case DeviceD3:
			c.WakeFromD3 = true
		}
		if c.SystemWake != SystemUnspecified && int(c.SystemWake) < NumSystemStates {
			d = c.DeviceState[c.SystemWake]
		} else {
			d = DeviceUnspecified
		}
	}

	deepest := c.DeepestWakeState()
	if c.SystemWake == SystemUnspecified && deepest != DeviceUnspecified {
		for s := SystemSleeping3; s >= SystemWorking; s-- {
			if c.DeviceState[s] != DeviceUnspecified && c.DeviceState[s] <= deepest {
				c.SystemWake = s
				break
			}
		}
	}
	return c
}

// DeviceStateFor maps a system state to the device state to request.
// S0 maps to D0. Otherwise, when wake is armed and the platform can be
// woken from s, the instance stays as powered as wake requires; when not,
// it goes to D3.
func (c Capabilities) DeviceStateFor(s SystemState, wakeArmed bool) DeviceState {
	if s == SystemWorking {
		return DeviceD0
	}
	if !wakeArmed || !c.CanWake() || s > c.SystemWake {
		return DeviceD3
	}
	deepest := c.DeepestWakeState()
	if deepest == DeviceUnspecified {
		return DeviceD3
	}
	if int(s) < NumSystemStates {
		if floor := c.DeviceState[s]; floor != DeviceUnspecified && floor > deepest {
			return floor
		}
	}
	return deepest
}

// capabilitiesFile is the YAML form of Capabilities.
type capabilitiesFile struct {
	DeviceStates map[string]string `yaml:"device_states"`
	SystemWake   string            `yaml:"system_wake"`
	DeviceWake   string            `yaml:"device_wake"`
	WakeFrom     []string          `yaml:"wake_from"`
}

// ParseCapabilities decodes capabilities from YAML and adjusts them.
//
//	device_states:
//	  S0: D0
//	  S3: D2
//	  S4: D3
//	system_wake: S3
//	device_wake: D2
func ParseCapabilities(data []byte) (Capabilities, error) {
	var f capabilitiesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Capabilities{}, fmt.Errorf("power: parse capabilities: %w", err)
	}

	c := DefaultCapabilities()
	for sk, dv := range f.DeviceStates {
		s, err := ParseSystemState(sk)
		if err != nil {
			return Capabilities{}, err
		}
		d, err := ParseDeviceState(dv)
		if err != nil {
			return Capabilities{}, err
		}
		c.DeviceState[s] = d
	}

	var err error
	if f.SystemWake != "" {
		if c.SystemWake, err = ParseSystemState(f.SystemWake); err != nil {
			return Capabilities{}, err
		}
	}
	if f.DeviceWake != "" {
		if c.DeviceWake, err = ParseDeviceState(f.DeviceWake); err != nil {
			return Capabilities{}, err
		}
	}
	for _, w := range f.WakeFrom {
		d, err := ParseDeviceState(w)
		if err != nil {
			return Capabilities{}, err
		}
		switch d {
		case DeviceD0:
			c.WakeFromD0 = true
		case DeviceD1:
			c.WakeFromD1 = true
		case DeviceD2:
			c.WakeFromD2 = true
		case DeviceD3:
			c.WakeFromD3 = true
		}
	}
	return AdjustCapabilities(c), nil
}

// LoadCapabilities reads a YAML capabilities file.
func LoadCapabilities(path string) (Capabilities, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Capabilities{}, fmt.Errorf("power: read capabilities: %w", err)
	}
	return ParseCapabilities(data)
}
