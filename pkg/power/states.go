package power

import (
	"fmt"
	"strings"
)

// SystemState is a platform-wide power level, S0 (working) through S5
// (shutdown). Lower values are more powered; SystemUnspecified means
// "unknown".
type SystemState int

const (
	SystemUnspecified SystemState = iota
	SystemWorking
	SystemSleeping1
	SystemSleeping2
	SystemSleeping3
	SystemHibernate
	SystemShutdown
)

// NumSystemStates sizes per-system-state tables.
const NumSystemStates = int(SystemShutdown) + 1

// String returns the conventional short name of the state.
func (s SystemState) String() string {
	switch s {
	case SystemUnspecified:
		return "Unspecified"
	case SystemWorking:
		return "S0"
	case SystemSleeping1:
		return "S1"
	case SystemSleeping2:
		return "S2"
	case SystemSleeping3:
		return "S3"
	case SystemHibernate:
		return "S4"
	case SystemShutdown:
		return "S5"
	default:
		return "Unknown"
	}
}

// DeviceState is the power level of one instance. Lower values are more
// powered; DeviceUnspecified means "unknown".
type DeviceState int

const (
	DeviceUnspecified DeviceState = iota
	DeviceD0
	DeviceD1
	DeviceD2
	DeviceD3
)

// String returns the conventional short name of the state.
func (d DeviceState) String() string {
	switch d {
	case DeviceUnspecified:
		return "Unspecified"
	case DeviceD0:
		return "D0"
	case DeviceD1:
		return "D1"
	case DeviceD2:
		return "D2"
	case DeviceD3:
		return "D3"
	default:
		return "Unknown"
	}
}

// MorePoweredThan reports whether d supplies more power than other.
func (d DeviceState) MorePoweredThan(other DeviceState) bool {
	return d < other
}

// ParseSystemState parses "S0".."S5" (case-insensitive) or "unspecified".
func ParseSystemState(s string) (SystemState, error) {
	for st := SystemUnspecified; st <= SystemShutdown; st++ {
		if strings.EqualFold(s, st.String()) {
			return st, nil
		}
	}
	return SystemUnspecified, fmt.Errorf("power: unknown system state %q", s)
}

// ParseDeviceState parses "D0".."D3" (case-insensitive) or "unspecified".
func ParseDeviceState(s string) (DeviceState, error) {
	for st := DeviceUnspecified; st <= DeviceD3; st++ {
		if strings.EqualFold(s, st.String()) {
			return st, nil
		}
	}
	return DeviceUnspecified, fmt.Errorf("power: unknown device state %q", s)
}
