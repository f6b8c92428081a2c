package power

import "github.com/bft-labs/pnpcoord/pkg/request"

// Minor is the power request minor function.
type Minor int

const (
	MinorWaitWake Minor = iota
	MinorSet
	MinorQuery
)

// String returns a human-readable representation of the minor function.
func (m Minor) String() string {
	switch m {
	case MinorWaitWake:
		return "wait-wake"
	case MinorSet:
		return "set"
	case MinorQuery:
		return "query"
	default:
		return "unknown"
	}
}

// Type says which power level a set or query request targets.
type Type int

const (
	TypeSystem Type = iota
	TypeDevice
)

// Params is the payload of a power request.
type Params struct {
	Type   Type
	System SystemState
	Device DeviceState
	// Reason is a short label passed to the action hook.
	Reason string
}

// ParamsOf returns the power parameters of r, or false if r is not a
// power request.
func ParamsOf(r *request.Request) (*Params, bool) {
	if r == nil || r.Kind != request.KindPower {
		return nil, false
	}
	p, ok := r.Payload.(*Params)
	return p, ok
}

// MinorOf returns the power minor function of r.
func MinorOf(r *request.Request) Minor {
	return Minor(r.Minor)
}

func newPowerRequest(minor Minor, p *Params) *request.Request {
	return request.New(request.KindPower,
		request.WithMinor(int(minor)),
		request.WithPayload(p),
	)
}

// NewSetSystem creates a system-level set-power request.
func NewSetSystem(s SystemState, reason string) *request.Request {
	return newPowerRequest(MinorSet, &Params{Type: TypeSystem, System: s, Reason: reason})
}

// NewQuerySystem creates a system-level query-power request.
func NewQuerySystem(s SystemState, reason string) *request.Request {
	return newPowerRequest(MinorQuery, &Params{Type: TypeSystem, System: s, Reason: reason})
}

// NewSetDevice creates a device-level set-power request.
func NewSetDevice(d DeviceState, reason string) *request.Request {
	return newPowerRequest(MinorSet, &Params{Type: TypeDevice, Device: d, Reason: reason})
}

// NewQueryDevice creates a device-level query-power request.
func NewQueryDevice(d DeviceState, reason string) *request.Request {
	return newPowerRequest(MinorQuery, &Params{Type: TypeDevice, Device: d, Reason: reason})
}

// NewWaitWake creates a wait-wake request that can wake the platform from
// system state s or any more powered state.
func NewWaitWake(s SystemState) *request.Request {
	return newPowerRequest(MinorWaitWake, &Params{Type: TypeSystem, System: s, Reason: "wait-wake"})
}
