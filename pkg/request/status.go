package request

import "errors"

// Status is the completion outcome of a Request.
type Status int

const (
	StatusSuccess Status = iota
	StatusPending
	StatusCancelled
	StatusNoSuchDevice
	StatusInsufficientResources
	StatusUnsuccessful
	StatusNotSupported
	StatusNotImplemented
	StatusInvalidDeviceState
)

// Completion errors returned by Status.Err.
var (
	ErrCancelled             = errors.New("pnpcoord: request cancelled")
	ErrNoSuchDevice          = errors.New("pnpcoord: no such device")
	ErrInsufficientResources = errors.New("pnpcoord: insufficient resources")
	ErrUnsuccessful          = errors.New("pnpcoord: unsuccessful")
	ErrNotSupported          = errors.New("pnpcoord: not supported")
	ErrNotImplemented        = errors.New("pnpcoord: not implemented")
	ErrInvalidDeviceState    = errors.New("pnpcoord: invalid device state")
)

// OK reports whether the status is a success. Pending is not a success.
func (s Status) OK() bool {
	return s == StatusSuccess
}

// Err maps the status to a sentinel error. Success and Pending map to nil.
func (s Status) Err() error {
	switch s {
	case StatusSuccess, StatusPending:
		return nil
	case StatusCancelled:
		return ErrCancelled
	case StatusNoSuchDevice:
		return ErrNoSuchDevice
	case StatusInsufficientResources:
		return ErrInsufficientResources
	case StatusNotSupported:
		return ErrNotSupported
	case StatusNotImplemented:
		return ErrNotImplemented
	case StatusInvalidDeviceState:
		return ErrInvalidDeviceState
	default:
		return ErrUnsuccessful
	}
}

// String returns a human-readable representation of the status.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "Success"
	case StatusPending:
		return "Pending"
	case StatusCancelled:
		return "Cancelled"
	case StatusNoSuchDevice:
		return "NoSuchDevice"
	case StatusInsufficientResources:
		return "InsufficientResources"
	case StatusUnsuccessful:
		return "Unsuccessful"
	case StatusNotSupported:
		return "NotSupported"
	case StatusNotImplemented:
		return "NotImplemented"
	case StatusInvalidDeviceState:
		return "InvalidDeviceState"
	default:
		return "Unknown"
	}
}

// FromError maps a sentinel error back to a Status.
// Unknown errors map to StatusUnsuccessful and nil maps to StatusSuccess.
func FromError(err error) Status {
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, ErrCancelled):
		return StatusCancelled
	case errors.Is(err, ErrNoSuchDevice):
		return StatusNoSuchDevice
	case errors.Is(err, ErrInsufficientResources):
		return StatusInsufficientResources
	case errors.Is(err, ErrNotSupported):
		return StatusNotSupported
	case errors.Is(err, ErrNotImplemented):
		return StatusNotImplemented
	case errors.Is(err, ErrInvalidDeviceState):
		return StatusInvalidDeviceState
	default:
		return StatusUnsuccessful
	}
}
