package swi

import "errors"

// Sentinel errors for the single-wire protocol engine. Each addressing or
// read stage fails with a distinct error so callers can tell a bad address
// from an absent device from a failed write-address select.
var (
	// ErrAddressRange indicates an address or length outside the device's
	// addressable range. It is returned before any bus activity.
	ErrAddressRange = errors.New("swi: address out of range")

	// ErrDeviceAbsent indicates the discovery handshake was NACKed.
	ErrDeviceAbsent = errors.New("swi: no device responded to discovery")

	// ErrDeviceNACK indicates the device did not acknowledge its select
	// opcode during addressing.
	ErrDeviceNACK = errors.New("swi: device select not acknowledged")

	// ErrAddressNACK indicates the device did not acknowledge the data
	// address byte.
	ErrAddressNACK = errors.New("swi: address load not acknowledged")

	// ErrReadSelectNACK indicates the device did not acknowledge the
	// re-address with read intent.
	ErrReadSelectNACK = errors.New("swi: read select not acknowledged")

	// ErrReadIntegrity indicates a verified read found no two-of-three
	// agreement between samples.
	ErrReadIntegrity = errors.New("swi: verified read found no majority")

	// ErrBusClosed indicates the bus executor is not running.
	ErrBusClosed = errors.New("swi: bus is not started")

	// ErrInvalidProfile indicates a timing profile that violates the
	// profile invariants.
	ErrInvalidProfile = errors.New("swi: invalid timing profile")
)
