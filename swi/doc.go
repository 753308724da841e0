// Package swi implements the host side of the AT21CS01/AT21CS11 single-wire
// EEPROM protocol (SWI) over an abstract open-drain line.
//
// SWI is a single-signal bus: the master and the device share one open-drain
// line with an external pull-up. Both symbols of a bit frame start with the
// master driving the line low; the low-pulse width distinguishes a '1' from a
// '0'. Reads use a short low pulse after which the addressed device either
// holds the line low (bit 0) or lets the pull-up restore it (bit 1). Every
// byte frame is eight bits, most-significant first, followed by one ACK/NACK
// slot.
//
// # Architecture
//
// The package is split into two execution contexts connected by a depth-one,
// strictly alternating request/response channel pair:
//
//   - The executor goroutine (started by [Bus.Start]) is the only code that
//     touches the [Line]. It runs locked to its OS thread and performs each
//     bit-banged operation (one byte transmit, one byte receive, or one
//     discovery handshake) without yielding, so the [Waiter] delays are not
//     skewed by scheduling.
//   - The dispatch context is any caller goroutine. The [Bus] methods
//     serialize callers, marshal one opcode and one data byte per request,
//     and block until the single-byte response arrives. Multi-step
//     operations (manufacturer ID, verified read, block read) are composed
//     here out of multiple channel round trips.
//
// # Timing
//
// All bit-level delays come from an immutable [Profile]. The active profile
// is replaced only by [Bus.SetSpeed], never while an operation is in flight.
// The discovery/reset handshake uses fixed delays independent of the active
// profile.
//
// # Error handling
//
// Bit and byte primitives report a raw ACK/NACK. Bus operations translate
// NACKs into per-stage sentinel errors (ErrDeviceNACK, ErrAddressNACK,
// ErrReadSelectNACK, ...) so callers can distinguish a bad address from an
// absent device. Verified reads sample an address up to three times and
// return ErrReadIntegrity when no two samples agree.
package swi
