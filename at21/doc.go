// Package at21 provides a simulated AT21CS01/AT21CS11 single-wire EEPROM
// device for testing the swi protocol engine without hardware.
//
// The Device implements both [swi.Line] and [swi.Waiter]: it keeps a virtual
// clock that advances only through Wait calls, timestamps every drive/release
// edge against that clock, and classifies low-pulse widths with the same
// timing profile the master uses. On top of the decoded pulses it models the
// device state machine: reset/discovery handshake, opcode decoding with
// slave-address matching, the address pointer with rollover, memory reads
// with streaming and auto-increment, memory writes, and the three-byte
// manufacturer ID query.
//
// Because the clock is virtual, tests run at full speed and are exact: a
// microsecond of simulated bus time costs nothing, and the classification of
// each pulse depends only on the durations the master actually requested.
//
// Noise injection for verified-read testing is available through
// [Device.ScriptReads], which overrides the values returned for successive
// reads of one address.
package at21
