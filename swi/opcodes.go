package swi

// Opcode identifies one timing-critical operation on the command channel.
type Opcode byte

// Command channel opcodes. The executor dispatches on these; anything else
// yields RespNACK.
const (
	// OpTransmitByte transmits the payload byte and reads the ACK/NACK slot.
	OpTransmitByte Opcode = 0x01
	// OpDiscovery runs the discovery/reset handshake.
	OpDiscovery Opcode = 0x02
	// OpReceiveByte receives one byte; the payload selects the trailing
	// ACK/NACK slot (SendACK or SendNACK).
	OpReceiveByte Opcode = 0x03
)

// Command channel response codes. No richer error taxonomy crosses this
// boundary: it is a timing-critical channel, not an error-reporting channel.
const (
	// RespACK reports success / device acknowledged.
	RespACK byte = 0x00
	// RespNACK reports failure, no acknowledge, or an unknown opcode.
	RespNACK byte = 0xFF
)

// OpReceiveByte payload directives. After the eighth bit the master transmits
// its own acknowledge slot: a '0' tells the device to keep streaming, a '1'
// ends the read.
const (
	SendACK  byte = 0x00
	SendNACK byte = 0x01
)

// Device opcodes from the AT21CS01/AT21CS11 datasheet. The upper nibble is
// the opcode, bits 3..1 carry the slave address, bit 0 selects read (1) or
// write (0).
const (
	// OpcodeEEPROMAccess reads or writes the main memory array.
	OpcodeEEPROMAccess byte = 0xA0
	// OpcodeSecRegAccess reads or writes the Security register.
	OpcodeSecRegAccess byte = 0xB0
	// OpcodeLockSecReg permanently locks the Security register.
	OpcodeLockSecReg byte = 0x20
	// OpcodeROMZoneRegAccess inhibits further modification to a zone of the array.
	OpcodeROMZoneRegAccess byte = 0x70
	// OpcodeFreezeROM permanently locks the current ROM Zone register state.
	OpcodeFreezeROM byte = 0x10
	// OpcodeManufacturerID queries manufacturer and density of the device.
	OpcodeManufacturerID byte = 0xC0
	// OpcodeStandardSpeed switches to Standard Speed mode (AT21CS01 only;
	// the AT21CS11 NACKs this command).
	OpcodeStandardSpeed byte = 0xD0
	// OpcodeHighSpeed switches to High-Speed mode (AT21CS01 power-on
	// default; the AT21CS11 ACKs this command).
	OpcodeHighSpeed byte = 0xE0

	// ReadWriteBit is the read/write select bit of a device opcode byte.
	ReadWriteBit byte = 0x01
)

// Known manufacturer IDs, packed big-endian from the three ID bytes.
const (
	ManufacturerIDAT21CS01 uint32 = 0x00D200
	ManufacturerIDAT21CS11 uint32 = 0x00D380
)

// Request is one command channel request: one opcode plus one data byte.
// Immutable once enqueued.
type Request struct {
	Op   Opcode
	Data byte
}

// pack encodes the request as a single 32-bit value, opcode in the top byte
// and payload in the bottom byte, mirroring the inter-core FIFO word format.
func (r Request) pack() uint32 {
	return uint32(r.Op)<<24 | uint32(r.Data)
}

func unpackRequest(v uint32) Request {
	return Request{
		Op:   Opcode(v >> 24 & 0xFF),
		Data: byte(v & 0xFF),
	}
}
