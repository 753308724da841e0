package at21

import (
	"sync"
	"time"

	"github.com/jjsch-dev/go-swi/swi"
)

// Pulse classification bounds. These sit between the protocol's timing
// classes rather than on them: a data low pulse never exceeds the bit
// period, the discovery reset pulse is 150µs, and the inter-phase settle
// holds the line high for 150µs or more.
const (
	// resetThreshold: a low pulse at least this wide is a reset.
	resetThreshold = 50 * time.Microsecond

	// stopThreshold: a high period at least this wide ends the current
	// byte transaction (the address pointer survives a stop).
	stopThreshold = 100 * time.Microsecond
)

// frameState tracks what the device expects next on the bus.
type frameState int

const (
	stateOpcode    frameState = iota // awaiting a device opcode byte
	stateAddress                     // awaiting the address byte after a write select
	stateWriteData                   // storing incoming write data
	stateReadData                    // streaming memory bytes to the master
	stateReadID                      // streaming the manufacturer ID bytes
)

// Device is a simulated AT21CS01/AT21CS11 wired to a virtual single-wire
// line. It is safe for use across the dispatch and executor goroutines; the
// bus's strict request/response alternation means calls never actually
// contend.
type Device struct {
	mu sync.Mutex

	profile swi.Profile
	devAddr byte
	mfrID   uint32
	present bool

	mem  [swi.MemorySize]byte
	addr byte // address pointer

	// Virtual clock; advances only through Wait.
	now time.Duration

	// Line edges.
	lineLow   bool
	lowStart  time.Duration
	highStart time.Duration

	// Device output for the next Sample. driving means the device holds
	// the line low (driveBit 0) during the current slot.
	driving  bool
	driveBit byte

	// armed: a reset pulse was seen; the next short pulse is the discovery
	// request and the device answers with its presence pulse.
	armed bool

	state     frameState
	nextState frameState // applied after the acknowledge slot
	bitCount  int
	rxByte    byte
	txByte    byte
	ackDrive  bool // device pulls the ack slot low
	idQueue   []byte

	scripted map[byte][]byte
}

// NewDevice creates a simulated device. By default it is present, answers
// device address 0, reports the AT21CS11 manufacturer ID and decodes pulses
// against ProfilePrusa.
func NewDevice(opts ...Option) (*Device, error) {
	d := &Device{
		profile:  swi.ProfilePrusa,
		mfrID:    swi.ManufacturerIDAT21CS11,
		present:  true,
		scripted: make(map[byte][]byte),
	}

	for _, opt := range opts {
		if err := opt.apply(d); err != nil {
			return nil, err
		}
	}

	return d, nil
}

var (
	_ swi.Line   = (*Device)(nil)
	_ swi.Waiter = (*Device)(nil)
)

// --- swi.Waiter ---

// Wait advances the virtual clock.
func (d *Device) Wait(dur time.Duration) {
	d.mu.Lock()
	d.now += dur
	d.mu.Unlock()
}

// --- swi.Line ---

// DriveLow is the master pulling the shared line low.
func (d *Device) DriveLow() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.lineLow {
		return
	}

	if d.now-d.highStart >= stopThreshold {
		d.stopCondition()
	}

	d.lineLow = true
	d.lowStart = d.now
	d.driving = false
}

// ReleaseHigh is the master releasing the line to the pull-up. The width of
// the low pulse that just ended is what the device actually decodes.
func (d *Device) ReleaseHigh() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.lineLow {
		return
	}

	width := d.now - d.lowStart
	d.lineLow = false
	d.highStart = d.now

	d.pulse(width)
}

// Sample returns the level the master observes: low while the device holds
// its output, high from the pull-up otherwise.
func (d *Device) Sample() byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.driving {
		d.driving = false
		return d.driveBit
	}
	if d.lineLow {
		return 0
	}

	return 1
}

// --- Pulse decoding ---

func (d *Device) pulse(width time.Duration) {
	if !d.present {
		return
	}

	if width >= resetThreshold {
		d.reset()
		return
	}

	if d.armed {
		// Discovery request pulse: answer with the presence pulse.
		d.armed = false
		d.driving, d.driveBit = true, 0
		return
	}

	switch d.state {
	case stateReadData, stateReadID:
		d.sendSlot(width)
	default:
		d.recvSlot(width)
	}
}

// recvSlot handles one slot while the device is receiving: eight data bits,
// then the device's own acknowledge slot.
func (d *Device) recvSlot(width time.Duration) {
	if d.bitCount < 8 {
		bit := byte(1)
		if width >= d.zeroThreshold() {
			bit = 0
		}
		d.rxByte = d.rxByte<<1 | bit
		d.bitCount++

		if d.bitCount == 8 {
			d.ackDrive, d.nextState = d.handleByte(d.rxByte)
		}

		return
	}

	// Acknowledge slot: the master opened it with a read pulse; the device
	// pulls it low to acknowledge the byte it just received.
	if d.ackDrive {
		d.driving, d.driveBit = true, 0
	}

	d.bitCount = 0
	d.rxByte = 0
	d.state = d.nextState

	if d.state == stateReadData || d.state == stateReadID {
		d.loadTxByte()
	}
}

// sendSlot handles one slot while the device is streaming: eight data bits
// driven by the device, then the master's acknowledge slot.
func (d *Device) sendSlot(width time.Duration) {
	if d.bitCount < 8 {
		bit := d.txByte >> 7
		d.txByte <<= 1
		d.bitCount++

		if bit == 0 {
			d.driving, d.driveBit = true, 0
		}

		return
	}

	// Master acknowledge slot: a '0' (wide pulse) requests the next byte,
	// a '1' ends the read.
	d.bitCount = 0
	if width < d.zeroThreshold() {
		d.state = stateOpcode
		d.nextState = stateOpcode

		return
	}

	d.loadTxByte()
}

// handleByte decodes a received byte and returns whether to acknowledge it
// and the state to enter after the acknowledge slot.
func (d *Device) handleByte(b byte) (ack bool, next frameState) {
	switch d.state {
	case stateOpcode:
		return d.handleOpcode(b)

	case stateAddress:
		if b >= swi.MemorySize {
			return false, stateOpcode
		}
		d.addr = b

		return true, stateWriteData

	case stateWriteData:
		d.mem[d.addr] = b
		d.addr = (d.addr + 1) % swi.MemorySize

		return true, stateWriteData

	default:
		return false, stateOpcode
	}
}

func (d *Device) handleOpcode(b byte) (ack bool, next frameState) {
	if b&0x0E != d.devAddr&0x0E {
		return false, stateOpcode
	}

	read := b&swi.ReadWriteBit != 0

	switch b & 0xF0 {
	case swi.OpcodeEEPROMAccess:
		if read {
			return true, stateReadData
		}

		return true, stateAddress

	case swi.OpcodeManufacturerID:
		if !read {
			return false, stateOpcode
		}
		d.idQueue = []byte{byte(d.mfrID >> 16), byte(d.mfrID >> 8), byte(d.mfrID)}

		return true, stateReadID

	case swi.OpcodeHighSpeed:
		// Power-on default of the AT21CS01; the AT21CS11 ACKs it too.
		return true, stateOpcode

	case swi.OpcodeStandardSpeed:
		// AT21CS01-only command; the AT21CS11 NACKs it.
		return d.mfrID == swi.ManufacturerIDAT21CS01, stateOpcode

	default:
		return false, stateOpcode
	}
}

// loadTxByte latches the next byte to stream.
func (d *Device) loadTxByte() {
	switch d.state {
	case stateReadID:
		if len(d.idQueue) == 0 {
			d.txByte = 0
			return
		}
		d.txByte = d.idQueue[0]
		d.idQueue = d.idQueue[1:]

	case stateReadData:
		d.txByte = d.readMem(d.addr)
		d.addr = (d.addr + 1) % swi.MemorySize

	default:
	}
}

func (d *Device) readMem(addr byte) byte {
	if queue := d.scripted[addr]; len(queue) > 0 {
		v := queue[0]
		d.scripted[addr] = queue[1:]

		return v
	}

	return d.mem[addr]
}

func (d *Device) reset() {
	d.armed = true
	d.state = stateOpcode
	d.nextState = stateOpcode
	d.bitCount = 0
	d.rxByte = 0
	d.driving = false
	d.idQueue = nil
}

// stopCondition ends the current byte transaction. The address pointer is
// not affected; armed is cleared only by the discovery request pulse or a
// new reset.
func (d *Device) stopCondition() {
	d.state = stateOpcode
	d.nextState = stateOpcode
	d.bitCount = 0
	d.rxByte = 0
	d.driving = false
}

func (d *Device) zeroThreshold() time.Duration {
	return (d.profile.LowOne + d.profile.LowZero) / 2
}

// --- Test and tool access ---

// SetPresent controls whether the device answers the bus at all. An absent
// device never drives the line, so discovery observes a NACK.
func (d *Device) SetPresent(present bool) {
	d.mu.Lock()
	d.present = present
	d.mu.Unlock()
}

// SetProfile swaps the timing profile used for pulse classification. Call it
// together with Bus.SetSpeed, never during an operation.
func (d *Device) SetProfile(p swi.Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}

	d.mu.Lock()
	d.profile = p
	d.mu.Unlock()

	return nil
}

// Load copies data into the memory array starting at address 0.
func (d *Device) Load(data []byte) {
	d.mu.Lock()
	copy(d.mem[:], data)
	d.mu.Unlock()
}

// Poke writes one memory byte directly, bypassing the bus.
func (d *Device) Poke(addr, value byte) {
	d.mu.Lock()
	d.mem[addr%swi.MemorySize] = value
	d.mu.Unlock()
}

// Peek reads one memory byte directly, bypassing the bus.
func (d *Device) Peek(addr byte) byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.mem[addr%swi.MemorySize]
}

// ScriptReads overrides the values returned for successive bus reads of one
// address. Once the scripted values are exhausted, reads fall back to the
// memory array. Use it to inject line noise for verified-read tests.
func (d *Device) ScriptReads(addr byte, values ...byte) {
	d.mu.Lock()
	d.scripted[addr] = append(d.scripted[addr], values...)
	d.mu.Unlock()
}

// Elapsed returns the total virtual bus time consumed so far.
func (d *Device) Elapsed() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.now
}
