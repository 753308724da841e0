package swi

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/jjsch-dev/go-swi/logger"
)

// Bus is the dispatch-side protocol engine for one single-wire bus.
//
// A Bus owns the command channel's producer side. Its methods block until
// the timing-critical executor has completed the requested operation and
// pushed its single-byte response; this is expected and not a fault. There
// is no cancellation of an in-flight request: the executor always completes
// and responds. Higher-level timeouts, if desired, belong to the external
// transport.
//
// All methods are safe for concurrent use; operations are serialized so that
// never more than one request is outstanding.
type Bus struct {
	cfg    *BusConfig
	logger logger.Logger

	// profile is the active timing profile, replaced only by SetSpeed while
	// opMu is held (never mid-operation).
	profile atomic.Pointer[Profile]

	// opMu serializes commands and multi-command operations, enforcing the
	// strict request/response alternation of the command channel.
	opMu sync.Mutex

	reqChan chan uint32
	rspChan chan byte

	started atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	metrics BusMetrics
}

// NewBus creates a new Bus with the given configuration. The executor does
// not run until Start is called.
func NewBus(cfg *BusConfig) (*Bus, error) {
	if cfg == nil {
		return nil, errors.New("swi: bus config is nil")
	}

	b := &Bus{
		cfg:    cfg,
		logger: cfg.logger,
		// Unbuffered on purpose: the channel pair is a depth-1 synchronous
		// handoff, request then response, strictly alternating.
		reqChan: make(chan uint32),
		rspChan: make(chan byte),
	}

	p := cfg.profile
	b.profile.Store(&p)

	return b, nil
}

// Start launches the timing-critical executor goroutine. ctx bounds the
// executor's lifetime; Close cancels it as well.
func (b *Bus) Start(ctx context.Context) error {
	b.opMu.Lock()
	defer b.opMu.Unlock()

	if b.started.Load() {
		return errors.New("swi: bus already started")
	}

	b.ctx, b.cancel = context.WithCancel(ctx)
	b.started.Store(true)

	exec := &executor{
		line:    b.cfg.line,
		wait:    b.cfg.wait,
		profile: &b.profile,
		reqChan: b.reqChan,
		rspChan: b.rspChan,
		logger:  b.logger,
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		exec.run(b.ctx)
	}()

	b.logger.Debug("bus started", "profile", *b.profile.Load())

	return nil
}

// Close stops the executor and waits for it to terminate. An operation that
// is already in flight completes first.
func (b *Bus) Close() {
	b.opMu.Lock()
	defer b.opMu.Unlock()

	if !b.started.Load() {
		return
	}

	b.started.Store(false)
	b.cancel()
	b.wg.Wait()
	b.logger.Debug("bus closed")
}

// Metrics returns the bus metrics.
func (b *Bus) Metrics() *BusMetrics {
	return &b.metrics
}

// Profile returns the active timing profile.
func (b *Bus) Profile() Profile {
	return *b.profile.Load()
}

// SetSpeed swaps the active timing profile. It waits for any operation in
// flight to finish; the profile is constant for the duration of any single
// bit, byte or block operation.
func (b *Bus) SetSpeed(p Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}

	b.opMu.Lock()
	defer b.opMu.Unlock()

	b.profile.Store(&p)
	b.logger.Info("speed profile changed",
		"bit", p.Bit, "lowOne", p.LowOne, "lowZero", p.LowZero,
		"readPulse", p.ReadPulse, "recovery", p.Recovery,
	)

	return nil
}

// send enqueues one request and blocks until its response arrives.
func (b *Bus) send(op Opcode, data byte) (byte, error) {
	if !b.started.Load() {
		return RespNACK, ErrBusClosed
	}

	b.opMu.Lock()
	defer b.opMu.Unlock()

	return b.sendLocked(op, data)
}

// sendLocked is send without the operation lock, for multi-command
// operations that hold opMu across several round trips.
func (b *Bus) sendLocked(op Opcode, data byte) (byte, error) {
	select {
	case b.reqChan <- (Request{Op: op, Data: data}).pack():
	case <-b.ctx.Done():
		return RespNACK, ErrBusClosed
	}
	b.metrics.incCmdSendCount()

	// The executor accepted the request and always responds; no timeout on
	// this internal handoff.
	rsp := <-b.rspChan
	b.metrics.incRspRecvCount()

	if rsp == RespNACK {
		b.metrics.incNackCount()
	}

	return rsp, nil
}

// --- Single-command operations ---

// Discovery issues the discovery/reset handshake and reports whether a
// device acknowledged its presence.
func (b *Bus) Discovery() (bool, error) {
	rsp, err := b.send(OpDiscovery, 0)
	if err != nil {
		return false, err
	}

	return rsp == RespACK, nil
}

// TransmitByte transmits one byte on the bus and reports whether the device
// acknowledged it. The byte is raw: device opcodes, addresses and write data
// all go through here.
func (b *Bus) TransmitByte(data byte) (bool, error) {
	rsp, err := b.send(OpTransmitByte, data)
	if err != nil {
		return false, err
	}

	return rsp == RespACK, nil
}

// ReceiveByte receives one byte from the bus. sendAck selects the master's
// trailing acknowledge slot: true requests continued streaming, false ends
// the read after this byte.
func (b *Bus) ReceiveByte(sendAck bool) (byte, error) {
	directive := SendACK
	if !sendAck {
		directive = SendNACK
	}

	return b.send(OpReceiveByte, directive)
}

// --- Multi-command operations ---
//
// These hold the operation lock across all of their command channel round
// trips so that another caller cannot interleave bus traffic into the
// middle of an addressing sequence.

// ReadManufacturerID queries the manufacturer and density ID of the device.
//
// The three ID bytes are packed big-endian into the low 24 bits of the
// result (0x00D200 for AT21CS01, 0x00D380 for AT21CS11). Zero is not a legal
// manufacturer ID; callers treat an all-zero result as "no valid ID".
func (b *Bus) ReadManufacturerID(devAddr byte) (uint32, error) {
	if !b.started.Load() {
		return 0, ErrBusClosed
	}

	b.opMu.Lock()
	defer b.opMu.Unlock()

	rsp, err := b.sendLocked(OpDiscovery, 0)
	if err != nil {
		return 0, err
	}
	if rsp != RespACK {
		return 0, fmt.Errorf("%w: manufacturer ID query", ErrDeviceAbsent)
	}

	rsp, err = b.sendLocked(OpTransmitByte, OpcodeManufacturerID|devAddr|ReadWriteBit)
	if err != nil {
		return 0, err
	}
	if rsp != RespACK {
		return 0, fmt.Errorf("%w: manufacturer ID opcode", ErrDeviceNACK)
	}

	var id uint32
	for i, directive := range []byte{SendACK, SendACK, SendNACK} {
		v, err := b.sendLocked(OpReceiveByte, directive)
		if err != nil {
			return 0, err
		}
		id |= uint32(v) << (16 - 8*i)
	}

	return id, nil
}

// LoadAddress loads dataAddr into the device's address pointer: it selects
// the device with write intent, then transmits the raw address byte. Each
// stage fails fast with its own error when NACKed.
func (b *Bus) LoadAddress(devAddr, dataAddr byte) error {
	if !b.started.Load() {
		return ErrBusClosed
	}

	b.opMu.Lock()
	defer b.opMu.Unlock()

	return b.loadAddressLocked(devAddr, dataAddr)
}

func (b *Bus) loadAddressLocked(devAddr, dataAddr byte) error {
	if dataAddr > MemorySize {
		return fmt.Errorf("%w: data address 0x%02X", ErrAddressRange, dataAddr)
	}

	rsp, err := b.sendLocked(OpTransmitByte, OpcodeEEPROMAccess|devAddr)
	if err != nil {
		return err
	}
	if rsp != RespACK {
		return fmt.Errorf("%w: device 0x%02X", ErrDeviceNACK, devAddr)
	}

	rsp, err = b.sendLocked(OpTransmitByte, dataAddr)
	if err != nil {
		return err
	}
	if rsp != RespACK {
		return fmt.Errorf("%w: data address 0x%02X", ErrAddressNACK, dataAddr)
	}

	return nil
}

// ReadByte reads one byte from dataAddr: load the address pointer, settle,
// re-address the device with read intent, receive the byte with a trailing
// NACK, settle again.
func (b *Bus) ReadByte(devAddr, dataAddr byte) (byte, error) {
	if !b.started.Load() {
		return 0, ErrBusClosed
	}

	b.opMu.Lock()
	defer b.opMu.Unlock()

	return b.readByteLocked(devAddr, dataAddr)
}

func (b *Bus) readByteLocked(devAddr, dataAddr byte) (byte, error) {
	if err := b.loadAddressLocked(devAddr, dataAddr); err != nil {
		return 0, fmt.Errorf("swi: read 0x%02X: %w", dataAddr, err)
	}

	b.settle()

	rsp, err := b.sendLocked(OpTransmitByte, OpcodeEEPROMAccess|devAddr|ReadWriteBit)
	if err != nil {
		return 0, err
	}
	if rsp != RespACK {
		return 0, fmt.Errorf("%w: data address 0x%02X", ErrReadSelectNACK, dataAddr)
	}

	data, err := b.sendLocked(OpReceiveByte, SendNACK)
	if err != nil {
		return 0, err
	}

	b.settle()

	return data, nil
}

// VerifiedRead reads dataAddr twice and returns the value if both samples
// agree. On a mismatch it takes a third sample and returns the two-of-three
// majority; ErrReadIntegrity if no two samples agree.
//
// The re-read happens at the byte-content level only; the handshake is never
// retried, so a transient mismatch cannot desynchronize protocol state.
func (b *Bus) VerifiedRead(devAddr, dataAddr byte) (byte, error) {
	if !b.started.Load() {
		return 0, ErrBusClosed
	}

	b.opMu.Lock()
	defer b.opMu.Unlock()

	return b.verifiedReadLocked(devAddr, dataAddr)
}

func (b *Bus) verifiedReadLocked(devAddr, dataAddr byte) (byte, error) {
	first, err := b.readByteLocked(devAddr, dataAddr)
	if err != nil {
		return 0, err
	}

	second, err := b.readByteLocked(devAddr, dataAddr)
	if err != nil {
		return 0, err
	}

	if first == second {
		return first, nil
	}

	b.metrics.incVerifyRetryCount()
	b.logger.Debug("verified read mismatch, taking third sample",
		"dataAddr", dataAddr, "first", first, "second", second)

	third, err := b.readByteLocked(devAddr, dataAddr)
	if err != nil {
		return 0, err
	}

	switch {
	case second == third:
		return second, nil
	case third == first:
		return third, nil
	}

	b.metrics.incVerifyFailCount()

	return 0, fmt.Errorf("%w: addr 0x%02X samples 0x%02X 0x%02X 0x%02X",
		ErrReadIntegrity, dataAddr, first, second, third)
}

// ReadBlock reads length bytes starting at startAddr using one verified
// read per address. The whole block aborts on the first verification
// failure; no partial results are returned as success.
func (b *Bus) ReadBlock(devAddr, startAddr byte, length int) ([]byte, error) {
	if length < 0 || int(startAddr)+length > MemorySize {
		return nil, fmt.Errorf("%w: start 0x%02X length %d exceeds %d bytes",
			ErrAddressRange, startAddr, length, MemorySize)
	}

	if !b.started.Load() {
		return nil, ErrBusClosed
	}

	b.opMu.Lock()
	defer b.opMu.Unlock()

	rsp, err := b.sendLocked(OpDiscovery, 0)
	if err != nil {
		return nil, err
	}
	if rsp != RespACK {
		return nil, fmt.Errorf("%w: block read", ErrDeviceAbsent)
	}

	buf := make([]byte, length)
	for i := range buf {
		addr := startAddr + byte(i)

		v, err := b.verifiedReadLocked(devAddr, addr)
		if err != nil {
			return nil, fmt.Errorf("swi: block read aborted at 0x%02X: %w", addr, err)
		}
		buf[i] = v
	}

	b.metrics.incBlockReadCount()

	return buf, nil
}

// settle gives the device extra time between read phases.
func (b *Bus) settle() {
	if b.cfg.settleDelay > 0 {
		b.cfg.wait.Wait(b.cfg.settleDelay)
	}
}
