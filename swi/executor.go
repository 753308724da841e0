package swi

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/jjsch-dev/go-swi/logger"
)

// Discovery handshake delays. The original firmware uses these fixed values
// regardless of the active speed profile, so they live here as constants
// rather than in Profile.
const (
	discoveryStartupHold   = 200 * time.Microsecond // tHTSS, device startup window
	discoveryResetPulse    = 150 * time.Microsecond // tRESET
	discoveryResetRecovery = 100 * time.Microsecond // tRRT
	discoveryRequestPulse  = 1 * time.Microsecond   // tDRR
	discoverySampleDelay   = 3 * time.Microsecond   // tMSDR
	discoverySettleHold    = 150 * time.Microsecond // tDACK
)

// executor is the timing-critical half of the bus. It is the only code path
// that touches the Line; everything above the byte codec runs in the dispatch
// context and reaches hardware through the request/response channel pair.
type executor struct {
	line    Line
	wait    Waiter
	profile *atomic.Pointer[Profile]

	reqChan <-chan uint32
	rspChan chan<- byte

	logger logger.Logger
}

// run is the executor loop: pop one request, perform the operation without
// yielding, push the single-byte result. The goroutine is locked to its OS
// thread for the lifetime of the loop so the busy-wait delays are not
// migrated across threads mid-operation.
func (e *executor) run(ctx context.Context) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	// Pre-establish the released (pulled-up) line state.
	e.line.ReleaseHigh()

	for {
		select {
		case <-ctx.Done():
			return
		case item := <-e.reqChan:
			// The dispatch side is blocked on rspChan for as long as a
			// request is in flight, so this send never blocks.
			e.rspChan <- e.execute(unpackRequest(item))
		}
	}
}

func (e *executor) execute(req Request) byte {
	p := e.profile.Load()

	switch req.Op {
	case OpTransmitByte:
		return e.transmitByte(p, req.Data)
	case OpDiscovery:
		return e.discovery()
	case OpReceiveByte:
		return e.receiveByte(p, req.Data)
	default:
		e.logger.Warn("unknown command channel opcode", "opcode", req.Op)
		return RespNACK
	}
}

// --- Bit codec ---

// transmitOne drives the line low for the '1' pulse width, then holds it
// high for the complement of the bit period.
func (e *executor) transmitOne(p *Profile) {
	e.line.DriveLow()
	e.wait.Wait(p.LowOne)
	e.line.ReleaseHigh()
	e.wait.Wait(p.OneHigh())
}

// transmitZero is the same frame shape as transmitOne with the wider '0'
// low pulse. The high holds of the two symbols differ: each is computed as
// the complement of the bit period, never assumed equal.
func (e *executor) transmitZero(p *Profile) {
	e.line.DriveLow()
	e.wait.Wait(p.LowZero)
	e.line.ReleaseHigh()
	e.wait.Wait(p.ZeroHigh())
}

// readBit opens a read slot with a short low pulse, waits the minimum
// recovery time, samples the line, then holds high for the remainder of the
// bit period.
func (e *executor) readBit(p *Profile) byte {
	e.line.DriveLow()
	e.wait.Wait(p.ReadPulse)
	e.line.ReleaseHigh()
	e.wait.Wait(p.Recovery)
	v := e.line.Sample() & 0x01
	e.wait.Wait(p.ReadHigh())
	e.line.ReleaseHigh()

	return v
}

// readAckNack reads the acknowledge slot: the addressed device pulls the
// line low to acknowledge.
func (e *executor) readAckNack(p *Profile) byte {
	if e.readBit(p) == 0 {
		return RespACK
	}

	return RespNACK
}

// --- Byte codec ---

// transmitByte shifts the byte out most-significant bit first, then reads
// the device's ACK/NACK slot.
func (e *executor) transmitByte(p *Profile, data byte) byte {
	for i := 0; i < 8; i++ {
		if data&0x80 != 0 {
			e.transmitOne(p)
		} else {
			e.transmitZero(p)
		}
		data <<= 1
	}

	return e.readAckNack(p)
}

// receiveByte assembles eight read slots most-significant bit first, then
// transmits the master's acknowledge slot: a '0' tells the device to keep
// streaming, a '1' (SendNACK) ends the read.
func (e *executor) receiveByte(p *Profile, directive byte) byte {
	var data byte
	for i := 0; i < 8; i++ {
		data = data<<1 | e.readBit(p)
	}

	if directive == SendNACK {
		e.transmitOne(p)
	} else {
		e.transmitZero(p)
	}

	return data
}

// --- Discovery ---

// discovery runs the reset and presence-detect handshake: startup hold,
// reset pulse, recovery, discovery request pulse, then a sample of the line.
// A device that is present holds the line low at the sampling instant.
func (e *executor) discovery() byte {
	e.line.ReleaseHigh()
	e.wait.Wait(discoveryStartupHold)
	e.line.DriveLow()
	e.wait.Wait(discoveryResetPulse)
	e.line.ReleaseHigh()
	e.wait.Wait(discoveryResetRecovery)

	e.line.DriveLow()
	e.wait.Wait(discoveryRequestPulse)
	e.line.ReleaseHigh()
	e.wait.Wait(discoverySampleDelay)

	rsp := RespNACK
	if e.line.Sample() == 0 {
		rsp = RespACK
	}
	e.wait.Wait(discoverySettleHold)

	return rsp
}
