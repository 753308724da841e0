package swi_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jjsch-dev/go-swi/at21"
	"github.com/jjsch-dev/go-swi/swi"
)

// newTestBus wires a started bus to a simulated device that also serves as
// the waiter, so all protocol delays advance the device's virtual clock and
// tests complete without real-time sleeps.
func newTestBus(t *testing.T, devOpts ...at21.Option) (*swi.Bus, *at21.Device) {
	t.Helper()

	dev, err := at21.NewDevice(devOpts...)
	require.NoError(t, err)

	cfg, err := swi.NewBusConfig(dev, swi.WithWaiter(dev))
	require.NoError(t, err)

	bus, err := swi.NewBus(cfg)
	require.NoError(t, err)

	require.NoError(t, bus.Start(context.Background()))
	t.Cleanup(bus.Close)

	return bus, dev
}

// --- Lifecycle tests ---

func TestBus_StartTwice(t *testing.T) {
	bus, _ := newTestBus(t)

	err := bus.Start(context.Background())
	require.Error(t, err)
}

func TestBus_ClosedBusRejectsOperations(t *testing.T) {
	bus, _ := newTestBus(t)
	bus.Close()

	_, err := bus.Discovery()
	assert.ErrorIs(t, err, swi.ErrBusClosed)

	_, err = bus.ReadByte(0, 0)
	assert.ErrorIs(t, err, swi.ErrBusClosed)

	_, err = bus.ReadBlock(0, 0, 4)
	assert.ErrorIs(t, err, swi.ErrBusClosed)

	// Close is idempotent.
	bus.Close()
}

// --- Discovery tests ---

func TestBus_Discovery(t *testing.T) {
	bus, _ := newTestBus(t)

	present, err := bus.Discovery()
	require.NoError(t, err)
	assert.True(t, present)
}

func TestBus_DiscoveryAbsentDevice(t *testing.T) {
	bus, _ := newTestBus(t, at21.WithAbsent())

	present, err := bus.Discovery()
	require.NoError(t, err)
	assert.False(t, present, "an absent device never answers the presence pulse")
}

func TestBus_DiscoveryAfterReappearance(t *testing.T) {
	bus, dev := newTestBus(t, at21.WithAbsent())

	present, err := bus.Discovery()
	require.NoError(t, err)
	require.False(t, present)

	dev.SetPresent(true)

	present, err = bus.Discovery()
	require.NoError(t, err)
	assert.True(t, present)
}

// --- Byte primitive tests ---

func TestBus_TransmitByteAck(t *testing.T) {
	bus, _ := newTestBus(t)

	ack, err := bus.TransmitByte(swi.OpcodeEEPROMAccess)
	require.NoError(t, err)
	assert.True(t, ack)
}

func TestBus_TransmitByteNackWrongAddress(t *testing.T) {
	bus, _ := newTestBus(t, at21.WithDeviceAddress(0x02))

	ack, err := bus.TransmitByte(swi.OpcodeEEPROMAccess) // addresses device 0
	require.NoError(t, err)
	assert.False(t, ack)
	assert.Equal(t, uint64(1), bus.Metrics().NackCount.Load())
}

// --- Manufacturer ID tests ---

func TestBus_ReadManufacturerID(t *testing.T) {
	tests := []struct {
		desc string
		id   uint32
	}{
		{"AT21CS01", swi.ManufacturerIDAT21CS01},
		{"AT21CS11", swi.ManufacturerIDAT21CS11},
	}

	for _, tt := range tests {
		bus, _ := newTestBus(t, at21.WithManufacturerID(tt.id))

		id, err := bus.ReadManufacturerID(0)
		require.NoError(t, err, tt.desc)
		assert.Equal(t, tt.id, id, tt.desc)
	}
}

func TestBus_ReadManufacturerIDAbsent(t *testing.T) {
	bus, _ := newTestBus(t, at21.WithAbsent())

	_, err := bus.ReadManufacturerID(0)
	assert.ErrorIs(t, err, swi.ErrDeviceAbsent)
}

// --- Address loading tests ---

func TestBus_LoadAddress(t *testing.T) {
	bus, _ := newTestBus(t)

	require.NoError(t, bus.LoadAddress(0, 0x10))
}

func TestBus_LoadAddressRange(t *testing.T) {
	bus, dev := newTestBus(t)

	err := bus.LoadAddress(0, 0x81)
	assert.ErrorIs(t, err, swi.ErrAddressRange)
	assert.Zero(t, dev.Elapsed(), "a range error must not generate bus traffic")

	// 0x80 passes the dispatch-side bound but the device NACKs it: the
	// addressable array ends at 0x7F.
	err = bus.LoadAddress(0, 0x80)
	assert.ErrorIs(t, err, swi.ErrAddressNACK)
}

func TestBus_LoadAddressWrongDevice(t *testing.T) {
	bus, _ := newTestBus(t, at21.WithDeviceAddress(0x04))

	err := bus.LoadAddress(0, 0x00)
	assert.ErrorIs(t, err, swi.ErrDeviceNACK)
}

// --- Read tests ---

func TestBus_ReadByte(t *testing.T) {
	bus, dev := newTestBus(t)
	dev.Poke(0x21, 0x5A)

	v, err := bus.ReadByte(0, 0x21)
	require.NoError(t, err)
	assert.Equal(t, byte(0x5A), v)
}

func TestBus_VerifiedReadClean(t *testing.T) {
	bus, dev := newTestBus(t)
	dev.Poke(0x05, 0x42)

	v, err := bus.VerifiedRead(0, 0x05)
	require.NoError(t, err)
	assert.Equal(t, byte(0x42), v)
	assert.Zero(t, bus.Metrics().VerifyRetryCount.Load(), "matching samples need no third read")
}

func TestBus_VerifiedReadFirstTwoAgree(t *testing.T) {
	bus, dev := newTestBus(t)

	// The third scripted value must never be consumed: two matching samples
	// end the read.
	dev.ScriptReads(0x05, 0x05, 0x05, 0x06)

	v, err := bus.VerifiedRead(0, 0x05)
	require.NoError(t, err)
	assert.Equal(t, byte(0x05), v)
	assert.Zero(t, bus.Metrics().VerifyRetryCount.Load())
}

func TestBus_VerifiedReadMajority(t *testing.T) {
	tests := []struct {
		desc    string
		samples []byte
		want    byte
	}{
		{"noise on first sample", []byte{0x99, 0x42, 0x42}, 0x42},
		{"noise on second sample", []byte{0x42, 0x99, 0x42}, 0x42},
	}

	for _, tt := range tests {
		bus, dev := newTestBus(t)
		dev.ScriptReads(0x05, tt.samples...)

		v, err := bus.VerifiedRead(0, 0x05)
		require.NoError(t, err, tt.desc)
		assert.Equal(t, tt.want, v, tt.desc)
		assert.Equal(t, uint64(1), bus.Metrics().VerifyRetryCount.Load(), tt.desc)
	}
}

func TestBus_VerifiedReadNoMajority(t *testing.T) {
	bus, dev := newTestBus(t)
	dev.ScriptReads(0x05, 0x01, 0x02, 0x03)

	_, err := bus.VerifiedRead(0, 0x05)
	assert.ErrorIs(t, err, swi.ErrReadIntegrity)
	assert.Equal(t, uint64(1), bus.Metrics().VerifyFailCount.Load())
}

// --- Block read tests ---

func TestBus_ReadBlock(t *testing.T) {
	bus, dev := newTestBus(t)
	dev.Load([]byte{0x11, 0x22, 0x33, 0x44})

	data, err := bus.ReadBlock(0, 0, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x11, 0x22, 0x33, 0x44}, data)
	assert.Equal(t, uint64(1), bus.Metrics().BlockReadCount.Load())
}

func TestBus_ReadBlockTail(t *testing.T) {
	bus, dev := newTestBus(t)
	dev.Poke(0x7F, 0xEE)

	data, err := bus.ReadBlock(0, 0x7E, 2)
	require.NoError(t, err)
	assert.Equal(t, byte(0xEE), data[1])
}

func TestBus_ReadBlockRange(t *testing.T) {
	bus, dev := newTestBus(t)

	tests := []struct {
		start  byte
		length int
	}{
		{start: 0x78, length: 20}, // runs past the end of the array
		{start: 0x00, length: -1},
		{start: 0x00, length: 129},
	}

	for _, tt := range tests {
		_, err := bus.ReadBlock(0, tt.start, tt.length)
		assert.ErrorIs(t, err, swi.ErrAddressRange, "start 0x%02X len %d", tt.start, tt.length)
	}

	assert.Zero(t, dev.Elapsed(), "range errors must not generate bus traffic")
	assert.Zero(t, bus.Metrics().CmdSendCount.Load())
}

func TestBus_ReadBlockAbsentDevice(t *testing.T) {
	bus, _ := newTestBus(t, at21.WithAbsent())

	_, err := bus.ReadBlock(0, 0, 4)
	assert.ErrorIs(t, err, swi.ErrDeviceAbsent)
}

func TestBus_ReadBlockAbortsOnIntegrityFailure(t *testing.T) {
	bus, dev := newTestBus(t)
	dev.Load([]byte{0x11, 0x22, 0x33, 0x44})
	dev.ScriptReads(0x02, 0x01, 0x02, 0x03)

	_, err := bus.ReadBlock(0, 0, 4)
	assert.ErrorIs(t, err, swi.ErrReadIntegrity)
	assert.Zero(t, bus.Metrics().BlockReadCount.Load())
}

// --- Speed tests ---

func TestBus_SetSpeed(t *testing.T) {
	bus, dev := newTestBus(t)

	require.NoError(t, bus.SetSpeed(swi.ProfileStandard))
	require.NoError(t, dev.SetProfile(swi.ProfileStandard))
	assert.Equal(t, swi.ProfileStandard, bus.Profile())

	// The bus still works at the new speed.
	dev.Poke(0x03, 0x77)
	v, err := bus.ReadByte(0, 0x03)
	require.NoError(t, err)
	assert.Equal(t, byte(0x77), v)
}

func TestBus_SetSpeedInvalid(t *testing.T) {
	bus, _ := newTestBus(t)

	err := bus.SetSpeed(swi.Profile{})
	assert.ErrorIs(t, err, swi.ErrInvalidProfile)
	assert.Equal(t, swi.ProfilePrusa, bus.Profile(), "a rejected profile must not be applied")
}

// --- Concurrency tests ---

func TestBus_ConcurrentOperationsAlternateStrictly(t *testing.T) {
	bus, dev := newTestBus(t)
	dev.Poke(0x01, 0xAB)

	const workers = 8

	var wg sync.WaitGroup
	wg.Add(workers)

	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()

			v, err := bus.ReadByte(0, 0x01)
			assert.NoError(t, err)
			assert.Equal(t, byte(0xAB), v)
		}()
	}

	wg.Wait()

	m := bus.Metrics()
	assert.Equal(t, m.CmdSendCount.Load(), m.RspRecvCount.Load(),
		"every request must be matched by exactly one response")
}
