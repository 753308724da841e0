package command_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jjsch-dev/go-swi/at21"
	"github.com/jjsch-dev/go-swi/command"
	"github.com/jjsch-dev/go-swi/swi"
)

// newTestDispatcher assembles the full stack: simulated device, started bus
// and a dispatcher whose speed hook keeps the device in step with setSpeed.
func newTestDispatcher(t *testing.T, devOpts ...at21.Option) (*command.Dispatcher, *at21.Device, *swi.Bus) {
	t.Helper()

	dev, err := at21.NewDevice(devOpts...)
	require.NoError(t, err)

	cfg, err := swi.NewBusConfig(dev, swi.WithWaiter(dev))
	require.NoError(t, err)

	bus, err := swi.NewBus(cfg)
	require.NoError(t, err)

	require.NoError(t, bus.Start(context.Background()))
	t.Cleanup(bus.Close)

	dsp, err := command.NewDispatcher(bus, command.WithSpeedHook(dev.SetProfile))
	require.NoError(t, err)

	return dsp, dev, bus
}

// --- Built-in command tests ---

func TestDispatcher_Discovery(t *testing.T) {
	dsp, _, _ := newTestDispatcher(t)

	rsp := dsp.Dispatch([]byte(`{"command": "discoveryResponse"}`))
	assert.Equal(t, command.StatusSuccess, rsp.Status)
	assert.Equal(t, command.CmdDiscoveryResponse, rsp.Command)
	assert.Equal(t, "ACK", rsp.Response)
}

func TestDispatcher_DiscoveryAbsent(t *testing.T) {
	dsp, _, _ := newTestDispatcher(t, at21.WithAbsent())

	// No device is not a transport failure; the answer is a clean NACK.
	rsp := dsp.Dispatch([]byte(`{"command": "discoveryResponse"}`))
	assert.Equal(t, command.StatusSuccess, rsp.Status)
	assert.Equal(t, "NACK", rsp.Response)
}

func TestDispatcher_TxByte(t *testing.T) {
	dsp, _, _ := newTestDispatcher(t)

	rsp := dsp.Dispatch([]byte(`{"command": "txByte", "data": "0xA0"}`))
	assert.Equal(t, command.StatusSuccess, rsp.Status)
	assert.Equal(t, "ACK", rsp.Response)
}

func TestDispatcher_TxByteDefaultsToZero(t *testing.T) {
	dsp, _, _ := newTestDispatcher(t)

	// 0x00 is not a recognized device opcode, so the device stays silent.
	rsp := dsp.Dispatch([]byte(`{"command": "txByte"}`))
	assert.Equal(t, command.StatusSuccess, rsp.Status)
	assert.Equal(t, "NACK", rsp.Response)
}

func TestDispatcher_TxByteBadHex(t *testing.T) {
	dsp, _, _ := newTestDispatcher(t)

	rsp := dsp.Dispatch([]byte(`{"command": "txByte", "data": "0xZZ"}`))
	assert.Equal(t, command.StatusError, rsp.Status)
	assert.Equal(t, command.CmdTxByte, rsp.Command)
}

func TestDispatcher_RxByteIdleLine(t *testing.T) {
	dsp, _, _ := newTestDispatcher(t)

	// With no read in progress the pull-up answers every slot.
	rsp := dsp.Dispatch([]byte(`{"command": "rxByte"}`))
	assert.Equal(t, command.StatusSuccess, rsp.Status)
	assert.Equal(t, "0xFF", rsp.Response)
}

func TestDispatcher_ManufacturerID(t *testing.T) {
	dsp, _, _ := newTestDispatcher(t)

	rsp := dsp.Dispatch([]byte(`{"command": "manufacturerId", "dev_addr": "0x00"}`))
	assert.Equal(t, command.StatusSuccess, rsp.Status)
	assert.Equal(t, "0x0000D380", rsp.Response)
}

func TestDispatcher_ManufacturerIDZero(t *testing.T) {
	dsp, _, _ := newTestDispatcher(t, at21.WithManufacturerID(0))

	rsp := dsp.Dispatch([]byte(`{"command": "manufacturerId"}`))
	assert.Equal(t, command.StatusError, rsp.Status)
	assert.Equal(t, "manufacturer ID is zero", rsp.Response)
}

func TestDispatcher_ManufacturerIDAbsent(t *testing.T) {
	dsp, _, _ := newTestDispatcher(t, at21.WithAbsent())

	rsp := dsp.Dispatch([]byte(`{"command": "manufacturerId"}`))
	assert.Equal(t, command.StatusError, rsp.Status)
}

func TestDispatcher_ReadBlock(t *testing.T) {
	dsp, dev, _ := newTestDispatcher(t)
	dev.Load([]byte{0x00, 0x00, 0x11, 0x22, 0x33, 0x44})

	rsp := dsp.Dispatch([]byte(`{"command": "readBlock", "dev_addr": "0x00", "start_addr": "0x02", "len": "0x04"}`))
	require.Equal(t, command.StatusSuccess, rsp.Status)
	assert.Equal(t, []string{"0x11", "0x22", "0x33", "0x44"}, rsp.Response)
}

func TestDispatcher_ReadBlockDefaultLength(t *testing.T) {
	dsp, _, _ := newTestDispatcher(t)

	rsp := dsp.Dispatch([]byte(`{"command": "readBlock"}`))
	require.Equal(t, command.StatusSuccess, rsp.Status)

	data, ok := rsp.Response.([]string)
	require.True(t, ok)
	assert.Len(t, data, command.DefaultBlockLength)
}

func TestDispatcher_ReadBlockOutOfRange(t *testing.T) {
	dsp, dev, _ := newTestDispatcher(t)

	rsp := dsp.Dispatch([]byte(`{"command": "readBlock", "start_addr": "0x7E", "len": "0x10"}`))
	assert.Equal(t, command.StatusError, rsp.Status)
	assert.Zero(t, dev.Elapsed(), "range errors must not generate bus traffic")
}

func TestDispatcher_SetSpeed(t *testing.T) {
	dsp, dev, bus := newTestDispatcher(t)
	dev.Poke(0x00, 0x42)

	rsp := dsp.Dispatch([]byte(`{"command": "setSpeed", "speed": "standard"}`))
	require.Equal(t, command.StatusSuccess, rsp.Status)
	assert.Equal(t, "standard", rsp.Response)
	assert.Equal(t, swi.ProfileStandard, bus.Profile())

	// The stack still reads correctly at the new speed.
	rsp = dsp.Dispatch([]byte(`{"command": "readBlock", "len": "0x01"}`))
	require.Equal(t, command.StatusSuccess, rsp.Status)
	assert.Equal(t, []string{"0x42"}, rsp.Response)
}

func TestDispatcher_SetSpeedUnknown(t *testing.T) {
	dsp, _, bus := newTestDispatcher(t)

	rsp := dsp.Dispatch([]byte(`{"command": "setSpeed", "speed": "warp"}`))
	assert.Equal(t, command.StatusError, rsp.Status)
	assert.Equal(t, swi.ProfilePrusa, bus.Profile(), "a rejected speed must not be applied")
}

// --- Dispatch plumbing tests ---

func TestDispatcher_ParseError(t *testing.T) {
	dsp, _, _ := newTestDispatcher(t)

	rsp := dsp.Dispatch([]byte(`{"command": `))
	assert.Equal(t, command.StatusError, rsp.Status)
	assert.Equal(t, command.CommandParse, rsp.Command)
	assert.Equal(t, "failed to parse JSON", rsp.Response)
}

func TestDispatcher_UnknownCommand(t *testing.T) {
	dsp, _, _ := newTestDispatcher(t)

	rsp := dsp.Dispatch([]byte(`{"command": "selfDestruct"}`))
	assert.Equal(t, command.StatusError, rsp.Status)
	assert.Equal(t, command.CommandUnknown, rsp.Command)
	assert.Equal(t, "invalid command", rsp.Response)
}

func TestDispatcher_Register(t *testing.T) {
	dsp, _, _ := newTestDispatcher(t)

	err := dsp.Register("ping", func(_ *command.Request) *command.Response {
		return command.Success("ping", "pong")
	})
	require.NoError(t, err)

	rsp := dsp.Dispatch([]byte(`{"command": "ping"}`))
	assert.Equal(t, command.StatusSuccess, rsp.Status)
	assert.Equal(t, "pong", rsp.Response)
}

func TestDispatcher_RegisterValidation(t *testing.T) {
	dsp, _, _ := newTestDispatcher(t)

	assert.Error(t, dsp.Register("", func(_ *command.Request) *command.Response { return nil }))
	assert.Error(t, dsp.Register("noop", nil))
}

func TestNewDispatcher_NilBus(t *testing.T) {
	_, err := command.NewDispatcher(nil)
	assert.Error(t, err)
}
