package command

import (
	"errors"
	"fmt"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/jjsch-dev/go-swi/internal/hexutil"
	"github.com/jjsch-dev/go-swi/logger"
	"github.com/jjsch-dev/go-swi/swi"
)

// Built-in command names.
const (
	CmdDiscoveryResponse = "discoveryResponse"
	CmdTxByte            = "txByte"
	CmdRxByte            = "rxByte"
	CmdManufacturerID    = "manufacturerId"
	CmdReadBlock         = "readBlock"
	CmdSetSpeed          = "setSpeed"
)

// DefaultBlockLength is the readBlock length when the len field is absent.
const DefaultBlockLength = 10

// Handler processes one decoded request and produces its response.
type Handler func(req *Request) *Response

// SpeedHook is invoked after a successful setSpeed so collaborators that
// decode line timing (e.g. a simulated device) can follow the profile swap.
type SpeedHook func(p swi.Profile) error

// Dispatcher maps command names to handlers over one swi.Bus. The built-in
// commands are registered at construction; additional handlers can be added
// with Register at any time, including while the dispatcher is serving.
type Dispatcher struct {
	bus      *swi.Bus
	handlers *xsync.MapOf[string, Handler]
	onSpeed  SpeedHook
	logger   logger.Logger
}

// NewDispatcher creates a dispatcher for the given bus.
func NewDispatcher(bus *swi.Bus, opts ...DispatcherOption) (*Dispatcher, error) {
	if bus == nil {
		return nil, errors.New("command: bus is nil")
	}

	d := &Dispatcher{
		bus:      bus,
		handlers: xsync.NewMapOf[string, Handler](),
		logger:   logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(d); err != nil {
			return nil, err
		}
	}

	d.handlers.Store(CmdDiscoveryResponse, d.handleDiscovery)
	d.handlers.Store(CmdTxByte, d.handleTxByte)
	d.handlers.Store(CmdRxByte, d.handleRxByte)
	d.handlers.Store(CmdManufacturerID, d.handleManufacturerID)
	d.handlers.Store(CmdReadBlock, d.handleReadBlock)
	d.handlers.Store(CmdSetSpeed, d.handleSetSpeed)

	return d, nil
}

// Register adds or replaces a handler for the given command name.
func (d *Dispatcher) Register(name string, h Handler) error {
	if name == "" {
		return errors.New("command: handler name is empty")
	}
	if h == nil {
		return errors.New("command: handler is nil")
	}

	d.handlers.Store(name, h)

	return nil
}

// Dispatch decodes one request line and runs its handler. It always returns
// a response; decode and lookup failures yield error responses tagged with
// the "parse" and "unknown" pseudo commands.
func (d *Dispatcher) Dispatch(line []byte) *Response {
	req, err := DecodeRequest(line)
	if err != nil {
		d.logger.Debug("request decode failed", "error", err)
		return Error(CommandParse, "failed to parse JSON")
	}

	h, ok := d.handlers.Load(req.Command)
	if !ok {
		return Error(CommandUnknown, "invalid command")
	}

	d.logger.Debug("dispatch command", "command", req.Command)

	return h(req)
}

// --- Built-in handlers ---

func (d *Dispatcher) handleDiscovery(_ *Request) *Response {
	ack, err := d.bus.Discovery()
	if err != nil {
		return Error(CmdDiscoveryResponse, err.Error())
	}

	return Success(CmdDiscoveryResponse, ackString(ack))
}

func (d *Dispatcher) handleTxByte(req *Request) *Response {
	var data byte
	if req.Data != "" {
		v, err := hexutil.ParseByte(req.Data)
		if err != nil {
			return Error(CmdTxByte, err.Error())
		}
		data = v
	}

	ack, err := d.bus.TransmitByte(data)
	if err != nil {
		return Error(CmdTxByte, err.Error())
	}

	return Success(CmdTxByte, ackString(ack))
}

func (d *Dispatcher) handleRxByte(_ *Request) *Response {
	data, err := d.bus.ReceiveByte(true)
	if err != nil {
		return Error(CmdRxByte, err.Error())
	}

	return Success(CmdRxByte, hexutil.FormatByte(data))
}

func (d *Dispatcher) handleManufacturerID(req *Request) *Response {
	devAddr, rsp := parseByteField(CmdManufacturerID, req.DevAddr)
	if rsp != nil {
		return rsp
	}

	id, err := d.bus.ReadManufacturerID(devAddr)
	if err != nil {
		return Error(CmdManufacturerID, err.Error())
	}
	// Zero is not a legal manufacturer ID.
	if id == 0 {
		return Error(CmdManufacturerID, "manufacturer ID is zero")
	}

	return Success(CmdManufacturerID, hexutil.FormatUint32(id))
}

func (d *Dispatcher) handleReadBlock(req *Request) *Response {
	devAddr, rsp := parseByteField(CmdReadBlock, req.DevAddr)
	if rsp != nil {
		return rsp
	}

	startAddr, rsp := parseByteField(CmdReadBlock, req.StartAddr)
	if rsp != nil {
		return rsp
	}

	length := DefaultBlockLength
	if req.Len != "" {
		v, err := hexutil.ParseByte(req.Len)
		if err != nil {
			return Error(CmdReadBlock, err.Error())
		}
		length = int(v)
	}

	data, err := d.bus.ReadBlock(devAddr, startAddr, length)
	if err != nil {
		return Error(CmdReadBlock, err.Error())
	}

	return Success(CmdReadBlock, hexutil.FormatBytes(data))
}

func (d *Dispatcher) handleSetSpeed(req *Request) *Response {
	p, err := swi.ProfileByName(req.Speed)
	if err != nil {
		return Error(CmdSetSpeed, err.Error())
	}

	if err := d.bus.SetSpeed(p); err != nil {
		return Error(CmdSetSpeed, err.Error())
	}

	if d.onSpeed != nil {
		if err := d.onSpeed(p); err != nil {
			return Error(CmdSetSpeed, fmt.Sprintf("speed hook: %v", err))
		}
	}

	return Success(CmdSetSpeed, req.Speed)
}

func parseByteField(cmd, field string) (byte, *Response) {
	if field == "" {
		return 0, nil
	}

	v, err := hexutil.ParseByte(field)
	if err != nil {
		return 0, Error(cmd, err.Error())
	}

	return v, nil
}

func ackString(ack bool) string {
	if ack {
		return "ACK"
	}

	return "NACK"
}

// --- DispatcherOption ---

// DispatcherOption is a functional option for configuring a Dispatcher.
type DispatcherOption interface {
	apply(*Dispatcher) error
}

type dispatcherOptFunc func(*Dispatcher) error

func (f dispatcherOptFunc) apply(d *Dispatcher) error { return f(d) }

// WithLogger sets the logger for the dispatcher and its server.
func WithLogger(l logger.Logger) DispatcherOption {
	return dispatcherOptFunc(func(d *Dispatcher) error {
		if l == nil {
			return errors.New("command: logger must not be nil")
		}
		d.logger = l

		return nil
	})
}

// WithSpeedHook sets the hook invoked after each successful setSpeed.
func WithSpeedHook(hook SpeedHook) DispatcherOption {
	return dispatcherOptFunc(func(d *Dispatcher) error {
		d.onSpeed = hook
		return nil
	})
}
