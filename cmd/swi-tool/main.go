// Command swi-tool serves the JSON command interface of the single-wire
// EEPROM engine over stdio, a TCP listener, or a serial port.
//
// The bus runs against a simulated AT21CS01/AT21CS11 device; a hardware
// deployment substitutes its own swi.Line implementation (for example a
// TinyGo GPIO pin driver) without touching the rest of the stack.
//
// Usage:
//
//	swi-tool                          # serve requests on stdin/stdout
//	swi-tool -listen 127.0.0.1:5200   # serve TCP clients
//	swi-tool -serial /dev/ttyUSB0     # serve over a serial link
//
// Flags:
//
//	-speed     initial speed profile: prusa (default), standard, high
//	-device    simulated device type: cs11 (default) or cs01
//	-image     file preloaded into the simulated memory array (max 128 bytes)
//	-baud      serial baud rate (default 115200)
//	-debug     enable debug logging
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.bug.st/serial"

	"github.com/jjsch-dev/go-swi/at21"
	"github.com/jjsch-dev/go-swi/command"
	"github.com/jjsch-dev/go-swi/logger"
	"github.com/jjsch-dev/go-swi/swi"
)

func main() {
	listenAddr := flag.String("listen", "", "TCP listen address, e.g. 127.0.0.1:5200")
	serialDev := flag.String("serial", "", "serial device, e.g. /dev/ttyUSB0")
	baud := flag.Int("baud", 115200, "serial baud rate")
	speed := flag.String("speed", "prusa", "initial speed profile: prusa, standard or high")
	deviceType := flag.String("device", "cs11", "simulated device type: cs01 or cs11")
	imagePath := flag.String("image", "", "memory image preloaded into the simulated device")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := logger.InfoLevel
	if *debug {
		level = logger.DebugLevel
	}
	log := logger.NewSlog(level, false)

	if err := run(log, *listenAddr, *serialDev, *baud, *speed, *deviceType, *imagePath); err != nil {
		log.Fatal("swi-tool failed", "error", err)
	}
}

func run(log logger.Logger, listenAddr, serialDev string, baud int, speed, deviceType, imagePath string) error {
	profile, err := swi.ProfileByName(speed)
	if err != nil {
		return err
	}

	dev, err := buildDevice(profile, deviceType, imagePath)
	if err != nil {
		return err
	}

	// The simulated device doubles as the waiter so protocol delays advance
	// its virtual clock instead of burning host CPU.
	cfg, err := swi.NewBusConfig(dev,
		swi.WithProfile(profile),
		swi.WithWaiter(dev),
		swi.WithLogger(log),
	)
	if err != nil {
		return err
	}

	bus, err := swi.NewBus(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := bus.Start(ctx); err != nil {
		return err
	}
	defer bus.Close()

	dsp, err := command.NewDispatcher(bus,
		command.WithLogger(log),
		command.WithSpeedHook(dev.SetProfile),
	)
	if err != nil {
		return err
	}

	srv, err := command.NewServer(dsp)
	if err != nil {
		return err
	}

	log.Info("single-wire command tool ready",
		"speed", speed, "device", deviceType, "listen", listenAddr, "serial", serialDev)

	switch {
	case listenAddr != "":
		return srv.ListenAndServe(ctx, listenAddr)

	case serialDev != "":
		port, err := serial.Open(serialDev, &serial.Mode{BaudRate: baud})
		if err != nil {
			return fmt.Errorf("open serial %s: %w", serialDev, err)
		}
		defer port.Close()

		stop := context.AfterFunc(ctx, func() { _ = port.Close() })
		defer stop()

		err = srv.Serve(ctx, port)
		if ctx.Err() != nil {
			return nil
		}

		return err

	default:
		err := srv.Serve(ctx, stdio{})
		if ctx.Err() != nil {
			return nil
		}

		return err
	}
}

func buildDevice(profile swi.Profile, deviceType, imagePath string) (*at21.Device, error) {
	opts := []at21.Option{at21.WithProfile(profile)}

	switch deviceType {
	case "cs01":
		opts = append(opts, at21.WithManufacturerID(swi.ManufacturerIDAT21CS01))
	case "cs11":
		opts = append(opts, at21.WithManufacturerID(swi.ManufacturerIDAT21CS11))
	default:
		return nil, fmt.Errorf("unknown device type %q", deviceType)
	}

	if imagePath != "" {
		image, err := os.ReadFile(imagePath)
		if err != nil {
			return nil, fmt.Errorf("read memory image: %w", err)
		}
		opts = append(opts, at21.WithMemory(image))
	} else {
		opts = append(opts, at21.WithMemory(defaultImage()))
	}

	return at21.NewDevice(opts...)
}

// defaultImage fills the array with its own addresses so reads are easy to
// eyeball during interactive testing.
func defaultImage() []byte {
	image := make([]byte, swi.MemorySize)
	for i := range image {
		image[i] = byte(i)
	}

	return image
}

// stdio adapts stdin/stdout to one io.ReadWriter stream.
type stdio struct{}

func (stdio) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdio) Write(p []byte) (int, error) { return os.Stdout.Write(p) }

var _ io.ReadWriter = stdio{}
