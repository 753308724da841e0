package at21

import (
	"fmt"

	"github.com/jjsch-dev/go-swi/swi"
)

// Option is a functional option for configuring a Device.
type Option interface {
	apply(*Device) error
}

type optFunc func(*Device) error

func (f optFunc) apply(d *Device) error { return f(d) }

// WithProfile sets the timing profile the device decodes pulses against.
// It must match the profile the bus transmits with.
func WithProfile(p swi.Profile) Option {
	return optFunc(func(d *Device) error {
		if err := p.Validate(); err != nil {
			return err
		}
		d.profile = p

		return nil
	})
}

// WithDeviceAddress sets the slave address bits the device answers to.
// The address occupies bits 3..1 of the opcode byte.
func WithDeviceAddress(addr byte) Option {
	return optFunc(func(d *Device) error {
		if addr&^0x0E != 0 {
			return fmt.Errorf("at21: device address 0x%02X outside bits 3..1", addr)
		}
		d.devAddr = addr

		return nil
	})
}

// WithManufacturerID sets the 24-bit manufacturer and density ID.
func WithManufacturerID(id uint32) Option {
	return optFunc(func(d *Device) error {
		if id > 0x00FFFFFF {
			return fmt.Errorf("at21: manufacturer ID 0x%08X exceeds 24 bits", id)
		}
		d.mfrID = id

		return nil
	})
}

// WithMemory preloads the memory array starting at address 0.
func WithMemory(data []byte) Option {
	return optFunc(func(d *Device) error {
		if len(data) > swi.MemorySize {
			return fmt.Errorf("at21: memory image %d bytes exceeds %d", len(data), swi.MemorySize)
		}
		copy(d.mem[:], data)

		return nil
	})
}

// WithAbsent creates the device in the absent state; discovery observes a
// NACK until SetPresent(true).
func WithAbsent() Option {
	return optFunc(func(d *Device) error {
		d.present = false
		return nil
	})
}
