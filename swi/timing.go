package swi

import (
	"fmt"
	"time"
)

// Profile defines one single-wire operating speed as an immutable set of
// calibrated durations.
//
// The two transmit symbols are distinguished by low-pulse width, not by the
// high hold: LowZero is always wider than LowOne, and each symbol's high hold
// is the complement of the bit period.
type Profile struct {
	// Bit is the total bit frame period.
	Bit time.Duration
	// LowOne is the low-pulse width of a transmitted '1'.
	LowOne time.Duration
	// LowZero is the low-pulse width of a transmitted '0'.
	LowZero time.Duration
	// ReadPulse is the low-pulse width that opens a read slot.
	ReadPulse time.Duration
	// Recovery is the minimum recovery time between releasing the line
	// and sampling it in a read slot.
	Recovery time.Duration
}

// Predefined speed profiles.
//
// ProfilePrusa matches the timings the original firmware tool used as its
// baseline; ProfileStandard and ProfileHighSpeed follow the Atmel datasheet
// values for Standard Speed and High-Speed mode.
var (
	ProfilePrusa = Profile{
		Bit:       25 * time.Microsecond,
		LowOne:    2 * time.Microsecond,
		LowZero:   10 * time.Microsecond,
		ReadPulse: 1 * time.Microsecond,
		Recovery:  1 * time.Microsecond,
	}

	ProfileStandard = Profile{
		Bit:       45 * time.Microsecond,
		LowOne:    4 * time.Microsecond,
		LowZero:   24 * time.Microsecond,
		ReadPulse: 4 * time.Microsecond,
		Recovery:  2 * time.Microsecond,
	}

	ProfileHighSpeed = Profile{
		Bit:       15 * time.Microsecond,
		LowOne:    1 * time.Microsecond,
		LowZero:   10 * time.Microsecond,
		ReadPulse: 1 * time.Microsecond,
		Recovery:  1 * time.Microsecond,
	}
)

// ProfileByName returns a predefined profile by its configuration name:
// "prusa", "standard" or "high".
func ProfileByName(name string) (Profile, error) {
	switch name {
	case "prusa":
		return ProfilePrusa, nil
	case "standard":
		return ProfileStandard, nil
	case "high":
		return ProfileHighSpeed, nil
	default:
		return Profile{}, fmt.Errorf("%w: unknown speed %q", ErrInvalidProfile, name)
	}
}

// Validate checks the profile invariants:
//   - all durations are positive
//   - LowZero > LowOne (the symbols differ by low-pulse width)
//   - the bit period covers the low pulse of both symbols
//   - ReadPulse + Recovery fit inside the bit period
func (p Profile) Validate() error {
	if p.Bit <= 0 || p.LowOne <= 0 || p.LowZero <= 0 || p.ReadPulse <= 0 || p.Recovery <= 0 {
		return fmt.Errorf("%w: all durations must be positive", ErrInvalidProfile)
	}
	if p.LowZero <= p.LowOne {
		return fmt.Errorf("%w: LowZero (%v) must exceed LowOne (%v)", ErrInvalidProfile, p.LowZero, p.LowOne)
	}
	if p.Bit < p.LowZero {
		return fmt.Errorf("%w: bit period %v shorter than LowZero %v", ErrInvalidProfile, p.Bit, p.LowZero)
	}
	if p.ReadPulse+p.Recovery >= p.Bit {
		return fmt.Errorf("%w: ReadPulse+Recovery (%v) must be below bit period %v",
			ErrInvalidProfile, p.ReadPulse+p.Recovery, p.Bit)
	}

	return nil
}

// OneHigh returns the high hold after the low pulse of a transmitted '1'.
func (p Profile) OneHigh() time.Duration { return p.Bit - p.LowOne }

// ZeroHigh returns the high hold after the low pulse of a transmitted '0'.
func (p Profile) ZeroHigh() time.Duration { return p.Bit - p.LowZero }

// ReadHigh returns the remainder of the bit period after the read pulse,
// recovery time and sample point of a read slot.
func (p Profile) ReadHigh() time.Duration { return p.Bit - p.ReadPulse - p.Recovery }
