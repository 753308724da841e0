package swi

import "time"

// Line is the open-drain abstraction over the single bidirectional signal.
//
// DriveLow configures the pin for output with a pre-established zero output
// latch, forcing the shared line low. ReleaseHigh configures the pin for
// input so the external pull-up can restore the line. Sample configures the
// pin for input and returns the observed level.
//
// Drive operations carry no error return: a stuck or floating line surfaces
// only as protocol-level NACKs or mismatched verified reads.
type Line interface {
	DriveLow()
	ReleaseHigh()
	Sample() byte
}

// Waiter performs the calibrated busy-wait that paces every bit-banged
// operation. Implementations must not yield to the scheduler for durations
// in the microsecond range.
type Waiter interface {
	Wait(d time.Duration)
}

// SpinWaiter busy-waits on the monotonic clock.
//
// time.Sleep cannot hold sub-microsecond windows; spinning on time.Since is
// the host-side analog of the cycle-counted delay loop used on the
// microcontroller.
type SpinWaiter struct{}

func (SpinWaiter) Wait(d time.Duration) {
	start := time.Now()
	for time.Since(start) < d { //nolint:revive // intentional busy loop
	}
}
