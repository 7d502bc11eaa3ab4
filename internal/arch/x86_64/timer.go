package x8664

import (
	"context"
	"errors"

	"github.com/cenkalti/backoff/v5"
)

// TimerPort is the external timer/APIC driver collaborator spec.md §1
// scopes out of the core ("driver ports for timer/APIC used by the
// scheduler"); this package only consumes it.
type TimerPort interface {
	// SamplePITTicks busy-waits on the PIT for one calibration window and
	// returns how many LAPIC ticks elapsed over it. Noisy under
	// virtualization: a single bad sample shouldn't abort calibration.
	SamplePITTicks() (lapicTicks uint64, err error)
}

// ErrCalibrationFailed is returned when every retry attempt errors out.
var ErrCalibrationFailed = errors.New("x8664: LAPIC calibration failed")

// CalibrateLAPIC derives a LAPIC tick-to-nanosecond ratio by sampling
// port over a fixed PIT window, retrying with bounded exponential
// backoff since a single virtualized-hardware sample is often noisy
// (spec.md §4.I step 7).
func CalibrateLAPIC(ctx context.Context, port TimerPort, windowNS uint64) (ticksPerNS float64, err error) {
	op := func() (uint64, error) {
		return port.SamplePITTicks()
	}

	b := backoff.NewExponentialBackOff()
	ticks, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(5),
	)
	if err != nil {
		return 0, ErrCalibrationFailed
	}
	if ticks == 0 {
		return 0, ErrCalibrationFailed
	}
	return float64(ticks) / float64(windowNS), nil
}

// PITFrequencyDivisor computes the PIT reload value for targetHz, for
// the PIC-remap fallback path (spec.md §4.I step 7: "PIT to 100 Hz").
func PITFrequencyDivisor(targetHz uint32) uint16 {
	const pitBaseHz = 1193182
	if targetHz == 0 {
		targetHz = 100
	}
	div := pitBaseHz / targetHz
	if div > 0xFFFF {
		div = 0xFFFF
	}
	return uint16(div)
}
