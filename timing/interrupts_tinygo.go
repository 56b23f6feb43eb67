//go:build tinygo

// Package timing implements the delay and atomic-scope primitives used by the
// bit-banged bus drivers.
package timing

import (
	"runtime/interrupt"
	"time"
)

// Interrupts implements envnode.Timing on microcontrollers by masking
// interrupts for the duration of an atomic scope.
//
// Delay spins on the monotonic clock, so the target's clock source must keep
// counting while interrupts are disabled (true for timer-counter based ports
// such as rp2040 and esp32c3).
type Interrupts struct{}

func NewInterrupts() Interrupts {
	return Interrupts{}
}

func (Interrupts) Delay(d time.Duration) {
	if d <= 0 {
		return
	}
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
	}
}

func (Interrupts) Atomic(action func()) {
	state := interrupt.Disable()
	defer interrupt.Restore(state)
	action()
}
