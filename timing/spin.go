//go:build !tinygo

// Package timing implements the delay and atomic-scope primitives used by the
// bit-banged bus drivers.
package timing

import (
	"runtime"
	"sync"
	"time"

	"periph.io/x/host/v3/cpu"
)

// Spin is the Linux host implementation of envnode.Timing.
//
// User space cannot mask interrupts, so Atomic pins the calling goroutine to
// its OS thread and serializes every atomic scope of the process. Deployments
// that need tighter guarantees should isolate a CPU core for the process.
type Spin struct {
	mx   sync.Mutex
	spin func(time.Duration)
}

func NewSpin() *Spin {
	return &Spin{spin: cpu.Nanospin}
}

// Delay busy-waits for d. It never yields to the scheduler.
func (s *Spin) Delay(d time.Duration) {
	if d <= 0 {
		return
	}
	s.spin(d)
}

func (s *Spin) Atomic(action func()) {
	s.mx.Lock()
	defer s.mx.Unlock()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	action()
}
