package envnode

import (
	"time"
)

// OpenDrainLine is a single data line pulled high by an external resistor.
// Implementations only ever drive the line low or let it float; the high level
// comes from the pull-up.
type OpenDrainLine interface {
	DriveLow() error
	Release() error
	// Sample returns true when the line currently reads high.
	Sample() (bool, error)
}

// Timing provides the delays and the uninterruptible scope needed to bit-bang
// a timing-sensitive protocol.
type Timing interface {
	// Delay blocks the caller for at least d. It must not yield to other tasks.
	Delay(d time.Duration)
	// Atomic runs action with preemption suppressed for its whole duration.
	Atomic(action func())
}

type OneWireMaster interface {
	Reset() (bool, error)
	WriteByte(b byte) error
	ReadByte() (byte, error)
}
