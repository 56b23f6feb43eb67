package air

import (
	"context"
)

// CO2BehaviorFunc defines the function signature for CO2 behavior.
// It returns the concentration in ppm or an error.
type CO2BehaviorFunc func(ctx context.Context) (uint16, error)

// MockCO2Sensor is a mock implementation of a CO2 sensor that uses a behavior
// function to produce results without requiring a serial port.
type MockCO2Sensor struct {
	behavior CO2BehaviorFunc
}

// NewMockCO2Sensor creates a new mock CO2 sensor with the given behavior function.
// The behavior function is called whenever GetCO2 is invoked.
//
// Example usage:
//
//	sensor := NewMockCO2Sensor(func(ctx context.Context) (uint16, error) { return 640, nil })
//
//	// a module whose full-scale field is corrupted
//	sensor := NewMockCO2Sensor(func(ctx context.Context) (uint16, error) { return 0, ErrStructuralMismatch })
func NewMockCO2Sensor(behavior CO2BehaviorFunc) *MockCO2Sensor {
	return &MockCO2Sensor{behavior: behavior}
}

// GetCO2 returns the concentration by calling the behavior function.
func (m *MockCO2Sensor) GetCO2(ctx context.Context) (uint16, error) {
	return m.behavior(ctx)
}

// NewMockFrameSource returns a reader replaying the given frames back to back,
// as the module would emit them.
func NewMockFrameSource(frames ...Frame) *FrameSource {
	var data []byte
	for _, f := range frames {
		data = append(data, f[:]...)
	}
	return &FrameSource{data: data}
}

// FrameSource is an io.Reader over a fixed byte stream. Once drained it keeps
// returning (0, nil) like an idle serial port with a read timeout.
type FrameSource struct {
	data []byte
	// Chunk limits how many bytes a single Read returns, 0 means no limit.
	Chunk int
	// Idle is the number of empty reads to return before every non-empty one.
	Idle  int
	idles int
}

func (s *FrameSource) Read(p []byte) (int, error) {
	if len(s.data) == 0 {
		return 0, nil
	}
	if s.idles < s.Idle {
		s.idles++
		return 0, nil
	}
	s.idles = 0
	n := len(p)
	if s.Chunk > 0 && n > s.Chunk {
		n = s.Chunk
	}
	n = copy(p[:n], s.data)
	s.data = s.data[n:]
	return n, nil
}

// Append queues raw bytes after the remaining data.
func (s *FrameSource) Append(p ...byte) {
	s.data = append(s.data, p...)
}
