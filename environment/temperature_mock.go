package environment

import (
	"context"
)

// TemperatureBehaviorFunc defines the function signature for temperature behavior.
// It returns the temperature in Celsius or an error.
type TemperatureBehaviorFunc func(ctx context.Context) (float32, error)

// MockTemperatureSensor is a mock implementation of a temperature probe that uses a behavior function
// to produce results without a 1-Wire bus.
type MockTemperatureSensor struct {
	behavior TemperatureBehaviorFunc
}

// NewMockTemperatureSensor creates a new mock temperature sensor with the given behavior function.
// The behavior function is called whenever GetTemperature is invoked.
//
// Example usage:
//
//	sensor := NewMockTemperatureSensor(func(ctx context.Context) (float32, error) { return 25.0, nil })
//
//	// a probe that was unplugged
//	sensor := NewMockTemperatureSensor(func(ctx context.Context) (float32, error) { return 0, ErrSensorAbsent })
func NewMockTemperatureSensor(behavior TemperatureBehaviorFunc) *MockTemperatureSensor {
	return &MockTemperatureSensor{behavior: behavior}
}

// GetTemperature returns the temperature by calling the behavior function.
func (m *MockTemperatureSensor) GetTemperature(ctx context.Context) (float32, error) {
	return m.behavior(ctx)
}

// NewMockDS18B20 returns a mock probe reporting the temperature encoded in raw
// scratchpad words, one per call. The last word repeats once the list is
// exhausted.
func NewMockDS18B20(raw ...uint16) *MockTemperatureSensor {
	i := 0
	return NewMockTemperatureSensor(func(ctx context.Context) (float32, error) {
		if len(raw) == 0 {
			return 0, ErrSensorAbsent
		}
		w := raw[min(i, len(raw)-1)]
		i++
		return DecodeTemperature(w), nil
	})
}
