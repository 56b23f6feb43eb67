package pipeline

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/envnode/air"
	"github.com/mklimuk/envnode/environment"
	"github.com/mklimuk/envnode/snsctx"
)

// MockSink is a mock implementation of Sink using testify/mock
type MockSink struct {
	mock.Mock
}

func (m *MockSink) Publish(ctx context.Context, r Reading) error {
	args := m.Called(ctx, r)
	return args.Error(0)
}

func fixedClock(o *Opts) {
	o.now = func() time.Time { return time.Date(2025, 11, 20, 12, 0, 0, 0, time.UTC) }
}

func TestPipeline_Cycle(t *testing.T) {
	temp := environment.NewMockDS18B20(0x0190)
	co2 := air.NewMockCO2Sensor(func(ctx context.Context) (uint16, error) { return 640, nil })
	p := New(temp, co2, nil, WithNode("kitchen"), fixedClock)

	r := p.Cycle(context.Background())
	require.NotNil(t, r.Temperature)
	require.NotNil(t, r.CO2)
	assert.Equal(t, float32(25.0), *r.Temperature)
	assert.Equal(t, uint16(640), *r.CO2)
	assert.Equal(t, "kitchen", r.Node)
	assert.Equal(t, time.Date(2025, 11, 20, 12, 0, 0, 0, time.UTC), r.Time)
	assert.False(t, r.Empty())

	stats := p.Stats()
	assert.Equal(t, uint64(1), stats.Cycles)
	assert.Equal(t, uint64(1), stats.Temperatures)
	assert.Equal(t, uint64(1), stats.CO2Readings)
}

func TestPipeline_CycleNodeFromContext(t *testing.T) {
	p := New(environment.NewMockDS18B20(0x0190), nil, nil)
	r := p.Cycle(snsctx.SetNode(context.Background(), "attic"))
	assert.Equal(t, "attic", r.Node)
	assert.Nil(t, r.CO2)
}

func TestPipeline_SensorsRunConcurrently(t *testing.T) {
	delay := 50 * time.Millisecond
	temp := environment.NewMockTemperatureSensor(func(ctx context.Context) (float32, error) {
		time.Sleep(delay)
		return 21.0, nil
	})
	co2 := air.NewMockCO2Sensor(func(ctx context.Context) (uint16, error) {
		time.Sleep(delay)
		return 500, nil
	})
	p := New(temp, co2, nil)

	start := time.Now()
	r := p.Cycle(context.Background())
	assert.Less(t, time.Since(start), 2*delay)
	assert.False(t, r.Empty())
}

func TestPipeline_ExpectedFailuresLeaveFieldsNil(t *testing.T) {
	tests := []struct {
		name     string
		tempErr  error
		co2Err   error
		expected Stats
	}{
		{
			name:     "absent probe",
			tempErr:  environment.ErrSensorAbsent,
			expected: Stats{Cycles: 1, TemperatureAbsent: 1, CO2Readings: 1},
		},
		{
			name:     "bus error",
			tempErr:  errors.New("gpio"),
			expected: Stats{Cycles: 1, TemperatureErrors: 1, CO2Readings: 1},
		},
		{
			name:     "structural mismatch",
			co2Err:   air.ErrStructuralMismatch,
			expected: Stats{Cycles: 1, Temperatures: 1, CO2Rejected: 3},
		},
		{
			name:     "checksum mismatch",
			co2Err:   air.ErrChecksumMismatch,
			expected: Stats{Cycles: 1, Temperatures: 1, CO2Rejected: 3},
		},
		{
			name:     "serial error",
			co2Err:   errors.New("port closed"),
			expected: Stats{Cycles: 1, Temperatures: 1, CO2Errors: 1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			temp := environment.NewMockTemperatureSensor(func(ctx context.Context) (float32, error) {
				return 19.5, tt.tempErr
			})
			co2 := air.NewMockCO2Sensor(func(ctx context.Context) (uint16, error) { return 700, tt.co2Err })
			p := New(temp, co2, nil, WithCO2Attempts(3))

			r := p.Cycle(context.Background())
			assert.Equal(t, tt.tempErr != nil, r.Temperature == nil)
			assert.Equal(t, tt.co2Err != nil, r.CO2 == nil)
			assert.Equal(t, tt.expected, p.Stats())
		})
	}
}

func TestPipeline_CO2RetriesRejectedFrames(t *testing.T) {
	var calls int32
	co2 := air.NewMockCO2Sensor(func(ctx context.Context) (uint16, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return 0, air.ErrChecksumMismatch
		}
		return 812, nil
	})
	p := New(nil, co2, nil, WithCO2Attempts(3))

	r := p.Cycle(context.Background())
	require.NotNil(t, r.CO2)
	assert.Equal(t, uint16(812), *r.CO2)
	assert.Equal(t, uint64(2), p.Stats().CO2Rejected)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestPipeline_CycleWithRealFramer(t *testing.T) {
	src := air.NewMockFrameSource()
	src.Append(0x2C, 0x02, 0x80, 0x02, 0xFF, 0xB0)
	src.Append(air.NewFrame(640).Bytes()...)
	co2 := air.NewCO2(src, air.WithIdleBackoff(time.Millisecond))
	p := New(nil, co2, nil)

	r := p.Cycle(context.Background())
	require.NotNil(t, r.CO2)
	assert.Equal(t, uint16(640), *r.CO2)
	assert.Equal(t, uint64(1), co2.Stats().Structural)
	assert.Equal(t, uint64(1), p.Stats().CO2Readings)
}

func TestPipeline_CycleUsesNewestBufferedFrame(t *testing.T) {
	// frames queue up in the port between two cycles
	var backlog bytes.Buffer
	for range 149 {
		backlog.Write(air.NewFrame(400).Bytes())
	}
	backlog.Write(air.NewFrame(900).Bytes())
	co2 := air.NewCO2(&backlog)
	p := New(nil, co2, nil)

	r := p.Cycle(context.Background())
	require.NotNil(t, r.CO2)
	assert.Equal(t, uint16(900), *r.CO2)
	assert.Zero(t, backlog.Len())
	assert.Equal(t, uint64(150), co2.Stats().Accepted)
}

// scriptedReader returns one chunk per Read; an empty chunk is an idle read.
type scriptedReader struct {
	chunks [][]byte
}

func (r *scriptedReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		return 0, nil
	}
	n := copy(p, r.chunks[0])
	r.chunks = r.chunks[1:]
	return n, nil
}

func TestPipeline_RejectedBacklogRetriesWithFreshFrame(t *testing.T) {
	src := &scriptedReader{chunks: [][]byte{
		{0x2C, 0x02, 0x80, 0x03, 0xFF, 0x00},
		{},
		air.NewFrame(515).Bytes(),
	}}
	co2 := air.NewCO2(src, air.WithIdleBackoff(time.Millisecond))
	p := New(nil, co2, nil, WithCO2Attempts(2))

	r := p.Cycle(context.Background())
	require.NotNil(t, r.CO2)
	assert.Equal(t, uint16(515), *r.CO2)
	assert.Equal(t, uint64(1), p.Stats().CO2Rejected)
	assert.Equal(t, uint64(1), p.Stats().CO2Readings)
}

func TestPipeline_CycleTimeout(t *testing.T) {
	co2 := air.NewMockCO2Sensor(func(ctx context.Context) (uint16, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	p := New(environment.NewMockDS18B20(0x0190), co2, nil, WithCycleTimeout(20*time.Millisecond))

	r := p.Cycle(context.Background())
	assert.NotNil(t, r.Temperature)
	assert.Nil(t, r.CO2)
	assert.Equal(t, uint64(1), p.Stats().CO2Errors)
}

func TestPipeline_RunPublishes(t *testing.T) {
	sink := new(MockSink)
	var mu sync.Mutex
	var published []Reading
	sink.On("Publish", mock.Anything, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		mu.Lock()
		defer mu.Unlock()
		published = append(published, args.Get(1).(Reading))
	})

	p := New(environment.NewMockDS18B20(0x0190, 0x0191), nil, sink, WithInterval(10*time.Millisecond))
	ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
	defer cancel()

	err := p.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(published), 2)
	assert.Equal(t, float32(25.0), *published[0].Temperature)
	assert.Equal(t, float32(25.0625), *published[1].Temperature)
	assert.Equal(t, uint64(len(published)), p.Stats().Published)
}

func TestPipeline_RunSkipsEmptyReadings(t *testing.T) {
	sink := new(MockSink)
	temp := environment.NewMockDS18B20()
	p := New(temp, nil, sink, WithInterval(5*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_ = p.Run(ctx)

	sink.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
	stats := p.Stats()
	assert.Positive(t, stats.Cycles)
	assert.Equal(t, stats.Cycles, stats.TemperatureAbsent)
}

func TestPipeline_PublishErrorIsCounted(t *testing.T) {
	sink := new(MockSink)
	sink.On("Publish", mock.Anything, mock.Anything).Return(errors.New("server down"))
	p := New(environment.NewMockDS18B20(0x0190), nil, sink, WithInterval(time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_ = p.Run(ctx)

	assert.Equal(t, uint64(1), p.Stats().PublishErrors)
	assert.Zero(t, p.Stats().Published)
}
