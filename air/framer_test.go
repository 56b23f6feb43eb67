package air

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(f *Framer) []Frame {
	var frames []Frame
	for {
		frame, ok := f.Next()
		if !ok {
			return frames
		}
		frames = append(frames, frame)
	}
}

func TestFramer_SkipsGarbageBeforeHeader(t *testing.T) {
	f := NewFramer()
	f.Feed([]byte{0x00, 0x11, 0xFF, 0x03})
	f.Feed(NewFrame(640).Bytes())

	frames := drain(f)
	require.Len(t, frames, 1)
	assert.Equal(t, NewFrame(640), frames[0])
	assert.Equal(t, uint64(4), f.Dropped())
	assert.Zero(t, f.Buffered())
}

func TestFramer_HeaderInsideFrameIsData(t *testing.T) {
	f := NewFramer()
	// 0x2C as the high concentration byte must not restart collection
	frame := NewFrame(0x2C2C)
	f.Feed(frame.Bytes())

	frames := drain(f)
	require.Len(t, frames, 1)
	assert.Equal(t, frame, frames[0])
}

func TestFramer_SplitFeedsKeepProgress(t *testing.T) {
	f := NewFramer()
	stream := append(NewFrame(400).Bytes(), NewFrame(1200).Bytes()...)
	var frames []Frame
	for _, b := range stream {
		_, ok := f.Next()
		assert.False(t, ok, "no frame may be emitted before its last byte")
		f.Feed([]byte{b})
		frames = append(frames, drain(f)...)
	}
	require.Len(t, frames, 2)
	assert.Equal(t, NewFrame(400), frames[0])
	assert.Equal(t, NewFrame(1200), frames[1])
}

func TestFramer_PartialFrameIsNotEmitted(t *testing.T) {
	f := NewFramer()
	f.Feed([]byte{0x2C, 0x02, 0x80})
	_, ok := f.Next()
	assert.False(t, ok)
	assert.Equal(t, 3, f.Buffered())

	f.Feed([]byte{0x03, 0xFF, 0xB0})
	frame, ok := f.Next()
	require.True(t, ok)
	ppm, err := frame.Validate()
	require.NoError(t, err)
	assert.Equal(t, uint16(640), ppm)
}

func TestFramer_RejectResumesAfterHeader(t *testing.T) {
	f := NewFramer()
	// a corrupted frame whose tail hides the start of a good one
	good := NewFrame(800)
	f.Feed([]byte{0x2C, 0x05})
	f.Feed(good.Bytes())

	frame, ok := f.Next()
	require.True(t, ok)
	_, err := frame.Validate()
	require.ErrorIs(t, err, ErrStructuralMismatch)

	f.Reject(frame)
	frame, ok = f.Next()
	require.True(t, ok)
	assert.Equal(t, good, frame)
	assert.Equal(t, uint64(1), f.Dropped(), "only the byte after the rejected header is dropped")
}

func TestFramer_StructuralScenarioResumes(t *testing.T) {
	f := NewFramer()
	f.Feed([]byte{0x2C, 0x02, 0x80, 0x02, 0xFF, 0xB0})
	f.Feed(NewFrame(640).Bytes())

	frame, ok := f.Next()
	require.True(t, ok)
	_, err := frame.Validate()
	require.ErrorIs(t, err, ErrStructuralMismatch)
	f.Reject(frame)

	frames := drain(f)
	require.Len(t, frames, 1)
	ppm, err := frames[0].Validate()
	require.NoError(t, err)
	assert.Equal(t, uint16(640), ppm)
}

func TestFramer_EveryFrameStartsWithHeader(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	f := NewFramer()
	var accepted []uint16
	var expected []uint16
	for range 200 {
		noise := make([]byte, rnd.Intn(8))
		for i := range noise {
			// keep the noise header free so every good frame is recoverable
			noise[i] = byte(rnd.Intn(256))
			if noise[i] == FrameHeader {
				noise[i] = 0
			}
		}
		f.Feed(noise)
		ppm := uint16(rnd.Intn(5000))
		expected = append(expected, ppm)
		f.Feed(NewFrame(ppm).Bytes())

		for {
			frame, ok := f.Next()
			if !ok {
				break
			}
			require.Equal(t, FrameHeader, frame[0])
			v, err := frame.Validate()
			if err != nil {
				f.Reject(frame)
				continue
			}
			accepted = append(accepted, v)
		}
	}
	assert.Equal(t, expected, accepted)
}

func TestFramer_Reset(t *testing.T) {
	f := NewFramer()
	f.Feed([]byte{0x2C, 0x01, 0x02, 0x2C})
	_, ok := f.Next()
	require.False(t, ok)
	f.Reset()
	assert.Zero(t, f.Buffered())
	f.Feed(NewFrame(1).Bytes())
	frame, ok := f.Next()
	require.True(t, ok)
	assert.Equal(t, NewFrame(1), frame)
}
