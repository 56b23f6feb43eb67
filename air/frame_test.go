package air

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrame_Validate(t *testing.T) {
	tests := []struct {
		name     string
		frame    Frame
		ppm      uint16
		expected error
	}{
		{"valid 640 ppm", Frame{0x2C, 0x02, 0x80, 0x03, 0xFF, 0xB0}, 640, nil},
		{"full scale mismatch", Frame{0x2C, 0x02, 0x80, 0x02, 0xFF, 0xB0}, 0, ErrStructuralMismatch},
		{"full scale low mismatch", Frame{0x2C, 0x02, 0x80, 0x03, 0xFE, 0xAF}, 0, ErrStructuralMismatch},
		{"checksum mismatch", Frame{0x2C, 0x02, 0x80, 0x03, 0xFF, 0x00}, 0, ErrChecksumMismatch},
		{"both broken reports structure", Frame{0x2C, 0x02, 0x80, 0x00, 0x00, 0x00}, 0, ErrStructuralMismatch},
		{"zero ppm", Frame{0x2C, 0x00, 0x00, 0x03, 0xFF, 0x2E}, 0, nil},
		{"max ppm", Frame{0x2C, 0xFF, 0xFF, 0x03, 0xFF, 0x2C}, 65535, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ppm, err := tt.frame.Validate()
			if tt.expected != nil {
				assert.ErrorIs(t, err, tt.expected)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.ppm, ppm)
		})
	}
}

func TestFrame_ErrorCarriesFrame(t *testing.T) {
	_, err := Frame{0x2C, 0x02, 0x80, 0x03, 0xFF, 0x00}.Validate()
	assert.ErrorContains(t, err, "2C 02 80 03 FF 00")
	assert.ErrorContains(t, err, "expected 0xb0")
}

func TestFrame_RoundTrip(t *testing.T) {
	for ppm := 0; ppm <= 0xFFFF; ppm++ {
		got, err := NewFrame(uint16(ppm)).Validate()
		if !assert.NoError(t, err, "ppm %d", ppm) || !assert.Equal(t, uint16(ppm), got) {
			return
		}
	}
}

func TestFrame_AcceptedIffChecksAgree(t *testing.T) {
	// sweep the fields the checks look at; the concentration bytes only matter
	// through the checksum
	for _, hi := range []byte{0x00, 0x02, 0x2C, 0xFF} {
		for b4 := 0; b4 < 256; b4 += 3 {
			for _, b5 := range []byte{0x00, 0xFE, 0xFF} {
				for b6 := 0; b6 < 256; b6++ {
					f := Frame{FrameHeader, hi, 0x80, byte(b4), b5, byte(b6)}
					sum := FrameHeader + hi + 0x80 + byte(b4) + b5
					want := byte(b4) == 0x03 && b5 == 0xFF && byte(b6) == sum
					_, err := f.Validate()
					if !assert.Equal(t, want, err == nil, "frame %s", f) {
						return
					}
				}
			}
		}
	}
}

func TestFrame_Checksum(t *testing.T) {
	assert.Equal(t, byte(0xB0), Frame{0x2C, 0x02, 0x80, 0x03, 0xFF}.Checksum())
	// wraps modulo 256
	assert.Equal(t, byte(0x2C), Frame{0x2C, 0xFF, 0xFF, 0x03, 0xFF}.Checksum())
	assert.Equal(t, "2C 02 80 03 FF B0", NewFrame(640).String())
}
