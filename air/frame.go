package air

import (
	"errors"
	"fmt"
)

// Frame layout of the CO2 module's UART stream (9600 8N1, one frame every 1-2s):
//
//	b1: header, always 0x2C
//	b2: concentration high byte (ppm)
//	b3: concentration low byte (ppm)
//	b4: full-scale high byte, always 0x03
//	b5: full-scale low byte, always 0xFF
//	b6: checksum, b1+b2+b3+b4+b5 modulo 256
const (
	FrameHeader    byte = 0x2C
	FrameLength         = 6
	fullScaleHigh  byte = 0x03
	fullScaleLow   byte = 0xFF
	checksumOffset      = FrameLength - 1
)

var ErrStructuralMismatch = errors.New("co2: full-scale field mismatch")
var ErrChecksumMismatch = errors.New("co2: checksum mismatch")

// Frame is a candidate frame as cut from the byte stream. Only the header is
// guaranteed; everything else is checked by Validate.
type Frame [FrameLength]byte

// NewFrame encodes ppm into a well-formed frame.
func NewFrame(ppm uint16) Frame {
	f := Frame{FrameHeader, byte(ppm >> 8), byte(ppm), fullScaleHigh, fullScaleLow}
	f[checksumOffset] = f.Checksum()
	return f
}

// Checksum is the 8-bit wrapping sum of the first five bytes.
func (f Frame) Checksum() byte {
	var sum byte
	for _, b := range f[:checksumOffset] {
		sum += b
	}
	return sum
}

// Validate checks the full-scale field and then the checksum, and decodes the
// concentration in ppm. A frame failing both checks reports the structural
// mismatch.
func (f Frame) Validate() (uint16, error) {
	if f[3] != fullScaleHigh || f[4] != fullScaleLow {
		return 0, fmt.Errorf("%w: b4=%#02x b5=%#02x, frame % X", ErrStructuralMismatch, f[3], f[4], f[:])
	}
	if sum := f.Checksum(); sum != f[checksumOffset] {
		return 0, fmt.Errorf("%w: expected %#02x, got %#02x, frame % X", ErrChecksumMismatch, sum, f[checksumOffset], f[:])
	}
	return uint16(f[1])<<8 | uint16(f[2]), nil
}

func (f Frame) Bytes() []byte {
	return f[:]
}

func (f Frame) String() string {
	return fmt.Sprintf("% X", f[:])
}
