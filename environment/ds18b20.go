package environment

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"periph.io/x/conn/v3/onewire"
	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/envnode"
	"github.com/mklimuk/envnode/snsctx"
)

// Function commands (datasheet p.11-12).
const (
	ds18b20SkipROM         byte = 0xCC
	ds18b20ConvertT        byte = 0x44
	ds18b20ReadScratchpad  byte = 0xBE
	ds18b20ScratchpadBytes      = 9
)

var ErrSensorAbsent = fmt.Errorf("ds18b20: no presence pulse")
var ErrScratchpadCRC = fmt.Errorf("ds18b20: scratchpad crc mismatch")

type DS18B20Opts struct {
	// ConversionDelay is how long to wait for a 12-bit conversion (750ms max
	// per datasheet).
	ConversionDelay time.Duration
	// ScratchpadCRC reads all nine scratchpad bytes and checks the CRC
	// instead of stopping after the two temperature bytes.
	ScratchpadCRC bool
}

type DS18B20Opt func(*DS18B20Opts)

func WithConversionDelay(delay time.Duration) DS18B20Opt {
	return func(o *DS18B20Opts) {
		o.ConversionDelay = delay
	}
}

func WithScratchpadCRC() DS18B20Opt {
	return func(o *DS18B20Opts) {
		o.ScratchpadCRC = true
	}
}

// DS18B20 represents a Maxim DS18B20 temperature probe alone on a 1-Wire bus.
// See: https://www.analog.com/media/en/technical-documentation/data-sheets/DS18B20.pdf
//
// Usage: wrap a bus master with NewDS18B20, then call GetTemperature(ctx).
//
// Writes are not acknowledged by the device, so a corrupted command goes
// unnoticed unless WithScratchpadCRC is set.
type DS18B20 struct {
	mx     sync.Mutex
	bus    envnode.OneWireMaster
	config DS18B20Opts
}

func NewDS18B20(bus envnode.OneWireMaster, opts ...DS18B20Opt) *DS18B20 {
	config := DS18B20Opts{
		ConversionDelay: 800 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&config)
	}
	return &DS18B20{bus: bus, config: config}
}

// GetTemperature runs a full conversion and returns degrees Celsius.
// It returns ErrSensorAbsent when nothing answers the first reset.
func (sensor *DS18B20) GetTemperature(ctx context.Context) (float32, error) {
	sensor.mx.Lock()
	defer sensor.mx.Unlock()

	present, err := sensor.bus.Reset()
	if err != nil {
		return 0, fmt.Errorf("ds18b20: reset failed: %w", err)
	}
	if !present {
		return 0, ErrSensorAbsent
	}
	if err := sensor.write(ds18b20SkipROM, ds18b20ConvertT); err != nil {
		return 0, fmt.Errorf("ds18b20: could not start conversion: %w", err)
	}

	// the bus is idle (released) during conversion, let other tasks run
	timer := time.NewTimer(sensor.config.ConversionDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	raw, err := sensor.readRaw()
	if err != nil {
		return 0, err
	}
	temp := DecodeTemperature(raw)
	if snsctx.IsVerbose(ctx) {
		slog.Debug("ds18b20 conversion", "raw", fmt.Sprintf("%#04x", raw), "celsius", temp)
	}
	return temp, nil
}

// Sense implements physic.SenseEnv.
func (sensor *DS18B20) Sense(e *physic.Env) error {
	temp, err := sensor.GetTemperature(context.Background())
	if err != nil {
		return err
	}
	e.Temperature = physic.Temperature(float64(temp)*float64(physic.Kelvin)) + physic.ZeroCelsius
	return nil
}

// SenseContinuous implements physic.SenseEnv.
func (sensor *DS18B20) SenseContinuous(time.Duration) (<-chan physic.Env, error) {
	return nil, fmt.Errorf("ds18b20: continuous sensing is driven by the pipeline")
}

// Precision implements physic.SenseEnv.
func (sensor *DS18B20) Precision(e *physic.Env) {
	e.Temperature = physic.Kelvin / 16
}

func (sensor *DS18B20) String() string {
	return "DS18B20"
}

// Halt implements conn.Resource.
func (sensor *DS18B20) Halt() error {
	return nil
}

var _ physic.SenseEnv = &DS18B20{}

// readRaw re-selects the device and reads the conversion result.
func (sensor *DS18B20) readRaw() (uint16, error) {
	present, err := sensor.bus.Reset()
	if err != nil {
		return 0, fmt.Errorf("ds18b20: reset failed: %w", err)
	}
	// unplugged during conversion: an idle bus would read 0xFFFF, which is a
	// valid -0.0625°C word
	if !present {
		return 0, ErrSensorAbsent
	}
	if err := sensor.write(ds18b20SkipROM, ds18b20ReadScratchpad); err != nil {
		return 0, fmt.Errorf("ds18b20: could not request scratchpad: %w", err)
	}
	n := 2
	if sensor.config.ScratchpadCRC {
		n = ds18b20ScratchpadBytes
	}
	spad := make([]byte, n)
	for i := range spad {
		b, err := sensor.bus.ReadByte()
		if err != nil {
			return 0, fmt.Errorf("ds18b20: could not read scratchpad: %w", err)
		}
		spad[i] = b
	}
	if sensor.config.ScratchpadCRC && !onewire.CheckCRC(spad) {
		for _, b := range spad {
			if b != 0xFF {
				return 0, fmt.Errorf("%w: % x", ErrScratchpadCRC, spad)
			}
		}
		// an idle bus reads all ones: the device went away mid-transaction
		return 0, ErrSensorAbsent
	}
	return uint16(spad[1])<<8 | uint16(spad[0]), nil
}

func (sensor *DS18B20) write(cmds ...byte) error {
	for _, c := range cmds {
		if err := sensor.bus.WriteByte(c); err != nil {
			return err
		}
	}
	return nil
}

// DecodeTemperature converts the two's complement scratchpad word (1/16°C per
// LSB) to degrees Celsius.
func DecodeTemperature(raw uint16) float32 {
	return float32(int16(raw)) / 16
}
