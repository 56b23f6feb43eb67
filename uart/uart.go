// Package uart opens the serial line of a streaming sensor and records its raw
// bytes for offline replay.
package uart

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

type Opts struct {
	BaudRate int
	// ReadTimeout bounds a single read so an idle line returns (0, nil) instead
	// of blocking forever.
	ReadTimeout time.Duration
}

type Opt func(*Opts)

func WithBaudRate(rate int) Opt {
	return func(o *Opts) {
		o.BaudRate = rate
	}
}

func WithReadTimeout(timeout time.Duration) Opt {
	return func(o *Opts) {
		o.ReadTimeout = timeout
	}
}

// Open opens device as 9600 8N1 unless told otherwise.
func Open(device string, opts ...Opt) (serial.Port, error) {
	config := Opts{
		BaudRate:    9600,
		ReadTimeout: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&config)
	}
	mode := &serial.Mode{
		BaudRate: config.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(device, mode)
	if err != nil {
		return nil, fmt.Errorf("uart: could not open %s: %w", device, err)
	}
	if err := port.SetReadTimeout(config.ReadTimeout); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("uart: could not set read timeout: %w", err)
	}
	return port, nil
}

// Ports lists the serial devices present on the host.
func Ports() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("uart: could not list ports: %w", err)
	}
	return ports, nil
}

// Capture copies bytes from src to w until limit bytes were written (0 means
// no limit), src ends or ctx is done. Empty reads are retried after idle.
// It returns the number of bytes written; reaching the limit or the end of src
// is not an error.
func Capture(ctx context.Context, src io.Reader, w io.Writer, limit int64, idle time.Duration) (int64, error) {
	buf := make([]byte, 256)
	var total int64
	for limit == 0 || total < limit {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		chunk := buf
		if limit > 0 && limit-total < int64(len(chunk)) {
			chunk = chunk[:limit-total]
		}
		n, err := src.Read(chunk)
		if n > 0 {
			written, wErr := w.Write(chunk[:n])
			total += int64(written)
			if wErr != nil {
				return total, fmt.Errorf("uart: capture write failed: %w", wErr)
			}
		}
		if errors.Is(err, io.EOF) {
			return total, nil
		}
		if err != nil {
			return total, fmt.Errorf("uart: capture read failed: %w", err)
		}
		if n > 0 || idle <= 0 {
			continue
		}
		timer := time.NewTimer(idle)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return total, ctx.Err()
		}
	}
	return total, nil
}
