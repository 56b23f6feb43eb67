package air

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/mklimuk/envnode/snsctx"
)

type CO2Opts struct {
	// IdleBackoff is how long to wait after a read that returned no bytes.
	IdleBackoff time.Duration
	// ChunkSize is the size of a single read from the source.
	ChunkSize int
}

type CO2Opt func(*CO2Opts)

func WithIdleBackoff(backoff time.Duration) CO2Opt {
	return func(o *CO2Opts) {
		o.IdleBackoff = backoff
	}
}

func WithChunkSize(size int) CO2Opt {
	return func(o *CO2Opts) {
		o.ChunkSize = size
	}
}

// CO2Stats counts frame outcomes since the reader was created.
type CO2Stats struct {
	Accepted   uint64
	Structural uint64
	Checksum   uint64
	// Dropped counts bytes discarded while seeking a frame header.
	Dropped uint64
}

// CO2 decodes concentration readings from the UART stream of a CO2 module that
// pushes 6-byte frames continuously (no request/response).
//
// Usage:
//
//	port, _ := uart.Open("/dev/ttyS1")
//	s := NewCO2(port)
//	ppm, err := s.GetCO2(ctx)
//
// The source may return (0, nil) when no byte is available; the reader then
// backs off for IdleBackoff and retries until the context ends.
type CO2 struct {
	mx     sync.Mutex
	config CO2Opts
	src    io.Reader
	framer *Framer
	buf    []byte
	stats  CO2Stats
}

func NewCO2(src io.Reader, opts ...CO2Opt) *CO2 {
	config := CO2Opts{
		IdleBackoff: 10 * time.Millisecond,
		ChunkSize:   64,
	}
	for _, opt := range opts {
		opt(&config)
	}
	if config.ChunkSize < 1 {
		config.ChunkSize = 1
	}
	return &CO2{
		config: config,
		src:    src,
		framer: NewFramer(),
		buf:    make([]byte, config.ChunkSize),
	}
}

// NextFrame blocks until a header-anchored candidate frame is collected. The
// frame is not validated.
func (s *CO2) NextFrame(ctx context.Context) (Frame, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.nextFrame(ctx)
}

// GetCO2 reads the next frame and validates it. A rejected frame is reported
// with ErrStructuralMismatch or ErrChecksumMismatch and scanning of later calls
// resumes right after its header.
func (s *CO2) GetCO2(ctx context.Context) (uint16, error) {
	s.mx.Lock()
	defer s.mx.Unlock()

	frame, err := s.nextFrame(ctx)
	if err != nil {
		return 0, err
	}
	return s.validate(ctx, frame)
}

// validate checks a candidate frame, updates the counters and pushes a
// rejected frame back so scanning resumes right after its header.
func (s *CO2) validate(ctx context.Context, frame Frame) (uint16, error) {
	ppm, err := frame.Validate()
	switch {
	case err == nil:
		s.stats.Accepted++
	case errors.Is(err, ErrStructuralMismatch):
		s.stats.Structural++
	case errors.Is(err, ErrChecksumMismatch):
		s.stats.Checksum++
	}
	if err != nil {
		s.framer.Reject(frame)
		if snsctx.IsVerbose(ctx) {
			slog.Debug("co2 frame rejected", "frame", frame.String(), "error", err)
		}
		return 0, err
	}
	if snsctx.IsVerbose(ctx) {
		slog.Debug("co2 frame accepted", "frame", frame.String(), "ppm", ppm)
	}
	return ppm, nil
}

// drainLimit caps how many bytes LatestCO2 pulls from a source that never goes
// idle.
const drainLimit = 64 << 10

// LatestCO2 returns the newest valid reading in the stream. Frames arrive every
// 1-2s whether or not anyone reads them, so a caller polling less often finds a
// backlog of old frames in the source. LatestCO2 reads until the source goes
// idle, validates every complete frame and keeps the last accepted one. A trailing partial frame stays
// buffered. With no valid frame in the backlog it returns the last rejection,
// or waits for the next frame like GetCO2 when the backlog held none.
func (s *CO2) LatestCO2(ctx context.Context) (uint16, error) {
	s.mx.Lock()
	defer s.mx.Unlock()

	if err := s.drain(ctx); err != nil {
		return 0, err
	}
	var (
		latest   uint16
		accepted bool
		lastErr  error
		stale    int
	)
	for {
		frame, ok := s.framer.Next()
		if !ok {
			break
		}
		ppm, err := s.validate(ctx, frame)
		if err != nil {
			lastErr = err
			continue
		}
		if accepted {
			stale++
		}
		latest, accepted = ppm, true
	}
	if accepted {
		if stale > 0 && snsctx.IsVerbose(ctx) {
			slog.Debug("co2 backlog skipped", "frames", stale, "ppm", latest)
		}
		return latest, nil
	}
	if lastErr != nil {
		return 0, lastErr
	}
	frame, err := s.nextFrame(ctx)
	if err != nil {
		return 0, err
	}
	return s.validate(ctx, frame)
}

func (s *CO2) Stats() CO2Stats {
	s.mx.Lock()
	defer s.mx.Unlock()
	stats := s.stats
	stats.Dropped = s.framer.Dropped()
	return stats
}

func (s *CO2) String() string {
	return "CO2"
}

func (s *CO2) nextFrame(ctx context.Context) (Frame, error) {
	for {
		if frame, ok := s.framer.Next(); ok {
			return frame, nil
		}
		if err := ctx.Err(); err != nil {
			return Frame{}, err
		}
		n, err := s.src.Read(s.buf)
		if n > 0 {
			s.framer.Feed(s.buf[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) && n > 0 {
				continue
			}
			return Frame{}, fmt.Errorf("co2: read failed: %w", err)
		}
		if n > 0 {
			continue
		}
		// nothing on the line yet
		timer := time.NewTimer(s.config.IdleBackoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return Frame{}, ctx.Err()
		}
	}
}

// drain moves everything the source holds right now into the framer. It stops
// at the first empty read or at EOF.
func (s *CO2) drain(ctx context.Context) error {
	for total := 0; total < drainLimit; {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := s.src.Read(s.buf)
		if n > 0 {
			s.framer.Feed(s.buf[:n])
			total += n
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("co2: read failed: %w", err)
		}
		if n == 0 {
			return nil
		}
	}
	return nil
}
