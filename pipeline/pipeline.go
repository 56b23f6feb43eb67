// Package pipeline runs periodic acquisition cycles over the temperature probe
// and the CO2 module and hands the readings to a sink.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/mklimuk/envnode/air"
	"github.com/mklimuk/envnode/environment"
	"github.com/mklimuk/envnode/snsctx"
)

type TemperatureSensor interface {
	GetTemperature(ctx context.Context) (float32, error)
}

type CO2Sensor interface {
	GetCO2(ctx context.Context) (uint16, error)
}

// LatestCO2Sensor is implemented by streaming CO2 readers that can skip the
// frames queued up since the previous cycle. The pipeline prefers it over
// GetCO2 so a reading is never older than the cycle that publishes it.
type LatestCO2Sensor interface {
	LatestCO2(ctx context.Context) (uint16, error)
}

// Sink receives every reading that carries at least one value.
type Sink interface {
	Publish(ctx context.Context, r Reading) error
}

// Reading is the outcome of one cycle. A nil field means the sensor produced
// no value this cycle (absent, rejected or failed).
type Reading struct {
	Node        string
	Temperature *float32
	CO2         *uint16
	Time        time.Time
}

func (r Reading) Empty() bool {
	return r.Temperature == nil && r.CO2 == nil
}

type Stats struct {
	Cycles        uint64
	Published     uint64
	PublishErrors uint64

	Temperatures      uint64
	TemperatureAbsent uint64
	TemperatureErrors uint64
	CO2Readings       uint64
	CO2Rejected       uint64
	CO2Errors         uint64
}

type Opts struct {
	Interval time.Duration
	// CycleTimeout bounds a single cycle so a silent sensor cannot stall the loop.
	CycleTimeout time.Duration
	// CO2Attempts is how many frames may be read in one cycle before giving up
	// on rejected frames.
	CO2Attempts int
	Node        string
	now         func() time.Time
}

type Opt func(*Opts)

func WithInterval(interval time.Duration) Opt {
	return func(o *Opts) {
		o.Interval = interval
	}
}

func WithCycleTimeout(timeout time.Duration) Opt {
	return func(o *Opts) {
		o.CycleTimeout = timeout
	}
}

func WithCO2Attempts(attempts int) Opt {
	return func(o *Opts) {
		o.CO2Attempts = attempts
	}
}

func WithNode(name string) Opt {
	return func(o *Opts) {
		o.Node = name
	}
}

// Pipeline drives both sensors. Either sensor may be nil to leave it out.
type Pipeline struct {
	config Opts
	temp   TemperatureSensor
	co2    CO2Sensor
	sink   Sink

	mx    sync.Mutex
	stats Stats
}

func New(temp TemperatureSensor, co2 CO2Sensor, sink Sink, opts ...Opt) *Pipeline {
	config := Opts{
		Interval:     5 * time.Minute,
		CycleTimeout: 10 * time.Second,
		CO2Attempts:  3,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(&config)
	}
	if config.CO2Attempts < 1 {
		config.CO2Attempts = 1
	}
	return &Pipeline{config: config, temp: temp, co2: co2, sink: sink}
}

// Cycle acquires one reading, running both sensors concurrently. It never
// fails: absence, rejection and errors leave the matching field nil.
func (p *Pipeline) Cycle(ctx context.Context) Reading {
	if p.config.CycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.CycleTimeout)
		defer cancel()
	}
	reading := Reading{Node: p.config.Node}
	if reading.Node == "" {
		reading.Node = snsctx.Node(ctx)
	}

	var wg sync.WaitGroup
	if p.temp != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reading.Temperature = p.readTemperature(ctx)
		}()
	}
	if p.co2 != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reading.CO2 = p.readCO2(ctx)
		}()
	}
	wg.Wait()

	reading.Time = p.config.now()
	p.mx.Lock()
	p.stats.Cycles++
	p.mx.Unlock()
	return reading
}

// Run repeats cycles every Interval, starting immediately, until ctx is done.
func (p *Pipeline) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()
	for {
		p.publish(ctx, p.Cycle(ctx))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *Pipeline) Stats() Stats {
	p.mx.Lock()
	defer p.mx.Unlock()
	return p.stats
}

func (p *Pipeline) publish(ctx context.Context, r Reading) {
	if r.Empty() {
		slog.Warn("no reading this cycle", "node", r.Node)
		return
	}
	if p.sink == nil {
		return
	}
	err := p.sink.Publish(ctx, r)
	p.mx.Lock()
	defer p.mx.Unlock()
	if err != nil {
		p.stats.PublishErrors++
		slog.Error("could not publish reading", "node", r.Node, "error", err)
		return
	}
	p.stats.Published++
}

func (p *Pipeline) readTemperature(ctx context.Context) *float32 {
	temp, err := p.temp.GetTemperature(ctx)
	p.mx.Lock()
	defer p.mx.Unlock()
	switch {
	case err == nil:
		p.stats.Temperatures++
		slog.Info("temperature", "celsius", temp)
		return &temp
	case errors.Is(err, environment.ErrSensorAbsent):
		p.stats.TemperatureAbsent++
		slog.Warn("temperature sensor absent")
	default:
		p.stats.TemperatureErrors++
		slog.Error("temperature read failed", "error", err)
	}
	return nil
}

func (p *Pipeline) readCO2(ctx context.Context) *uint16 {
	read := p.co2.GetCO2
	if latest, ok := p.co2.(LatestCO2Sensor); ok {
		read = latest.LatestCO2
	}
	for range p.config.CO2Attempts {
		ppm, err := read(ctx)
		p.mx.Lock()
		switch {
		case err == nil:
			p.stats.CO2Readings++
			p.mx.Unlock()
			slog.Info("co2", "ppm", ppm)
			return &ppm
		case errors.Is(err, air.ErrStructuralMismatch), errors.Is(err, air.ErrChecksumMismatch):
			p.stats.CO2Rejected++
			p.mx.Unlock()
			slog.Warn("co2 frame rejected", "error", err)
			continue
		default:
			p.stats.CO2Errors++
			p.mx.Unlock()
			slog.Error("co2 read failed", "error", err)
			return nil
		}
	}
	return nil
}
