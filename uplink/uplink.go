// Package uplink delivers pipeline readings to the outside world.
package uplink

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mklimuk/envnode/pipeline"
)

// Payload is the JSON shape of a reading. Missing values encode as null.
type Payload struct {
	Node        string    `json:"node,omitempty"`
	Temperature *float32  `json:"temp"`
	CO2         *uint16   `json:"co2"`
	Time        time.Time `json:"time"`
}

func NewPayload(r pipeline.Reading) Payload {
	return Payload{
		Node:        r.Node,
		Temperature: r.Temperature,
		CO2:         r.CO2,
		Time:        r.Time.UTC(),
	}
}

// Log writes every reading to the default slog logger.
type Log struct{}

func (Log) Publish(_ context.Context, r pipeline.Reading) error {
	attrs := []any{"node", r.Node}
	if r.Temperature != nil {
		attrs = append(attrs, "celsius", *r.Temperature)
	}
	if r.CO2 != nil {
		attrs = append(attrs, "ppm", *r.CO2)
	}
	slog.Info("reading", attrs...)
	return nil
}

// Multi publishes to every sink and joins their errors. One failing sink does
// not keep the reading from the others.
type Multi []pipeline.Sink

func (m Multi) Publish(ctx context.Context, r pipeline.Reading) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ pipeline.Sink = Log{}
var _ pipeline.Sink = Multi{}
