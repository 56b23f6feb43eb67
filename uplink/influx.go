package uplink

import (
	"context"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/mklimuk/envnode/pipeline"
)

const influxMeasurement = "environment"

// Influx writes one point per reading: measurement "environment", tag "node",
// fields "temperature" (float) and "co2" (integer) when present. Empty readings
// never reach a sink, so a point always carries at least one field.
type Influx struct {
	client influxdb2.Client
	write  api.WriteAPIBlocking
}

func NewInflux(url, token, org, bucket string) *Influx {
	client := influxdb2.NewClient(url, token)
	return &Influx{
		client: client,
		write:  client.WriteAPIBlocking(org, bucket),
	}
}

func (i *Influx) Publish(ctx context.Context, r pipeline.Reading) error {
	p := influxdb2.NewPointWithMeasurement(influxMeasurement).SetTime(r.Time)
	if r.Node != "" {
		p.AddTag("node", r.Node)
	}
	if r.Temperature != nil {
		p.AddField("temperature", float64(*r.Temperature))
	}
	if r.CO2 != nil {
		p.AddField("co2", int64(*r.CO2))
	}
	if err := i.write.WritePoint(ctx, p); err != nil {
		return fmt.Errorf("uplink: influx write failed: %w", err)
	}
	return nil
}

func (i *Influx) Close() {
	i.client.Close()
}

var _ pipeline.Sink = &Influx{}
