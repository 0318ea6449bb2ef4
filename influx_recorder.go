package procket

import (
	"context"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/pkg/errors"
)

const defaultPowerMeasurement = "procket_power"

// InfluxRecorder stores sampled power rails, one point per sample.
type InfluxRecorder struct {
	Host         string
	Organization string
	Bucket       string
	Measurement  string
	Token        string

	client   influxdb2.Client
	writeApi api.WriteAPIBlocking
}

func (ir *InfluxRecorder) Setup() error {
	if len(ir.Host) == 0 || len(ir.Bucket) == 0 {
		return errors.New("influx recorder needs Host and Bucket")
	}
	if len(ir.Measurement) == 0 {
		ir.Measurement = defaultPowerMeasurement
	}

	ir.client = influxdb2.NewClient(ir.Host, ir.Token)
	ir.writeApi = ir.client.WriteAPIBlocking(ir.Organization, ir.Bucket)
	return nil
}

func (ir *InfluxRecorder) Close() error {
	if ir.client != nil {
		ir.client.Close()
	}
	return nil
}

// PowerPoint builds the point for one status sample: a boolean field for
// every rail, tagged with the fixture name.
func (ir *InfluxRecorder) PowerPoint(fixture string, rails []PowerRail, at time.Time) *write.Point {
	fields := make(map[string]interface{}, len(powerRails))
	for i := range powerRails {
		fields[PowerRail(i).String()] = false
	}
	for _, rail := range rails {
		fields[rail.String()] = true
	}

	measurement := ir.Measurement
	if len(measurement) == 0 {
		measurement = defaultPowerMeasurement
	}

	return influxdb2.NewPoint(measurement, map[string]string{"fixture": fixture}, fields, at)
}

func (ir *InfluxRecorder) Record(ctx context.Context, fixture string, rails []PowerRail) error {
	if ir.writeApi == nil {
		return errors.New("influx recorder not set up")
	}

	err := ir.writeApi.WritePoint(ctx, ir.PowerPoint(fixture, rails, time.Now()))
	if err != nil {
		return errors.Wrap(err, "failed to write power status to influx")
	}
	return nil
}
