package main

import (
	"context"
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurements written to InfluxDB
const (
	measurementFan    = "mark2_fan"
	measurementVolume = "mark2_volume"
	measurementLeds   = "mark2_leds"
	measurementButton = "mark2_button"
)

// pointWriter is satisfied by the influx non-blocking api.WriteAPI.
type pointWriter interface {
	WritePoint(p *write.Point)
}

// Telemetry records peripheral state changes as InfluxDB points.
// It is a dispatcher handler and never produces events.
type Telemetry struct {
	logger *slog.Logger
	writer pointWriter
	now    func() time.Time

	client influxdb2.Client
}

// NewTelemetry connects a batching writer to the configured bucket.
// Write errors are logged by a goroutine that runs until ctx is canceled.
func NewTelemetry(ctx context.Context, cfg InfluxConfig, logger *slog.Logger) *Telemetry {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)

	go func() {
		errs := writeAPI.Errors()
		for {
			select {
			case <-ctx.Done():
				return
			case err, ok := <-errs:
				if !ok {
					return
				}
				logger.Warn("influx write failed", "error", err)
			}
		}
	}()

	logger.Info("influx telemetry enabled", "url", cfg.URL, "bucket", cfg.Bucket)
	return &Telemetry{
		logger: logger,
		writer: writeAPI,
		now:    time.Now,
		client: client,
	}
}

func (t *Telemetry) HandleEvent(ev Event) []Event {
	if p := telemetryPoint(ev, t.now()); p != nil {
		t.writer.WritePoint(p)
	}
	return nil
}

// Close flushes pending points and releases the client.
func (t *Telemetry) Close() {
	if t.client == nil {
		return
	}
	if w, ok := t.writer.(interface{ Flush() }); ok {
		w.Flush()
	}
	t.client.Close()
}

// telemetryPoint converts a state-changing event into a point, or nil.
func telemetryPoint(ev Event, ts time.Time) *write.Point {
	switch e := ev.(type) {
	case SetFanSpeed:
		return influxdb2.NewPoint(measurementFan, nil,
			map[string]interface{}{"speed": clampInt(e.Speed, minSpeed, maxSpeed)}, ts)

	case Volume:
		return influxdb2.NewPoint(measurementVolume, nil,
			map[string]interface{}{"volume": e.Volume}, ts)

	case LedColors:
		return influxdb2.NewPoint(measurementLeds, nil,
			map[string]interface{}{"brightness": e.Brightness, "rgb": formatRGB(e.RGB)}, ts)

	case ButtonStateChanged:
		return influxdb2.NewPoint(measurementButton,
			map[string]string{"button": e.Name},
			map[string]interface{}{"active": e.State}, ts)

	default:
		return nil
	}
}
