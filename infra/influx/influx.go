// Package influx records normalized field updates in InfluxDB, mirroring
// the telemetry history the cloud service keeps for itself.
package influx

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/mbeckert/stiebelgw/core/logger"
	"github.com/mbeckert/stiebelgw/core/model"
)

// Config defines the InfluxDB connection.
type Config struct {
	Enabled     bool   `json:"enabled"`
	URL         string `json:"url"`
	Token       string `json:"token"`
	Org         string `json:"org"`
	Bucket      string `json:"bucket"`
	Measurement string `json:"measurement"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.Measurement == "" {
		c.Measurement = "stiebel_field"
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.URL == "" || c.Bucket == "" {
		return fmt.Errorf("influx: url and bucket are required")
	}
	return nil
}

// Sink writes one point per field update using the official client.
type Sink struct {
	client         influxdb2.Client
	writeAPI       api.WriteAPIBlocking
	measurement    string
	installationID string
	log            logger.Logger
}

// NewSink creates a sink for the given InfluxDB endpoint.
func NewSink(cfg Config, installationID string, log logger.Logger) *Sink {
	cfg.SetDefaults()
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &Sink{
		client:         client,
		writeAPI:       client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		measurement:    cfg.Measurement,
		installationID: installationID,
		log:            log,
	}
}

// NewSinkWithFallback pings the InfluxDB instance and returns a NopSink if
// the health check fails, so a down database never blocks telemetry.
func NewSinkWithFallback(cfg Config, installationID string, log logger.Logger) model.Sink {
	sink := NewSink(cfg, installationID, log)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			log.Errorf("influx health check: %v", err)
		} else {
			log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return model.NopSink{}
	}
	return sink
}

// Publish writes the batch. Values that fail normalization are skipped.
func (s *Sink) Publish(ctx context.Context, batch []model.FieldUpdate) error {
	wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	now := time.Now()
	for _, u := range batch {
		value, err := model.Normalize(u)
		if err != nil {
			s.log.Warnf("register %d: %v", u.RegisterIndex, err)
			continue
		}
		p := write.NewPointWithMeasurement(s.measurement).
			AddTag("installation_id", s.installationID).
			AddTag("register_index", strconv.Itoa(u.RegisterIndex)).
			SetTime(now)
		if reg, ok := model.Catalog[u.RegisterIndex]; ok {
			p.AddTag("register_id", reg.ID)
		}
		switch v := value.(type) {
		case float64:
			p.AddField("value", v)
		case bool:
			p.AddField("state", v)
		default:
			p.AddField("text", fmt.Sprint(v))
		}
		if err := s.writeAPI.WritePoint(wctx, p); err != nil {
			return fmt.Errorf("influx write: %w", err)
		}
	}
	return nil
}

// Close releases the underlying client.
func (s *Sink) Close() {
	s.client.Close()
}
