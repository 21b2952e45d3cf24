// Package metrics exposes session telemetry as Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Config defines the metrics endpoint settings.
type Config struct {
	PrometheusEnabled bool   `json:"prometheus_enabled"`
	PrometheusAddr    string `json:"prometheus_addr"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.PrometheusAddr == "" {
		c.PrometheusAddr = ":9090"
	}
}

// PromObserver implements session.Observer backed by Prometheus collectors.
type PromObserver struct {
	connected  prometheus.Gauge
	reconnects prometheus.Counter
	framesIn   *prometheus.CounterVec
	framesOut  *prometheus.CounterVec
	updates    prometheus.Counter
}

// NewPromObserver registers the session collectors on the provided
// registerer. If reg is nil, the default registerer is used. Collectors
// that are already registered are reused.
func NewPromObserver(reg prometheus.Registerer) (*PromObserver, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	connected := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "stiebelgw_connected",
		Help: "1 while the realtime transport is open",
	})
	reconnects := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stiebelgw_reconnects_total",
		Help: "Reconnect attempts scheduled after transport loss",
	})
	framesIn := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stiebelgw_frames_received_total",
		Help: "Inbound protocol frames by kind",
	}, []string{"kind"})
	framesOut := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stiebelgw_frames_sent_total",
		Help: "Outbound protocol frames by method",
	}, []string{"method"})
	updates := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stiebelgw_updates_delivered_total",
		Help: "Field updates delivered to sinks",
	})

	if err := reg.Register(connected); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			connected = are.ExistingCollector.(prometheus.Gauge)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(reconnects); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			reconnects = are.ExistingCollector.(prometheus.Counter)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(framesIn); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			framesIn = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(framesOut); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			framesOut = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(updates); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			updates = are.ExistingCollector.(prometheus.Counter)
		} else {
			return nil, err
		}
	}

	return &PromObserver{
		connected:  connected,
		reconnects: reconnects,
		framesIn:   framesIn,
		framesOut:  framesOut,
		updates:    updates,
	}, nil
}

func (o *PromObserver) Connected()    { o.connected.Set(1) }
func (o *PromObserver) Disconnected() { o.connected.Set(0) }

func (o *PromObserver) ReconnectScheduled(time.Duration) { o.reconnects.Inc() }

func (o *PromObserver) FrameReceived(kind string) { o.framesIn.WithLabelValues(kind).Inc() }
func (o *PromObserver) FrameSent(method string)   { o.framesOut.WithLabelValues(method).Inc() }

func (o *PromObserver) UpdatesDelivered(count int) { o.updates.Add(float64(count)) }
