package influx

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mbeckert/stiebelgw/core/model"
	"github.com/mbeckert/stiebelgw/infra/logger"
)

func TestConfigDefaultsAndValidate(t *testing.T) {
	cfg := Config{Enabled: true}
	assert.Error(t, cfg.Validate())
	cfg.URL = "http://localhost:8086"
	cfg.Bucket = "stiebel"
	assert.NoError(t, cfg.Validate())
	assert.NoError(t, Config{}.Validate())

	cfg.SetDefaults()
	assert.Equal(t, "stiebel_field", cfg.Measurement)
}

func TestNewSinkWithFallbackUnhealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	sink := NewSinkWithFallback(Config{Enabled: true, URL: srv.URL, Bucket: "b"}, "240042", logger.NopLogger{})
	_, isNop := sink.(model.NopSink)
	assert.True(t, isNop)
}

func TestNewSinkWithFallbackHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"name":"influxdb","status":"pass"}`))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink := NewSinkWithFallback(Config{Enabled: true, URL: srv.URL, Bucket: "b"}, "240042", logger.NopLogger{})
	_, isNop := sink.(model.NopSink)
	assert.False(t, isNop)
}
