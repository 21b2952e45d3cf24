// Package infra contains technical adapters such as the websocket
// transport and the MQTT and InfluxDB sinks. These packages should
// depend only on the interfaces defined in the core packages.
package infra
