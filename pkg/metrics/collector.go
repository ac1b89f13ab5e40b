// Package metrics exports the coordinators' snapshots in the Prometheus
// exposition format.
package metrics

import (
	"sort"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/raterudder/powerbox/pkg/coordinator"
	"github.com/raterudder/powerbox/pkg/powerbox"
	"github.com/raterudder/powerbox/pkg/types"
)

// MeterSource serves the realtime snapshot.
type MeterSource interface {
	Snapshot() types.MeterSnapshot
	Status() coordinator.Status
}

// ConfigSource serves the config snapshot.
type ConfigSource interface {
	Snapshot() types.ConfigSnapshot
	Status() coordinator.Status
}

// ClientStats exposes the client's failure tracking.
type ClientStats interface {
	Stats() powerbox.Stats
}

// Collector implements prometheus.Collector. It never talks to the device;
// every scrape reads the coordinators' current snapshots.
type Collector struct {
	meters  MeterSource
	configs ConfigSource
	client  ClientStats

	meterValue        *prometheus.Desc
	meterConnected    *prometheus.Desc
	configInfo        *prometheus.Desc
	up                *prometheus.Desc
	stale             *prometheus.Desc
	pollInterval      *prometheus.Desc
	lastSuccess       *prometheus.Desc
	consecutiveErrors *prometheus.Desc
	sessionsCreated   *prometheus.Desc
}

// NewCollector returns a collector over the given sources.
func NewCollector(meters MeterSource, configs ConfigSource, client ClientStats) *Collector {
	return &Collector{
		meters:  meters,
		configs: configs,
		client:  client,
		meterValue: prometheus.NewDesc(
			"powerbox_meter_value",
			"Latest numeric measurement reported by a connected PowerBox meter",
			[]string{"model", "field"},
			nil,
		),
		meterConnected: prometheus.NewDesc(
			"powerbox_meter_connected",
			"Whether the PowerBox reports the meter as connected (1=yes, 0=no)",
			[]string{"model"},
			nil,
		),
		configInfo: prometheus.NewDesc(
			"powerbox_config_info",
			"PowerBox configuration parameter, value carried as a label",
			[]string{"key", "value"},
			nil,
		),
		up: prometheus.NewDesc(
			"powerbox_coordinator_up",
			"Whether the coordinator has data to serve (1=yes, 0=no)",
			[]string{"coordinator"},
			nil,
		),
		stale: prometheus.NewDesc(
			"powerbox_coordinator_stale",
			"Whether the served data is from before the last failed refresh (1=yes, 0=no)",
			[]string{"coordinator"},
			nil,
		),
		pollInterval: prometheus.NewDesc(
			"powerbox_coordinator_poll_interval_seconds",
			"Current wait between refresh cycles",
			[]string{"coordinator"},
			nil,
		),
		lastSuccess: prometheus.NewDesc(
			"powerbox_coordinator_last_success_timestamp_seconds",
			"Unix time of the last successful refresh",
			[]string{"coordinator"},
			nil,
		),
		consecutiveErrors: prometheus.NewDesc(
			"powerbox_consecutive_errors",
			"Consecutive failed PowerBox requests",
			nil,
			nil,
		),
		sessionsCreated: prometheus.NewDesc(
			"powerbox_sessions_created_total",
			"HTTP sessions opened to the PowerBox",
			nil,
			nil,
		),
	}
}

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.meterValue
	ch <- c.meterConnected
	ch <- c.configInfo
	ch <- c.up
	ch <- c.stale
	ch <- c.pollInterval
	ch <- c.lastSuccess
	ch <- c.consecutiveErrors
	ch <- c.sessionsCreated
}

// Collect implements prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.collectStatus(c.meters.Status(), ch)
	c.collectStatus(c.configs.Status(), ch)

	for model, meter := range c.meters.Snapshot() {
		ch <- prometheus.MustNewConstMetric(c.meterConnected, prometheus.GaugeValue, boolToFloat(meter.Connected), model)
		if !meter.Connected {
			continue
		}
		for field, v := range meter.Values {
			if v.IsText() {
				continue
			}
			ch <- prometheus.MustNewConstMetric(c.meterValue, prometheus.GaugeValue, v.Value, model, field)
		}
	}

	configs := c.configs.Snapshot()
	keys := make([]string, 0, len(configs))
	for k := range configs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		ch <- prometheus.MustNewConstMetric(c.configInfo, prometheus.GaugeValue, 1, k, string(configs[k].Value))
	}

	stats := c.client.Stats()
	ch <- prometheus.MustNewConstMetric(c.consecutiveErrors, prometheus.GaugeValue, float64(stats.ConsecutiveErrors))
	ch <- prometheus.MustNewConstMetric(c.sessionsCreated, prometheus.CounterValue, float64(stats.SessionsCreated))
}

func (c *Collector) collectStatus(st coordinator.Status, ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, boolToFloat(st.Available), st.Name)
	ch <- prometheus.MustNewConstMetric(c.stale, prometheus.GaugeValue, boolToFloat(st.Stale), st.Name)
	ch <- prometheus.MustNewConstMetric(c.pollInterval, prometheus.GaugeValue, st.PollIntervalSeconds, st.Name)
	if !st.LastSuccess.IsZero() {
		ch <- prometheus.MustNewConstMetric(c.lastSuccess, prometheus.GaugeValue, float64(st.LastSuccess.Unix()), st.Name)
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
