// Package metrics exports billing counters to Prometheus.
package metrics
