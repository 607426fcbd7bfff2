// Package metrics defines the Prometheus instrumentation: pin refresh
// gauges, crawl and expansion counters, and a custom per-route HTTP
// duration collector exposing sum/count/max families.
package metrics
