package broker

import (
	"context"
	"time"

	// Packages
	prometheus "github.com/prometheus/client_golang/prometheus"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

type metrics struct {
	enqueued *prometheus.CounterVec
	claimed  *prometheus.CounterVec
	lost     *prometheus.CounterVec
	settled  *prometheus.CounterVec
	requeued prometheus.Counter
	purged   prometheus.Counter
}

// depth collects the number of rows by queue and state when scraped
type depth struct {
	broker   *Broker
	messages *prometheus.Desc
}

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

const (
	metricsNamespace = "pgbroker"
	metricsTimeout   = 30 * time.Second
)

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

func newMetrics(ns string) *metrics {
	labels := prometheus.Labels{"namespace": ns}
	return &metrics{
		enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "enqueued_total",
			Help: "Messages enqueued", ConstLabels: labels,
		}, []string{"queue"}),
		claimed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "claimed_total",
			Help: "Messages claimed by a consumer", ConstLabels: labels,
		}, []string{"queue"}),
		lost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "claims_lost_total",
			Help: "Claims lost to another consumer", ConstLabels: labels,
		}, []string{"queue"}),
		settled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "settled_total",
			Help: "Messages acked or nacked", ConstLabels: labels,
		}, []string{"queue", "state"}),
		requeued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "requeued_total",
			Help: "Messages requeued", ConstLabels: labels,
		}),
		purged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "purged_total",
			Help: "Settled messages deleted by garbage collection", ConstLabels: labels,
		}),
	}
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Collectors returns the broker counters and a collector which reports the
// number of messages by queue and state, read from the database when scraped
func (broker *Broker) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		broker.metrics.enqueued,
		broker.metrics.claimed,
		broker.metrics.lost,
		broker.metrics.settled,
		broker.metrics.requeued,
		broker.metrics.purged,
		&depth{
			broker: broker,
			messages: prometheus.NewDesc(
				prometheus.BuildFQName(metricsNamespace, "", "messages"),
				"Number of messages in each queue by state",
				[]string{"queue", "state"}, prometheus.Labels{"namespace": broker.ns},
			),
		},
	}
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS - COLLECTOR

func (d *depth) Describe(ch chan<- *prometheus.Desc) {
	ch <- d.messages
}

func (d *depth) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), metricsTimeout)
	defer cancel()

	stats, err := d.broker.ListQueueStats(ctx, "")
	if err != nil {
		ch <- prometheus.NewInvalidMetric(d.messages, err)
		return
	}
	for _, s := range stats.Body {
		ch <- prometheus.MustNewConstMetric(d.messages, prometheus.GaugeValue, float64(s.Count), s.Queue, string(s.State))
	}
}
