// Package metrics holds the Prometheus instrumentation for the delivery
// pipeline. Collectors are created per logger instance and labelled by
// service, registered on a caller-supplied Registerer; with a nil Registerer
// they still count but are not exposed anywhere.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const (
	namespace = "redarch"
	subsystem = "logclient"
)

// Set bundles the pipeline counters for one logger instance.
type Set struct {
	Enqueued  prometheus.Counter // events accepted onto the in-memory queue
	Delivered prometheus.Counter // events confirmed by the endpoint
	Attempts  prometheus.Counter // delivery attempts (batches, incl. retries)
	Buffered  prometheus.Counter // events persisted to the disk buffer
	Recovered prometheus.Counter // buffered events redelivered successfully
	Rejected  prometheus.Counter // events refused as non-retryable
	Dropped   prometheus.Counter // corrupt buffer lines discarded
	QueueFull prometheus.Counter // enqueue timeouts that fell back to disk
	QueueLen  prometheus.Gauge   // current in-memory queue depth
}

// New builds the Set for service and registers it on reg when non-nil.
func New(reg prometheus.Registerer, service string) *Set {
	labels := prometheus.Labels{"service": service}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
	}

	s := &Set{
		Enqueued:  counter("events_enqueued_total", "Events accepted onto the in-memory queue."),
		Delivered: counter("events_delivered_total", "Events confirmed delivered by the endpoint."),
		Attempts:  counter("delivery_attempts_total", "Batch delivery attempts, including retries."),
		Buffered:  counter("events_buffered_total", "Events persisted to the disk buffer."),
		Recovered: counter("events_recovered_total", "Previously buffered events redelivered."),
		Rejected:  counter("events_rejected_total", "Events refused by the endpoint as non-retryable."),
		Dropped:   counter("buffer_lines_dropped_total", "Corrupt disk buffer lines discarded."),
		QueueFull: counter("enqueue_overflow_total", "Enqueue timeouts that fell back to the disk buffer."),
		QueueLen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "queue_depth",
			Help:        "Current number of events waiting in the in-memory queue.",
			ConstLabels: labels,
		}),
	}

	if reg != nil {
		reg.MustRegister(
			s.Enqueued, s.Delivered, s.Attempts, s.Buffered,
			s.Recovered, s.Rejected, s.Dropped, s.QueueFull, s.QueueLen,
		)
	}
	return s
}
