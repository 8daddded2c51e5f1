// Package metrics exposes the Prometheus collectors of the message bus and
// the small sink contract the error handler counts through.
package metrics

import (
	"errors"
	"slices"
	"sync"
	"time"

	wmmetrics "github.com/ThreeDotsLabs/watermill/components/metrics"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every metric name.
const Namespace = "messagebus"

// Outcome label values.
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeRejected = "rejected"
)

// Sink receives named counter increments.
type Sink interface {
	IncrementCounter(name string, labels map[string]string)
}

// Nop discards every increment.
type Nop struct{}

func (Nop) IncrementCounter(string, map[string]string) {}

// Collector owns the message bus collectors. The zero value is not usable;
// build one with NewCollector.
type Collector struct {
	mu sync.Mutex

	registerer prometheus.Registerer
	registered bool

	publishedTotal   *prometheus.CounterVec
	publishLatency   *prometheus.HistogramVec
	requestsTotal    *prometheus.CounterVec
	requestLatency   *prometheus.HistogramVec
	breakerOpen      *prometheus.GaugeVec
	dynamicCounters  map[string]*dynamicCounter
	publisherMetrics wmmetrics.PrometheusMetricsBuilder
}

type dynamicCounter struct {
	labels []string
	vec    *prometheus.CounterVec
}

func newCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func newHistogramVec(name, help string, buckets []float64, labels []string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      name,
			Help:      help,
			Buckets:   buckets,
		},
		labels,
	)
}

// NewCollector creates the collectors. A nil registerer selects the default
// Prometheus registerer.
func NewCollector(registerer prometheus.Registerer) *Collector {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &Collector{
		registerer:      registerer,
		dynamicCounters: make(map[string]*dynamicCounter),
		publishedTotal:  newCounterVec("messages_published_total", "Messages handed to the broker, by topic and outcome", []string{"topic", "outcome"}),
		publishLatency:  newHistogramVec("publish_latency_seconds", "Broker publish latency", prometheus.DefBuckets, []string{"topic"}),
		requestsTotal:   newCounterVec("requests_total", "RPC requests by method and status code", []string{"method", "code"}),
		requestLatency:  newHistogramVec("request_latency_seconds", "RPC latency by method", prometheus.DefBuckets, []string{"method"}),
		breakerOpen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "breaker",
			Name:      "open",
			Help:      "1 while the circuit breaker for the dependency is open",
		}, []string{"key"}),
		publisherMetrics: wmmetrics.NewPrometheusMetricsBuilder(registerer, Namespace, "broker"),
	}
}

// Register registers the fixed collectors. Safe to call multiple times.
func (c *Collector) Register() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		c.publishedTotal,
		c.publishLatency,
		c.requestsTotal,
		c.requestLatency,
		c.breakerOpen,
	}
	for _, col := range collectors {
		if err := c.registerer.Register(col); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return err
			}
		}
	}

	c.registered = true
	return nil
}

// IncrementCounter increments the counter called name, creating and
// registering it on first use. The label set of the first call fixes the
// label names; later calls fill missing labels with "" and drop unknown ones.
func (c *Collector) IncrementCounter(name string, labels map[string]string) {
	counter, err := c.counter(name, labels)
	if err != nil {
		return
	}
	values := make([]string, len(counter.labels))
	for i, label := range counter.labels {
		values[i] = labels[label]
	}
	counter.vec.WithLabelValues(values...).Inc()
}

func (c *Collector) counter(name string, labels map[string]string) (*dynamicCounter, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.dynamicCounters[name]; ok {
		return existing, nil
	}

	names := make([]string, 0, len(labels))
	for label := range labels {
		names = append(names, label)
	}
	slices.Sort(names)

	vec := newCounterVec(name, "Counter "+name, names)
	if err := c.registerer.Register(vec); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return nil, err
		}
		existing, ok := already.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return nil, err
		}
		vec = existing
	}

	counter := &dynamicCounter{labels: names, vec: vec}
	c.dynamicCounters[name] = counter
	return counter, nil
}

// ObservePublish records one broker publish attempt.
func (c *Collector) ObservePublish(topic, outcome string, elapsed time.Duration) {
	c.publishedTotal.WithLabelValues(topic, outcome).Inc()
	if outcome != OutcomeRejected {
		c.publishLatency.WithLabelValues(topic).Observe(elapsed.Seconds())
	}
}

// ObserveRequest records one RPC.
func (c *Collector) ObserveRequest(method, code string, elapsed time.Duration) {
	c.requestsTotal.WithLabelValues(method, code).Inc()
	c.requestLatency.WithLabelValues(method).Observe(elapsed.Seconds())
}

// SetBreakerOpen mirrors a breaker transition into the gauge.
func (c *Collector) SetBreakerOpen(key string, open bool) {
	value := 0.0
	if open {
		value = 1
	}
	c.breakerOpen.WithLabelValues(key).Set(value)
}

// DecoratePublisher wraps pub with watermill's publish-time metrics,
// registered on the same registerer as the rest of the collectors.
func (c *Collector) DecoratePublisher(pub message.Publisher) (message.Publisher, error) {
	return c.publisherMetrics.DecoratePublisher(pub)
}

// Reset clears every series (useful for testing).
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.publishedTotal.Reset()
	c.publishLatency.Reset()
	c.requestsTotal.Reset()
	c.requestLatency.Reset()
	c.breakerOpen.Reset()
	for _, counter := range c.dynamicCounters {
		counter.vec.Reset()
	}
}

var (
	_ Sink = (*Collector)(nil)
	_ Sink = Nop{}
)
