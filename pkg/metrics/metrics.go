// Package metrics exports link statistics to Prometheus.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/robotalks/uavtalk.go/pkg/connection"
	"github.com/robotalks/uavtalk.go/pkg/uavtalk"
)

const namespace = "uavtalk"

// StatsSource provides engine statistics.
type StatsSource interface {
	Stats() uavtalk.Stats
}

type counterDesc struct {
	desc  *prometheus.Desc
	value func(uavtalk.Stats) uint64
}

func newCounterDesc(name, help string, value func(uavtalk.Stats) uint64) counterDesc {
	return counterDesc{
		desc:  prometheus.NewDesc(prometheus.BuildFQName(namespace, "link", name), help, []string{"link"}, nil),
		value: value,
	}
}

var counters = []counterDesc{
	newCounterDesc("rx_bytes_total", "Bytes received.", func(s uavtalk.Stats) uint64 { return s.RxBytes }),
	newCounterDesc("rx_object_bytes_total", "Object payload bytes received.", func(s uavtalk.Stats) uint64 { return s.RxObjectBytes }),
	newCounterDesc("rx_objects_total", "Objects received.", func(s uavtalk.Stats) uint64 { return s.RxObjects }),
	newCounterDesc("rx_errors_total", "Corrupted frames dropped.", func(s uavtalk.Stats) uint64 { return s.RxErrors }),
	newCounterDesc("rx_unknown_total", "Frames of unknown objects.", func(s uavtalk.Stats) uint64 { return s.RxUnknown }),
	newCounterDesc("tx_bytes_total", "Bytes sent.", func(s uavtalk.Stats) uint64 { return s.TxBytes }),
	newCounterDesc("tx_object_bytes_total", "Object payload bytes sent.", func(s uavtalk.Stats) uint64 { return s.TxObjectBytes }),
	newCounterDesc("tx_objects_total", "Objects sent.", func(s uavtalk.Stats) uint64 { return s.TxObjects }),
	newCounterDesc("tx_errors_total", "Failed writes.", func(s uavtalk.Stats) uint64 { return s.TxErrors }),
}

var pendingDesc = prometheus.NewDesc(
	prometheus.BuildFQName(namespace, "link", "pending_transactions"),
	"Transactions waiting for the peer.",
	[]string{"link"}, nil,
)

// Collector collects statistics of engines.
type Collector struct {
	lock    sync.RWMutex
	engines map[string]StatsSource
	state   *prometheus.GaugeVec
}

// NewCollector creates a Collector.
func NewCollector() *Collector {
	return &Collector{
		engines: make(map[string]StatsSource),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "state",
			Help:      "Connection state: 0 disconnected, 1 handshaking, 2 connected.",
		}, []string{"link"}),
	}
}

// Add adds a link to be collected.
func (c *Collector) Add(link string, source StatsSource) *Collector {
	c.lock.Lock()
	c.engines[link] = source
	c.lock.Unlock()
	return c
}

// StateListener returns a connection.StateListener updating the state gauge.
func (c *Collector) StateListener(link string) connection.StateListener {
	gauge := c.state.WithLabelValues(link)
	gauge.Set(float64(connection.StateDisconnected))
	return connection.StateListenerFunc(func(_, to connection.State) {
		gauge.Set(float64(to))
	})
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, counter := range counters {
		ch <- counter.desc
	}
	ch <- pendingDesc
	c.state.Describe(ch)
}

type pendingSource interface {
	PendingTransactions() int
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.lock.RLock()
	defer c.lock.RUnlock()
	for link, source := range c.engines {
		stats := source.Stats()
		for _, counter := range counters {
			ch <- prometheus.MustNewConstMetric(counter.desc, prometheus.CounterValue, float64(counter.value(stats)), link)
		}
		if p, ok := source.(pendingSource); ok {
			ch <- prometheus.MustNewConstMetric(pendingDesc, prometheus.GaugeValue, float64(p.PendingTransactions()), link)
		}
	}
	c.state.Collect(ch)
}

var (
	registerOnce     sync.Once
	defaultCollector = NewCollector()
)

// Default returns the Collector registered with the default registry.
func Default() *Collector {
	registerOnce.Do(func() {
		prometheus.MustRegister(defaultCollector)
	})
	return defaultCollector
}
