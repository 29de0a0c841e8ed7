// Package metrics exposes server counters and gauges in the Prometheus text
// exposition format.
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sync/atomic"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// Metric names.
const (
	NameIngested    = "queuefeed_ingested_total"
	NameRejected    = "queuefeed_rejected_total"
	NameClicks      = "queuefeed_clicks_total"
	NameEvicted     = "queuefeed_evicted_total"
	NameCleanups    = "queuefeed_cleanups_total"
	NameRecords     = "queuefeed_records"
	NameSubscribers = "queuefeed_subscribers"

	NameSubscribersDropped = "queuefeed_subscribers_dropped_total"
	NameRelayDelivered     = "queuefeed_relay_delivered_total"
	NameRelayFailed        = "queuefeed_relay_failed_total"
	NameRelayDropped       = "queuefeed_relay_dropped_total"
)

// Counters are the monotonically increasing server counters. A nil
// *Counters is valid and records nothing.
type Counters struct {
	ingested atomic.Uint64
	rejected atomic.Uint64
	clicks   atomic.Uint64
	evicted  atomic.Uint64
	cleanups atomic.Uint64
}

// NewCounters returns zeroed counters.
func NewCounters() *Counters { return &Counters{} }

func (c *Counters) Ingested() {
	if c != nil {
		c.ingested.Add(1)
	}
}

func (c *Counters) Rejected() {
	if c != nil {
		c.rejected.Add(1)
	}
}

func (c *Counters) Clicked() {
	if c != nil {
		c.clicks.Add(1)
	}
}

// Evicted records one eviction cycle that removed n records.
func (c *Counters) Evicted(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.evicted.Add(uint64(n))
	c.cleanups.Add(1)
}

// Values is a point-in-time copy of Counters.
type Values struct {
	Ingested, Rejected, Clicks, Evicted, Cleanups uint64
}

// Snapshot returns the current counter values.
func (c *Counters) Snapshot() Values {
	if c == nil {
		return Values{}
	}
	return Values{
		Ingested: c.ingested.Load(),
		Rejected: c.rejected.Load(),
		Clicks:   c.clicks.Load(),
		Evicted:  c.evicted.Load(),
		Cleanups: c.cleanups.Load(),
	}
}

// Gauges are values owned by other components and sampled on every scrape.
// The uint64 fields are cumulative and exposed as counters.
type Gauges struct {
	Records     int
	Subscribers int

	SubscribersDropped uint64 // slow subscribers disconnected by the hub
	RelayDelivered     uint64
	RelayFailed        uint64
	RelayDropped       uint64 // records discarded because the relay queue was full
}

// Families builds the metric families for c and g in name order.
func Families(c *Counters, g Gauges) []*dto.MetricFamily {
	if c == nil {
		c = &Counters{}
	}
	return []*dto.MetricFamily{
		counter(NameCleanups, "Eviction cycles that changed the store.", c.cleanups.Load()),
		counter(NameClicks, "Accepted click increments.", c.clicks.Load()),
		counter(NameEvicted, "Records removed by eviction.", c.evicted.Load()),
		counter(NameIngested, "Webhook payloads accepted.", c.ingested.Load()),
		gauge(NameRecords, "Records currently retained.", float64(g.Records)),
		counter(NameRejected, "Webhook payloads rejected as invalid.", c.rejected.Load()),
		counter(NameRelayDelivered, "Relay deliveries accepted by a target.", g.RelayDelivered),
		counter(NameRelayDropped, "Records dropped because the relay queue was full.", g.RelayDropped),
		counter(NameRelayFailed, "Relay deliveries that failed.", g.RelayFailed),
		gauge(NameSubscribers, "Connected live subscribers.", float64(g.Subscribers)),
		counter(NameSubscribersDropped, "Subscribers disconnected for falling behind.", g.SubscribersDropped),
	}
}

// Write encodes the families for c and g to w as Prometheus text.
func Write(w io.Writer, c *Counters, g Gauges) error {
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range Families(c, g) {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// Handler serves GET /metrics. sample is called once per scrape.
func Handler(c *Counters, sample func() Gauges) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", string(expfmt.NewFormat(expfmt.TypeTextPlain)))
		if err := Write(w, c, sample()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}

func counter(name, help string, v uint64) *dto.MetricFamily {
	val := float64(v)
	return &dto.MetricFamily{
		Name:   &name,
		Help:   &help,
		Type:   dto.MetricType_COUNTER.Enum(),
		Metric: []*dto.Metric{{Counter: &dto.Counter{Value: &val}}},
	}
}

func gauge(name, help string, v float64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   &name,
		Help:   &help,
		Type:   dto.MetricType_GAUGE.Enum(),
		Metric: []*dto.Metric{{Gauge: &dto.Gauge{Value: &v}}},
	}
}
