// Package metrics renders relay, hub and history counters in the Prometheus
// text exposition format.
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"

	"github.com/Tyrowin/gochat-relay/internal/history"
	"github.com/Tyrowin/gochat-relay/internal/hub"
	"github.com/Tyrowin/gochat-relay/internal/relay"
)

const namespace = "gochat"

// Gatherer snapshots counters from the running components on every scrape.
type Gatherer struct {
	hub     *hub.Hub
	relay   *relay.Server
	history *history.Buffer
	started time.Time
	now     func() time.Time
}

// New returns a Gatherer over the given components.
func New(h *hub.Hub, srv *relay.Server, buf *history.Buffer) *Gatherer {
	return &Gatherer{hub: h, relay: srv, history: buf, started: time.Now(), now: time.Now}
}

// Gather returns the current metric families sorted by name.
func (g *Gatherer) Gather() []*dto.MetricFamily {
	hs := g.hub.Stats()
	rs := g.relay.Stats()

	mfs := []*dto.MetricFamily{
		counter("hub_events_published_total", "Events published to the broadcast hub.", float64(hs.Published)),
		counter("hub_events_dropped_total", "Events dropped from full subscriber queues.", float64(hs.Dropped)),
		gauge("hub_subscribers", "Current hub subscriptions.", float64(hs.Subscribers)),
		gauge("history_events", "Events held in the history buffer.", float64(g.history.Len())),
		gauge("history_capacity", "Capacity of the history buffer.", float64(g.history.Cap())),
		counter("sessions_accepted_total", "Connections handed to the relay.", float64(rs.Accepted)),
		gauge("sessions_active", "Connections currently running a session.", float64(rs.Active)),
		counter("sessions_closed_total", "Sessions that have finished.", float64(rs.Closed)),
		counter("protocol_records_dropped_total", "Inbound records dropped as undecodable or oversized.", float64(rs.ProtocolDrops)),
		counter("rate_limited_messages_total", "Chat messages discarded by the rate limiter.", float64(rs.RateLimited)),
		gauge("uptime_seconds", "Seconds since the process started serving.", g.now().Sub(g.started).Seconds()),
	}
	slices.SortFunc(mfs, func(a, b *dto.MetricFamily) int {
		return strings.Compare(a.GetName(), b.GetName())
	})
	return mfs
}

// Encode writes the current families as Prometheus text.
func (g *Gatherer) Encode(w io.Writer) error {
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range g.Gather() {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// Handler serves the exposition over HTTP.
func (g *Gatherer) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", string(expfmt.NewFormat(expfmt.TypeTextPlain)))
		if err := g.Encode(w); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}

func counter(name, help string, v float64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   proto.String(namespace + "_" + name),
		Help:   proto.String(help),
		Type:   dto.MetricType_COUNTER.Enum(),
		Metric: []*dto.Metric{{Counter: &dto.Counter{Value: proto.Float64(v)}}},
	}
}

func gauge(name, help string, v float64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   proto.String(namespace + "_" + name),
		Help:   proto.String(help),
		Type:   dto.MetricType_GAUGE.Enum(),
		Metric: []*dto.Metric{{Gauge: &dto.Gauge{Value: proto.Float64(v)}}},
	}
}
