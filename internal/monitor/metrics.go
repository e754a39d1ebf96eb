// internal/monitor/metrics.go
package monitor

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rovshanmuradov/toxi-relay/internal/events"
)

// Metrics exposes bot activity to Prometheus. It keeps its own registry so
// tests and multiple instances never collide on the global one.
//
//   - toxi_positions_opened_total
//   - toxi_positions_closed_total{status}
//   - toxi_active_positions
//   - toxi_profit_total
//   - toxi_peer_messages_total{kind}
//   - toxi_commands_failed_total
//   - toxi_auth_state{state}
type Metrics struct {
	registry *prometheus.Registry

	opened         prometheus.Counter
	closed         *prometheus.CounterVec
	active         prometheus.Gauge
	profit         prometheus.Gauge
	peerMessages   *prometheus.CounterVec
	commandsFailed prometheus.Counter
	authState      *prometheus.GaugeVec

	subs []events.Subscription
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		opened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "toxi_positions_opened_total",
			Help: "Positions opened after a relayed buy",
		}),
		closed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "toxi_positions_closed_total",
			Help: "Positions closed, by terminal status",
		}, []string{"status"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "toxi_active_positions",
			Help: "Currently open positions",
		}),
		profit: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "toxi_profit_total",
			Help: "Accumulated simulated profit",
		}),
		peerMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "toxi_peer_messages_total",
			Help: "Replies received from the peer, by classification",
		}, []string{"kind"}),
		commandsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "toxi_commands_failed_total",
			Help: "Commands that could not be relayed",
		}),
		authState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "toxi_auth_state",
			Help: "1 for the current auth state, 0 otherwise",
		}, []string{"state"}),
	}

	m.registry.MustRegister(
		m.opened, m.closed, m.active, m.profit,
		m.peerMessages, m.commandsFailed, m.authState,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Observe refreshes the gauges from a ledger snapshot.
func (m *Metrics) Observe(c Counters) {
	m.active.Set(float64(c.ActivePositions))
	f, _ := c.TotalProfit.Float64()
	m.profit.Set(f)
}

// Attach subscribes the metrics to bus events. ledger supplies the gauge
// values after every position change.
func (m *Metrics) Attach(bus *events.Bus, ledger *Ledger) {
	m.subs = append(m.subs,
		bus.SubscribeFunc(events.PositionOpened, func(context.Context, events.Event) error {
			m.opened.Inc()
			m.Observe(ledger.Counters())
			return nil
		}),
		bus.SubscribeFunc(events.PositionClosed, func(_ context.Context, e events.Event) error {
			if ev, ok := e.(events.PositionClosedEvent); ok {
				m.closed.WithLabelValues(ev.Status).Inc()
			}
			m.Observe(ledger.Counters())
			return nil
		}),
		bus.SubscribeFunc(events.PeerMessage, func(_ context.Context, e events.Event) error {
			if ev, ok := e.(events.PeerMessageEvent); ok {
				m.peerMessages.WithLabelValues(ev.Kind).Inc()
			}
			return nil
		}),
		bus.SubscribeFunc(events.CommandFailed, func(context.Context, events.Event) error {
			m.commandsFailed.Inc()
			return nil
		}),
		bus.SubscribeFunc(events.AuthStateChanged, func(_ context.Context, e events.Event) error {
			if ev, ok := e.(events.AuthStateChangedEvent); ok {
				m.authState.Reset()
				m.authState.WithLabelValues(ev.To).Set(1)
			}
			return nil
		}),
	)
}

// Detach drops every bus subscription made by Attach.
func (m *Metrics) Detach() {
	for _, s := range m.subs {
		s.Unsubscribe()
	}
	m.subs = nil
}
