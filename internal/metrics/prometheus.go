package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "spl_sniper_bot"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

func (p promCounter) Add(delta float64) {
	p.counter.Add(delta)
}

type Prometheus struct {
	Metrics *Metrics

	registry *prometheus.Registry
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: promNamespace,
			Name:      name,
			Help:      help,
		})
	}
	eventsIngested := counter("events_ingested_total", "Total market events emitted by the feed adapter.")
	eventsDeduped := counter("events_deduped_total", "Total duplicate upstream messages dropped.")
	eventsLate := counter("events_late_total", "Total events emitted outside the reorder window.")
	feedReconnects := counter("feed_reconnects_total", "Total feed reconnect attempts.")
	candidates := counter("candidates_total", "Total candidates produced by the detector.")
	candidatesReject := counter("candidates_rejected_total", "Total candidates rejected by the risk evaluator.")
	ordersSubmitted := counter("orders_submitted_total", "Total orders broadcast to the gateway.")
	ordersConfirmed := counter("orders_confirmed_total", "Total orders confirmed on chain.")
	ordersFailed := counter("orders_failed_total", "Total orders that failed persistently.")
	ordersTimedOut := counter("orders_timed_out_total", "Total orders whose confirmation timed out.")
	exitsTriggered := counter("exits_triggered_total", "Total stop-loss/take-profit exits triggered.")
	assetsQuarantine := counter("assets_quarantined_total", "Total assets quarantined after ledger inconsistencies.")
	reportsDropped := counter("reports_dropped_total", "Total report records dropped under backpressure.")

	registry.MustRegister(
		eventsIngested, eventsDeduped, eventsLate, feedReconnects,
		candidates, candidatesReject,
		ordersSubmitted, ordersConfirmed, ordersFailed, ordersTimedOut,
		exitsTriggered, assetsQuarantine, reportsDropped,
	)

	m := &Metrics{
		EventsIngested:   promCounter{eventsIngested},
		EventsDeduped:    promCounter{eventsDeduped},
		EventsLate:       promCounter{eventsLate},
		FeedReconnects:   promCounter{feedReconnects},
		Candidates:       promCounter{candidates},
		CandidatesReject: promCounter{candidatesReject},
		OrdersSubmitted:  promCounter{ordersSubmitted},
		OrdersConfirmed:  promCounter{ordersConfirmed},
		OrdersFailed:     promCounter{ordersFailed},
		OrdersTimedOut:   promCounter{ordersTimedOut},
		ExitsTriggered:   promCounter{exitsTriggered},
		AssetsQuarantine: promCounter{assetsQuarantine},
		ReportsDropped:   promCounter{reportsDropped},
	}

	return &Prometheus{Metrics: m, registry: registry}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
