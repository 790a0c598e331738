package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// LedgerMetrics tracks instruction outcomes and lamport flows.
type LedgerMetrics struct {
	Instructions       *prometheus.CounterVec
	InstructionLatency *prometheus.HistogramVec
	LamportsPledged    prometheus.Counter
	LamportsRefunded   prometheus.Counter
	LamportsWithdrawn  prometheus.Counter
	EventsPublished    prometheus.Counter
	Pins               *prometheus.CounterVec
}

// New registers the ledger metrics on reg. A nil reg uses a private registry
// so tests can build several services.
func New(reg prometheus.Registerer) *LedgerMetrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &LedgerMetrics{}
	m.init(reg)
	return m
}

func (m *LedgerMetrics) init(reg prometheus.Registerer) {
	factory := promauto.With(reg)
	m.Instructions = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "fundwave_instructions_total",
		Help: "instructions processed, by instruction and result kind",
	}, []string{"instruction", "result"})
	m.InstructionLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fundwave_instruction_duration_seconds",
		Help:    "time from receipt to commit or rejection",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
	}, []string{"instruction"})
	m.LamportsPledged = factory.NewCounter(prometheus.CounterOpts{
		Name: "fundwave_lamports_pledged_total",
		Help: "lamports moved from donors into campaign escrow",
	})
	m.LamportsRefunded = factory.NewCounter(prometheus.CounterOpts{
		Name: "fundwave_lamports_refunded_total",
		Help: "lamports returned to donors by support_cancel",
	})
	m.LamportsWithdrawn = factory.NewCounter(prometheus.CounterOpts{
		Name: "fundwave_lamports_withdrawn_total",
		Help: "lamports paid out to campaign owners",
	})
	m.EventsPublished = factory.NewCounter(prometheus.CounterOpts{
		Name: "fundwave_events_published_total",
		Help: "ledger events handed to the event queue",
	})
	m.Pins = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "fundwave_media_pins_total",
		Help: "image uploads by result",
	}, []string{"result"})
}
