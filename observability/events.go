package observability

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"

	"mvault/core/events"
)

type eventMetrics struct {
	emitted *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking emitted engine events.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "mvault",
				Subsystem: "events",
				Name:      "emitted_total",
				Help:      "Count of committed engine events segmented by type.",
			}, []string{"type"}),
		}
		prometheus.MustRegister(eventRegistry.emitted)
	})
	return eventRegistry
}

// RecordEvent increments the counter for the supplied event type.
func (m *eventMetrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	normalized := strings.TrimSpace(eventType)
	if normalized == "" {
		normalized = "unknown"
	}
	m.emitted.WithLabelValues(normalized).Inc()
}

// MetricsEmitter feeds committed engine events into the event and vault
// registries. Vault labels come from names; unnamed vaults use their hex
// address.
type MetricsEmitter struct {
	names  map[common.Address]string
	vaults *VaultMetrics
	events *eventMetrics
}

// NewMetricsEmitter builds an emitter over the global registries.
func NewMetricsEmitter(names map[common.Address]string) *MetricsEmitter {
	copied := make(map[common.Address]string, len(names))
	for addr, name := range names {
		copied[addr] = name
	}
	return &MetricsEmitter{names: copied, vaults: Vault(), events: Events()}
}

func (e *MetricsEmitter) label(addr common.Address) string {
	if name, ok := e.names[addr]; ok && name != "" {
		return name
	}
	return addr.Hex()
}

// Emit implements events.Emitter.
func (e *MetricsEmitter) Emit(evt events.Event) {
	if e == nil || evt == nil {
		return
	}
	e.events.RecordEvent(evt.EventType())
	switch ev := evt.(type) {
	case events.InitiateRequest:
		e.vaults.RecordRequest(e.label(ev.Vault), "created")
		e.vaults.RecordFlow(e.label(ev.Vault), "in", ev.AmountUsd)
	case events.Redeem:
		e.vaults.RecordRequest(e.label(ev.Vault), "created")
		e.vaults.RecordFlow(e.label(ev.Vault), "out", ev.AmountIn)
	case events.FulfillRequest:
		e.vaults.RecordRequest(e.label(ev.Vault), "fulfilled")
	case events.CancelRequest:
		e.vaults.RecordRequest(e.label(ev.Vault), "cancelled")
	case events.RedeemInstant:
		e.vaults.RecordRequest(e.label(ev.Vault), "instant")
		e.vaults.RecordFlow(e.label(ev.Vault), "out", ev.AmountIn)
	case events.FeeCollected:
		e.vaults.RecordFee(e.label(ev.Vault), ev.Fee)
	case events.VaultAdminAction:
		if ev.Kind == events.TypeChangePauseState {
			e.vaults.SetPaused(e.label(ev.Vault), ev.Value == "true")
		}
	}
}
