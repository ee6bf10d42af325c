package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	GatewayEventsReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hostpayouts_gateway_events_received_total",
		Help: "Inbound webhook deliveries by intake result.",
	}, []string{"result"})

	GatewayEventsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hostpayouts_gateway_events_processed_total",
		Help: "Gateway event processing attempts by outcome.",
	}, []string{"outcome"})

	SettlementTransfers = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hostpayouts_settlement_transfers_total",
		Help: "Settlement item transfer attempts by outcome.",
	}, []string{"outcome"})

	SettlementTransferredAmount = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hostpayouts_settlement_transferred_minor_units_total",
		Help: "Amount transferred to hosts in minor currency units.",
	}, []string{"currency"})

	SettlementBatches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hostpayouts_settlement_batches_total",
		Help: "Settlement batch runs by final status.",
	}, []string{"status", "trigger"})

	LedgerEntriesWritten = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hostpayouts_ledger_entries_written_total",
		Help: "Ledger entries created by backfill jobs.",
	}, []string{"source"})

	JobsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hostpayouts_jobs_processed_total",
		Help: "Background jobs by type and result.",
	}, []string{"type", "result"})
)

var once sync.Once

// InitMetrics registers all collectors with the default registry.
func InitMetrics() {
	once.Do(func() {
		prometheus.MustRegister(
			GatewayEventsReceived,
			GatewayEventsProcessed,
			SettlementTransfers,
			SettlementTransferredAmount,
			SettlementBatches,
			LedgerEntriesWritten,
			JobsProcessed,
		)
	})
}
