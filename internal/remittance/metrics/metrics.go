package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the remittance engine, the admin surface
// and the outbox relay. Volumes are in the smallest currency unit.
type Metrics struct {
	Sends             prometheus.Counter
	SendVolume        prometheus.Counter
	Claims            prometheus.Counter
	ClaimVolume       prometheus.Counter
	Withdrawn         prometheus.Counter
	Rejected          *prometheus.CounterVec
	KYCDecisions      *prometheus.CounterVec
	AdminCommands     *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	OutboxPublished   prometheus.Counter
	OutboxFailures    prometheus.Counter
	OutboxBacklog     prometheus.Gauge
}

// New creates a new Metrics instance registered with the default registerer.
// Call it once per process.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers the metrics with reg. Tests pass a fresh
// prometheus.NewRegistry().
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Sends: factory.NewCounter(prometheus.CounterOpts{
			Name: "remittance_sends_total",
			Help: "Total number of committed remittances",
		}),
		SendVolume: factory.NewCounter(prometheus.CounterOpts{
			Name: "remittance_send_volume_total",
			Help: "Total value escrowed by committed remittances",
		}),
		Claims: factory.NewCounter(prometheus.CounterOpts{
			Name: "remittance_claims_total",
			Help: "Total number of committed claims",
		}),
		ClaimVolume: factory.NewCounter(prometheus.CounterOpts{
			Name: "remittance_claim_volume_total",
			Help: "Total value released by committed claims",
		}),
		Withdrawn: factory.NewCounter(prometheus.CounterOpts{
			Name: "remittance_emergency_withdrawn_total",
			Help: "Total value released by emergency withdrawals",
		}),
		Rejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "remittance_rejected_operations_total",
			Help: "Operations refused, by operation and error code",
		}, []string{"operation", "code"}),
		KYCDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "remittance_kyc_decisions_total",
			Help: "KYC requests and decisions, by outcome",
		}, []string{"outcome"}),
		AdminCommands: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "remittance_admin_commands_total",
			Help: "Committed admin commands, by command",
		}, []string{"command"}),
		OperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "remittance_operation_duration_seconds",
			Help:    "Duration of engine and admin operations, including the state transaction",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"operation"}),
		OutboxPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "remittance_outbox_published_total",
			Help: "Events delivered by the outbox relay",
		}),
		OutboxFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "remittance_outbox_failures_total",
			Help: "Outbox relay delivery attempts that failed",
		}),
		OutboxBacklog: factory.NewGauge(prometheus.GaugeOpts{
			Name: "remittance_outbox_backlog",
			Help: "Events read from the outbox in the last relay pass",
		}),
	}
}

func (m *Metrics) RecordSend(amount uint64) {
	m.Sends.Inc()
	m.SendVolume.Add(float64(amount))
}

func (m *Metrics) RecordClaim(amount uint64) {
	m.Claims.Inc()
	m.ClaimVolume.Add(float64(amount))
}

func (m *Metrics) RecordWithdraw(amount uint64) {
	m.Withdrawn.Add(float64(amount))
}

func (m *Metrics) RecordRejected(operation, code string) {
	m.Rejected.WithLabelValues(operation, code).Inc()
}

func (m *Metrics) RecordKYC(outcome string) {
	m.KYCDecisions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordAdminCommand(command string) {
	m.AdminCommands.WithLabelValues(command).Inc()
}

// ObserveOperation records the duration of an operation.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveOperation(operation string, start time.Time) {
	m.OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (m *Metrics) RecordOutboxPass(backlog, published, failed int) {
	m.OutboxBacklog.Set(float64(backlog))
	m.OutboxPublished.Add(float64(published))
	m.OutboxFailures.Add(float64(failed))
}
