package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	transactions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "binderctl",
			Subsystem: "transaction",
			Name:      "total",
			Help:      "Transactions by direction and outcome.",
		},
		[]string{"direction", "oneway", "outcome"},
	)
	transactionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "binderctl",
			Subsystem: "transaction",
			Name:      "duration_seconds",
			Help:      "Transaction round trip or dispatch duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 4, 10),
		},
		[]string{"direction", "oneway", "outcome"},
	)
	exchanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "binderctl",
			Subsystem: "driver",
			Name:      "exchanges_total",
			Help:      "BINDER_WRITE_READ calls by result.",
		},
		[]string{"result"},
	)
	exchangeBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "binderctl",
			Subsystem: "driver",
			Name:      "bytes_total",
			Help:      "Command stream bytes moved through the driver.",
		},
		[]string{"direction"},
	)
	commands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "binderctl",
			Subsystem: "driver",
			Name:      "commands_total",
			Help:      "Return commands handled, by opcode.",
		},
		[]string{"opcode"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(transactions, transactionDuration, exchanges, exchangeBytes, commands)
	})
}

// Transaction directions.
const (
	Outbound = "outbound"
	Inbound  = "inbound"
)

func RecordTransaction(direction string, oneway bool, outcome string, duration time.Duration) {
	RegisterMetrics()
	onewayLabel := "false"
	if oneway {
		onewayLabel = "true"
	}
	transactions.WithLabelValues(direction, onewayLabel, outcome).Inc()
	transactionDuration.WithLabelValues(direction, onewayLabel, outcome).Observe(duration.Seconds())
}

func RecordExchange(result string, written, read int) {
	RegisterMetrics()
	exchanges.WithLabelValues(result).Inc()
	if written > 0 {
		exchangeBytes.WithLabelValues("write").Add(float64(written))
	}
	if read > 0 {
		exchangeBytes.WithLabelValues("read").Add(float64(read))
	}
}

func RecordCommand(opcode string) {
	RegisterMetrics()
	commands.WithLabelValues(opcode).Inc()
}
