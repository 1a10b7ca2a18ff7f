package coordinator

import "github.com/prometheus/client_golang/prometheus"

var (
	blocksProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stakepool_blocks_processed_total",
			Help: "Chain tips fully processed by the coordinator loop",
		},
		[]string{"chain"},
	)

	stakesFound = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stakepool_stakes_found_total",
			Help: "Blocks detected as staked by a pool staker",
		},
		[]string{"chain"},
	)

	stakesMatured = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stakepool_stakes_matured_total",
			Help: "Stakes that reached coinbase maturity",
		},
		[]string{"chain"},
	)

	paymentsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stakepool_payments_sent_total",
			Help: "Successful on-chain payout transactions",
		},
		[]string{"chain"},
	)

	iterationErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stakepool_iteration_errors_total",
			Help: "Coordinator iterations that failed and were skipped",
		},
		[]string{"chain", "op"},
	)
)

func init() {
	prometheus.MustRegister(
		blocksProcessed,
		stakesFound,
		stakesMatured,
		paymentsSent,
		iterationErrors,
	)
}
