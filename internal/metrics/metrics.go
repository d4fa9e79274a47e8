package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ============================================
	// Source scanning
	// ============================================
	SourceHeadBlock = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relayer_source_head_block",
		Help: "Latest source chain head seen by the watcher",
	})

	LastScannedBlock = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relayer_last_scanned_block",
		Help: "Last source block committed to the checkpoint",
	})

	IntentsObserved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relayer_intents_observed_total",
		Help: "Total number of BridgeRequest intents decoded from source logs",
	})

	IntentsOrphaned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relayer_intents_orphaned_total",
		Help: "Total number of candidate intents discarded because their block was reorganized out",
	})

	SourceRPCErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayer_source_rpc_errors_total",
			Help: "Total number of failed source RPC calls",
		},
		[]string{"operation"},
	)

	ConfirmationGateSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relayer_confirmation_gate_size",
		Help: "Candidates waiting for confirmation depth",
	})

	// ============================================
	// Relay state machine
	// ============================================
	StateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayer_state_transitions_total",
			Help: "Total number of relay state transitions",
		},
		[]string{"from", "to"},
	)

	PendingIntents = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relayer_pending_intents",
			Help: "Pending intents by relay state",
		},
		[]string{"state"},
	)

	IntentsAbandoned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relayer_intents_abandoned_total",
		Help: "Total number of intents that exhausted their retry budget",
	})

	RelayCycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "relayer_cycle_duration_seconds",
		Help:    "Duration of one poll-process-submit cycle",
		Buckets: prometheus.DefBuckets,
	})

	RelayCycleErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayer_cycle_errors_total",
			Help: "Total number of relay cycles that ended early",
		},
		[]string{"reason"},
	)

	// ============================================
	// Destination submissions
	// ============================================
	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayer_submissions_total",
			Help: "Total number of destination submission attempts by outcome",
		},
		[]string{"outcome"},
	)

	SubmissionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "relayer_submission_duration_seconds",
		Help:    "Time from broadcast to receipt",
		Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
	})

	CompletionChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayer_completion_checks_total",
			Help: "Total number of completion ledger checks by result",
		},
		[]string{"result"}, // cached, processed, unprocessed, error
	)

	SignerBalance = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relayer_signer_balance_wei",
		Help: "Destination chain balance of the submission signer",
	})

	SourceNonceLag = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relayer_source_nonce_lag",
		Help: "Source nextNonce minus the highest nonce this relayer has observed",
	})

	// ============================================
	// Infrastructure
	// ============================================
	DBConnectionActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relayer_db_connection_active",
		Help: "Number of active database connections",
	})

	DBConnectionIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relayer_db_connection_idle",
		Help: "Number of idle database connections",
	})

	DBConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relayer_db_connection_status",
		Help: "Database connection status (1=healthy, 0=unhealthy)",
	})

	NATSConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relayer_nats_connection_status",
		Help: "NATS connection status (1=connected, 0=disconnected)",
	})

	NATSMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayer_nats_messages_published_total",
			Help: "Total number of NATS messages published",
		},
		[]string{"kind", "status"},
	)

	WebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relayer_websocket_connections",
		Help: "Connected transition stream clients",
	})

	LeaderStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relayer_leader_status",
		Help: "1 while this instance holds the relay leader lock",
	})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayer_http_requests_total",
			Help: "Total number of status API requests",
		},
		[]string{"method", "route", "status"},
	)
)
