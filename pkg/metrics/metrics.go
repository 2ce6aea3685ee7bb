package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// BarsIngested counts price bars written to the store by ticker symbol
var BarsIngested = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tickersvc_bars_ingested_total",
		Help: "Total number of price bars persisted by ingestion",
	},
	[]string{"ticket"},
)

// IngestLatency records latency distribution for ingestion requests
var IngestLatency = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "tickersvc_ingest_latency_seconds",
		Help:    "Latency in seconds of a full fetch-reconcile-persist cycle",
		Buckets: prometheus.DefBuckets,
	},
)

// PredictLatency records latency distribution for prediction requests
var PredictLatency = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "tickersvc_predict_latency_seconds",
		Help:    "Latency in seconds of a prediction call",
		Buckets: prometheus.DefBuckets,
	},
)

// Database connection pool metrics
var (
	DBOpenConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tickersvc_db_open_connections",
			Help: "Number of open connections in the DB pool",
		},
		[]string{"db"},
	)

	DBIdleConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tickersvc_db_idle_connections",
			Help: "Number of idle connections in the DB pool",
		},
		[]string{"db"},
	)

	DBInUseConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tickersvc_db_in_use_connections",
			Help: "Number of in-use connections in the DB pool",
		},
		[]string{"db"},
	)
)

func init() {
	prometheus.MustRegister(BarsIngested, IngestLatency, PredictLatency)
	prometheus.MustRegister(DBOpenConns, DBIdleConns, DBInUseConns)
}
