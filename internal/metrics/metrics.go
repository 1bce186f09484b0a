// Package metrics defines the Prometheus metrics exported by both
// binaries. Grounded on metrics/metrics.go's promauto package-level-var
// shape, with the teacher's tcpinfo_* connection-tracking metrics replaced
// by the product-transfer counters and histograms spec.md §5 and §8 call
// out: products sent/received/acked, ack latency, disconnects, and queue
// depth.
package metrics

import (
	"log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProductsSent counts products handed to the wire, labeled by
	// outcome (ok, retry, fail) of the acknowledgement.
	ProductsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prodxfer_products_sent_total",
			Help: "Products the client has attempted to send, by outcome.",
		}, []string{"outcome"})

	// ProductsReceived counts products the server has finished handling,
	// labeled by outcome (ok, retry, fail).
	ProductsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prodxfer_products_received_total",
			Help: "Products the server has finished handling, by outcome.",
		}, []string{"outcome"})

	// AckLatencyHistogram tracks the time between the start of a
	// product's transmission (its SendTime) and receiving its ack, the
	// same span as the product log's ackΔ field.
	AckLatencyHistogram = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "prodxfer_ack_latency_seconds",
			Help: "Latency between the start of a product's transmission and its ack.",
			Buckets: []float64{
				0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5,
				1, 2.5, 5, 10, 25, 50, 100,
			},
		},
	)

	// DisconnectCount counts client disconnects, labeled by cause
	// (no-peer after a failed send or a peer EOF, io-error otherwise).
	DisconnectCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prodxfer_disconnect_total",
			Help: "Client disconnect events, by cause.",
		}, []string{"cause"})

	// QueueDepthGauge tracks the poller's current snapshot length.
	QueueDepthGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "prodxfer_queue_depth",
			Help: "Number of entries in the current input-spool snapshot.",
		},
	)

	// ProductTableInUseGauge tracks how many of the product table's
	// window slots are currently awaiting an ack; slots on the retry list
	// are not counted.
	ProductTableInUseGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "prodxfer_product_table_in_use",
			Help: "Product table slots currently awaiting ack.",
		},
	)

	// WorkerCountGauge tracks the server's current active connection
	// count.
	WorkerCountGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "prodxfer_server_workers",
			Help: "Number of connections currently being served.",
		},
	)

	// BytesTransferred counts raw bytes moved, labeled by direction (tx,
	// rx) — the Go-native analog of wireconn.Conn's byte counters
	// exported for scraping instead of only logged.
	BytesTransferred = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prodxfer_bytes_total",
			Help: "Raw bytes moved over product-transfer connections, by direction.",
		}, []string{"direction"})
)

func init() {
	log.Println("prodxfer metrics registered.")
}
