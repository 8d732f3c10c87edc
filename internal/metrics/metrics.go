package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PurchasesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prepaid_purchases_total",
		Help: "Purchases by service line and resulting status",
	}, []string{"service", "status"})

	RefundsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prepaid_refunds_total",
		Help: "Refunds applied to wallets, by the path that finalized the purchase",
	}, []string{"source"})

	RefundFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prepaid_refund_failures_total",
		Help: "Refunds that could not be applied and were flagged for manual review",
	})

	WebhooksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prepaid_webhooks_total",
		Help: "Provider webhook deliveries by result",
	}, []string{"result"})

	SweepItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prepaid_sweep_items_total",
		Help: "Requery sweep items by result",
	}, []string{"result"})

	ProviderLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "prepaid_provider_request_duration_seconds",
		Help:    "Provider call latency",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
	}, []string{"operation", "result"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "prepaid_ws_connections",
		Help: "Open balance websocket connections",
	})

	WSDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prepaid_ws_dropped_messages_total",
		Help: "Updates dropped because a client's send buffer was full",
	})

	HTTPLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "prepaid_http_request_duration_seconds",
		Help:    "API request latency",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"method", "route", "status"})
)
