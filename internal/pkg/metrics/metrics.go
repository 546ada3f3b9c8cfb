package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersFilled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ctfx_orders_filled_total",
		Help: "Orders filled directly against an operator",
	}, []string{"side"})

	OrdersMatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ctfx_orders_matched_total",
		Help: "Maker orders settled through matchOrders, by match type",
	}, []string{"match_type"})

	OrderRejects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ctfx_order_rejects_total",
		Help: "Order validation failures",
	}, []string{"reason"})

	BridgeCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ctfx_bridge_calls_total",
		Help: "Split/merge calls issued to the collateral bridge",
	}, []string{"op", "status"})

	BeaconEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ctfx_beacon_events_total",
		Help: "Upgrade beacon lifecycle transitions",
	}, []string{"event"})

	ProxiesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ctfx_proxies_created_total",
		Help: "Proxy wallets deployed by the factory",
	})

	OracleTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ctfx_oracle_transitions_total",
		Help: "Resolver request state transitions",
	}, []string{"state"})

	LatencyBucket = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ctfx_latency_seconds",
		Help:    "Request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})
)
