package market

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	ListingsActive     prometheus.Gauge
	ListingsTotal      *prometheus.CounterVec
	SettlementsTotal   *prometheus.CounterVec
	PayoutRejections   *prometheus.CounterVec
	PaymentsPublished  *prometheus.CounterVec
	SettlementDuration prometheus.Histogram
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		ListingsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "market_listings_active",
				Help: "Number of sales currently listed.",
			},
		),
		ListingsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "market_listings_total",
				Help: "Listing lifecycle transitions.",
			},
			[]string{"action"},
		),
		SettlementsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "market_settlements_total",
				Help: "Finished purchase settlements by outcome.",
			},
			[]string{"outcome"},
		),
		PayoutRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "market_payout_rejections_total",
				Help: "Payout objects rejected during settlement.",
			},
			[]string{"reason"},
		),
		PaymentsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "market_payments_published_total",
				Help: "Payment request events published.",
			},
			[]string{"status"},
		),
		SettlementDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "market_settlement_duration_seconds",
				Help:    "Wall time of the asset transfer and payout resolution.",
				Buckets: prometheus.DefBuckets,
			},
		),
	}

	registry.MustRegister(
		m.ListingsActive,
		m.ListingsTotal,
		m.SettlementsTotal,
		m.PayoutRejections,
		m.PaymentsPublished,
		m.SettlementDuration,
	)
	return m
}
