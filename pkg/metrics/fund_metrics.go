package metrics

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// FundMetrics exposes the settlement daemon's Prometheus metrics.
type FundMetrics struct {
	namespace string
	registry  *prometheus.Registry
	gatherer  prometheus.Gatherer
	logger    log.Logger

	// Investment lifecycle metrics
	requestsOpened    prometheus.Counter
	requestsCancelled prometheus.Counter
	requestsExecuted  prometheus.Counter
	sharesRedeemed    prometheus.Counter
	shareSupply       prometheus.Gauge

	// Trading metrics
	ordersFilled    prometheus.CounterVec
	failedCalls     prometheus.CounterVec
	callLatency     prometheus.Histogram
	vaultHoldings   prometheus.GaugeVec
	engineLiquidity prometheus.GaugeVec

	// Network metrics
	natsPublished prometheus.Counter
	wsClients     prometheus.Gauge

	// System metrics
	memoryUsage prometheus.Gauge
	goroutines  prometheus.Gauge
}

// NewFundMetrics creates and registers the daemon's metric set.
func NewFundMetrics(namespace string) (*FundMetrics, error) {
	logger := log.Root().New("module", "metrics")
	logger.Info("Initializing fund metrics")

	registry := prometheus.NewRegistry()

	m := &FundMetrics{
		namespace: namespace,
		registry:  registry,
		gatherer:  registry,
		logger:    logger,

		requestsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "investment_requests_total",
			Help:      "Total investment requests opened",
		}),

		requestsCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "investment_requests_cancelled_total",
			Help:      "Total investment requests cancelled",
		}),

		requestsExecuted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "investment_requests_executed_total",
			Help:      "Total investment requests executed into shares",
		}),

		sharesRedeemed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shares_redeemed_total",
			Help:      "Total share redemptions",
		}),

		shareSupply: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "share_supply",
			Help:      "Current total share supply",
		}),

		ordersFilled: *prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_filled_total",
			Help:      "Total verified order fills by venue",
		}, []string{"venue"}),

		failedCalls: *prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "integration_calls_failed_total",
			Help:      "Total failed integration calls by venue",
		}, []string{"venue"}),

		callLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "integration_call_latency_microseconds",
			Help:      "Integration call latency in microseconds",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}),

		vaultHoldings: *prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "vault_holdings",
			Help:      "Current vault holdings by asset, in whole units",
		}, []string{"asset"}),

		engineLiquidity: *prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "engine_liquidity",
			Help:      "Engine liquidity by state, in whole units",
		}, []string{"state"}),

		natsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nats_messages_published_total",
			Help:      "Total NATS messages published",
		}),

		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_clients",
			Help:      "Currently connected websocket clients",
		}),

		memoryUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_usage_bytes",
			Help:      "Current memory usage in bytes",
		}),

		goroutines: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "goroutines_count",
			Help:      "Current number of goroutines",
		}),
	}

	registry.MustRegister(
		m.requestsOpened,
		m.requestsCancelled,
		m.requestsExecuted,
		m.sharesRedeemed,
		m.shareSupply,
		m.ordersFilled,
		m.failedCalls,
		m.callLatency,
		m.vaultHoldings,
		m.engineLiquidity,
		m.natsPublished,
		m.wsClients,
		m.memoryUsage,
		m.goroutines,
	)

	logger.Info("Fund metrics initialized successfully")
	return m, nil
}

// StartServer starts the Prometheus metrics server.
func (m *FundMetrics) StartServer(port string) error {
	m.logger.Info("Starting Prometheus metrics server", "port", port)

	http.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	go func() {
		if err := http.ListenAndServe(":"+port, nil); err != nil {
			m.logger.Error("Metrics server failed", "error", err)
		}
	}()

	m.logger.Info("Prometheus metrics available",
		"endpoint", "http://localhost:"+port+"/metrics")

	return nil
}

// RecordRequestOpened records an investment request opened.
func (m *FundMetrics) RecordRequestOpened() {
	m.requestsOpened.Inc()
}

// RecordRequestCancelled records an investment request cancelled.
func (m *FundMetrics) RecordRequestCancelled() {
	m.requestsCancelled.Inc()
}

// RecordRequestExecuted records an investment request executed.
func (m *FundMetrics) RecordRequestExecuted() {
	m.requestsExecuted.Inc()
}

// RecordRedemption records a share redemption.
func (m *FundMetrics) RecordRedemption() {
	m.sharesRedeemed.Inc()
}

// RecordOrderFilled records a verified fill on a venue.
func (m *FundMetrics) RecordOrderFilled(venue string) {
	m.ordersFilled.WithLabelValues(venue).Inc()
}

// RecordFailedCall records a rejected or rolled-back integration call.
func (m *FundMetrics) RecordFailedCall(venue string) {
	m.failedCalls.WithLabelValues(venue).Inc()
}

// RecordCallLatency records an integration call latency.
func (m *FundMetrics) RecordCallLatency(microseconds float64) {
	m.callLatency.Observe(microseconds)
}

// UpdateShareSupply updates the share supply gauge.
func (m *FundMetrics) UpdateShareSupply(supply float64) {
	m.shareSupply.Set(supply)
}

// UpdateVaultHolding updates one asset's vault holding gauge.
func (m *FundMetrics) UpdateVaultHolding(asset string, amount float64) {
	m.vaultHoldings.WithLabelValues(asset).Set(amount)
}

// UpdateEngineLiquidity updates the engine's frozen or liquid gauge.
func (m *FundMetrics) UpdateEngineLiquidity(state string, amount float64) {
	m.engineLiquidity.WithLabelValues(state).Set(amount)
}

// RecordNATSPublished records a NATS message published.
func (m *FundMetrics) RecordNATSPublished() {
	m.natsPublished.Inc()
}

// UpdateWSClients updates the connected websocket client count.
func (m *FundMetrics) UpdateWSClients(count float64) {
	m.wsClients.Set(count)
}

// CollectSystemMetrics collects system-level metrics until ctx is done.
func (m *FundMetrics) CollectSystemMetrics(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var memStats runtime.MemStats
			runtime.ReadMemStats(&memStats)
			m.memoryUsage.Set(float64(memStats.Alloc))
			m.goroutines.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// LogMetrics logs a metrics snapshot.
func (m *FundMetrics) LogMetrics() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.logger.Info("Current metrics snapshot",
		"memory_mb", memStats.Alloc/1024/1024,
		"goroutines", runtime.NumGoroutine(),
	)
}
