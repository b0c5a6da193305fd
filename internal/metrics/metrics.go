package metrics

import (
	"context"
	"net/http"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ubiquity/ubiquity-dollar-sub001/internal/calc"
	"github.com/ubiquity/ubiquity-dollar-sub001/internal/ledger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

type Metrics struct {
	HTTPRequests      metric.Int64Counter
	HTTPDuration      metric.Float64Histogram
	CacheHits         metric.Int64Counter
	CacheMisses       metric.Int64Counter
	ActiveConnections metric.Int64UpDownCounter

	LedgerEvents   metric.Int64Counter
	LedgerFailures metric.Int64Counter
	RewardPayouts  metric.Float64Counter
	PricePerShare  metric.Float64ObservableGauge

	mu        sync.Mutex
	lastPrice float64
}

// Setup registers with the default Prometheus registry.
func Setup(serviceName string) (*Metrics, http.Handler, error) {
	return SetupWithRegistry(serviceName, prom.DefaultRegisterer, prom.DefaultGatherer)
}

func SetupWithRegistry(serviceName string, reg prom.Registerer, gatherer prom.Gatherer) (*Metrics, http.Handler, error) {
	exporter, err := prometheus.New(prometheus.WithRegisterer(reg))
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter(serviceName)

	m := &Metrics{}

	m.HTTPRequests, err = meter.Int64Counter(
		"yp_http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPDuration, err = meter.Float64Histogram(
		"yp_http_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.CacheHits, err = meter.Int64Counter(
		"yp_cache_hits_total",
		metric.WithDescription("Total number of cache hits"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.CacheMisses, err = meter.Int64Counter(
		"yp_cache_misses_total",
		metric.WithDescription("Total number of cache misses"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.ActiveConnections, err = meter.Int64UpDownCounter(
		"yp_websocket_connections",
		metric.WithDescription("Number of active WebSocket connections"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.LedgerEvents, err = meter.Int64Counter(
		"yp_ledger_events_total",
		metric.WithDescription("Committed ledger events by type"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.LedgerFailures, err = meter.Int64Counter(
		"yp_ledger_failures_total",
		metric.WithDescription("Rejected or failed ledger operations by reason"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.RewardPayouts, err = meter.Float64Counter(
		"yp_reward_payout_tokens_total",
		metric.WithDescription("Reward tokens minted on withdrawal, in whole tokens"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.PricePerShare, err = meter.Float64ObservableGauge(
		"yp_vault_price_per_share",
		metric.WithDescription("Last observed vault price per share"),
		metric.WithFloat64Callback(func(_ context.Context, o metric.Float64Observer) error {
			m.mu.Lock()
			defer m.mu.Unlock()
			o.Observe(m.lastPrice)
			return nil
		}),
	)
	if err != nil {
		return nil, nil, err
	}

	handler := promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	return m, handler, nil
}

func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, status int, duration time.Duration) {
	labels := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status", status),
	)

	m.HTTPRequests.Add(ctx, 1, labels)
	m.HTTPDuration.Record(ctx, duration.Seconds(), labels)
}

func (m *Metrics) RecordCacheHit(ctx context.Context, key string) {
	m.CacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("key", key)))
}

func (m *Metrics) RecordCacheMiss(ctx context.Context, key string) {
	m.CacheMisses.Add(ctx, 1, metric.WithAttributes(attribute.String("key", key)))
}

func (m *Metrics) IncrementConnections(ctx context.Context) {
	m.ActiveConnections.Add(ctx, 1)
}

func (m *Metrics) DecrementConnections(ctx context.Context) {
	m.ActiveConnections.Add(ctx, -1)
}

// RecordLedgerFailure counts a rejected operation. reason is a stable error
// code, never a raw error string.
func (m *Metrics) RecordLedgerFailure(ctx context.Context, op, reason string) {
	m.LedgerFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("reason", reason),
	))
}

func (m *Metrics) RecordPricePerShare(price float64) {
	m.mu.Lock()
	m.lastPrice = price
	m.mu.Unlock()
}

// Emit makes Metrics a ledger.EventSink.
func (m *Metrics) Emit(ctx context.Context, ev ledger.Event) {
	m.LedgerEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("type", string(ev.Type))))

	if ev.Type == ledger.EventWithdrawnAll || ev.Type == ledger.EventPendingSettled {
		key := "rewardPayout"
		if ev.Type == ledger.EventPendingSettled {
			key = "reward"
		}
		if minted, _ := calc.ToDecimal(ev.Amount(key), calc.WadDecimals).Float64(); minted > 0 {
			m.RewardPayouts.Add(ctx, minted)
		}
	}
}
