package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ubiquity/ubiquity-dollar-sub001/internal/ledger"
)

func scrape(t *testing.T) (*Metrics, func() string) {
	t.Helper()
	reg := prom.NewRegistry()
	m, handler, err := SetupWithRegistry("yieldproxy-test", reg, reg)
	require.NoError(t, err)

	return m, func() string {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
		body, err := io.ReadAll(rec.Body)
		require.NoError(t, err)
		return string(body)
	}
}

func TestMetrics_LedgerSink(t *testing.T) {
	m, read := scrape(t)
	ctx := context.Background()

	var sink ledger.EventSink = m
	sink.Emit(ctx, ledger.Event{ID: uuid.New(), Type: ledger.EventDeposited, Account: common.HexToAddress("0x1")})
	sink.Emit(ctx, ledger.Event{
		ID:      uuid.New(),
		Type:    ledger.EventWithdrawnAll,
		Account: common.HexToAddress("0x1"),
		Fields:  map[string]string{"rewardPayout": "2500000000000000000"},
	})
	m.RecordLedgerFailure(ctx, "deposit", "POSITION_ALREADY_OPEN")
	m.RecordPricePerShare(1.25)

	body := read()
	assert.Contains(t, body, "yp_ledger_events_total")
	assert.Contains(t, body, `type="Deposited"`)
	assert.Contains(t, body, `type="WithdrawnAll"`)
	assert.Contains(t, body, "yp_ledger_failures_total")
	assert.Contains(t, body, `reason="POSITION_ALREADY_OPEN"`)
	assert.Contains(t, body, "yp_reward_payout_tokens_total")
	assert.Contains(t, body, "yp_vault_price_per_share")
	assert.Contains(t, body, "1.25")
}

func TestMetrics_HTTPAndCache(t *testing.T) {
	m, read := scrape(t)
	ctx := context.Background()

	m.RecordHTTPRequest(ctx, "GET", "/v1/vault", 200, 0)
	m.RecordCacheHit(ctx, "vault")
	m.RecordCacheMiss(ctx, "position")
	m.IncrementConnections(ctx)

	body := read()
	assert.Contains(t, body, "yp_http_requests_total")
	assert.Contains(t, body, "yp_cache_hits_total")
	assert.Contains(t, body, "yp_cache_misses_total")
	assert.Contains(t, body, "yp_websocket_connections")
}
