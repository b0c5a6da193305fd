package api

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ubiquity/ubiquity-dollar-sub001/internal/auth"
	"github.com/ubiquity/ubiquity-dollar-sub001/internal/calc"
	"github.com/ubiquity/ubiquity-dollar-sub001/internal/jobs"
	"github.com/ubiquity/ubiquity-dollar-sub001/internal/ledger"
	"github.com/ubiquity/ubiquity-dollar-sub001/internal/metrics"
	"github.com/ubiquity/ubiquity-dollar-sub001/internal/onchain"
	"github.com/ubiquity/ubiquity-dollar-sub001/internal/repository"
	"github.com/ubiquity/ubiquity-dollar-sub001/internal/service"
	"github.com/ubiquity/ubiquity-dollar-sub001/internal/store"
	"github.com/ubiquity/ubiquity-dollar-sub001/pkg/kv/memory"
	"go.uber.org/zap"
)

var (
	adminKey   = mustKey("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	aliceKey   = mustKey("8f2a55949038a9610f50fb23b5883af3b4ecb3c3bb792cbcefbd1542c692be63")
	bobKey     = mustKey("0f4c3ab2b9e2a7d5c4e7a3f1b8d6e9c2a5f7b3d1e8c6a4f2b9d7e5c3a1f8b6d4")
	malloryKey = mustKey("c87509a1c067bbde78beb793e6fa76530b6382a4c0241e5e4a9ec0a0f44dc0d3")

	adminAddr = crypto.PubkeyToAddress(adminKey.PublicKey)
	alice     = crypto.PubkeyToAddress(aliceKey.PublicKey)
	bob       = crypto.PubkeyToAddress(bobKey.PublicKey)
	mallory   = crypto.PubkeyToAddress(malloryKey.PublicKey)
	proxyAddr = common.HexToAddress("0x000000000000000000000000000000000000f00d")

	signers = map[common.Address]*ecdsa.PrivateKey{
		adminAddr: adminKey,
		alice:     aliceKey,
		bob:       bobKey,
		mallory:   malloryKey,
	}
)

func mustKey(hexKey string) *ecdsa.PrivateKey {
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		panic(err)
	}
	return key
}

// usdc returns n whole stablecoins in raw 6-decimal units.
func usdc(n int64) *big.Int { return new(big.Int).Mul(big.NewInt(n), calc.Pow10(6)) }

type devSim struct {
	jobs.MemoryJarDrifter
	*onchain.Devnet
}

type apiFixture struct {
	devnet  *onchain.Devnet
	journal *repository.MemoryJournal
	router  http.Handler
	nonce   atomic.Int64
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	ctx := context.Background()
	logger := zap.NewNop().Sugar()

	reg := prom.NewRegistry()
	m, metricsHandler, err := metrics.SetupWithRegistry("yieldproxy-test", reg, reg)
	require.NoError(t, err)

	cache, err := store.NewCache("", logger, m)
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })

	kvStore := memory.New(0)
	t.Cleanup(func() { kvStore.Close() })

	devnet := onchain.NewDevnet(proxyAddr, common.HexToAddress("0xd0"), 6)
	journal := repository.NewMemoryJournal()

	stable, dollar, governance, reward := devnet.Bound()
	engine, err := ledger.NewEngine(ledger.Params{
		Self:       proxyAddr,
		Stable:     stable,
		Dollar:     dollar,
		Governance: governance,
		Reward:     reward,
		Chain:      devnet.Chain,
		State:      ledger.NewKVState(kvStore),
		Sink: ledger.MultiSink{
			service.NewJournalSink(journal, logger),
			service.NewCacheInvalidator(cache, logger),
			m,
		},
		Logger: logger,
	})
	require.NoError(t, err)
	require.NoError(t, engine.Init(ctx, ledger.Genesis{
		Admin:         adminAddr,
		VaultAddress:  devnet.Jar.Address(),
		FeeRateCapBps: ledger.DefaultFeeRateCapBps,
	}))

	vault := service.NewVaultService(engine, journal, cache, logger, service.Config{
		PositionTTL: time.Minute,
		VaultTTL:    time.Millisecond,
	})
	sim := devSim{
		MemoryJarDrifter: jobs.MemoryJarDrifter{
			Chain: devnet.Chain,
			Vault: func(ctx context.Context) (common.Address, error) {
				cfg, err := engine.Config(ctx)
				return cfg.VaultAddress, err
			},
		},
		Devnet: devnet,
	}

	h := NewHandler(vault, nil, cache, sim, nil, logger, m)
	router := h.Routes(NewMiddleware(logger, m), RouteOptions{
		CORSOrigins:    []string{"http://localhost:5173"},
		RateLimitRPM:   0,
		MetricsHandler: metricsHandler,
	})
	return &apiFixture{devnet: devnet, journal: journal, router: router}
}

func (f *apiFixture) newRequest(t *testing.T, method, path string, body any) (*http.Request, []byte) {
	t.Helper()
	var raw []byte
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		raw = b
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, raw
}

// sign signs req as key with a fresh nonce.
func (f *apiFixture) sign(t *testing.T, req *http.Request, raw []byte, key *ecdsa.PrivateKey) {
	t.Helper()
	nonce := fmt.Sprintf("n-%d", f.nonce.Add(1))
	require.NoError(t, auth.Sign(req, key, raw, time.Now(), nonce))
}

func (f *apiFixture) serve(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

// do sends a request signed by caller; the zero address sends it anonymously.
func (f *apiFixture) do(t *testing.T, method, path string, caller common.Address, body any) *httptest.ResponseRecorder {
	t.Helper()
	req, raw := f.newRequest(t, method, path, body)
	if caller != (common.Address{}) {
		key, ok := signers[caller]
		require.True(t, ok, "no key for %s", caller.Hex())
		f.sign(t, req, raw, key)
	}
	return f.serve(req)
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (f *apiFixture) fund(t *testing.T, account common.Address, stable int64) {
	t.Helper()
	require.NoError(t, f.devnet.Fund(context.Background(), account, usdc(stable), nil, nil))
}

func TestHealthEndpoints(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/healthz", common.Address{}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/readyz", common.Address{}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "READY", rec.Body.String())

	rec = f.do(t, http.MethodGet, "/ping", common.Address{}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/metrics", common.Address{}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "yp_http_requests_total")
}

func TestGetVault(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/v1/vault", common.Address{}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	v := decodeBody[VaultDTO](t, rec)
	assert.Equal(t, f.devnet.Jar.Address().Hex(), v.Vault)
	assert.Equal(t, adminAddr.Hex(), v.Admin)
	assert.Equal(t, uint64(ledger.DefaultFeeRateCapBps), v.FeeRateCapBps)
	assert.Equal(t, "1", v.PricePerShare.Decimal)
	assert.Equal(t, uint8(6), v.Assets.StableDecimals)
	assert.Len(t, v.ProtocolTokens, 4)
	assert.Contains(t, v.ProtocolTokens, f.devnet.Stable.Address().Hex())
}

func TestQuoteDeposit(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/v1/quotes/deposit?principal="+usdc(1000).String(), common.Address{}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	q := decodeBody[QuoteDTO](t, rec)
	assert.Equal(t, uint64(1000), q.FeeRateBps)
	assert.Equal(t, usdc(100).String(), q.Fee.Raw)
	assert.Equal(t, "100", q.Fee.Decimal)
	assert.Equal(t, "900", q.NetPrincipal.Decimal)
	assert.Equal(t, uint64(calc.MinBonusBps), q.BonusRateBps)

	rec = f.do(t, http.MethodGet, "/v1/quotes/deposit?principal=abc", common.Address{}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/quotes/deposit", common.Address{}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDepositWithdrawRoundTrip(t *testing.T) {
	f := newAPIFixture(t)
	f.fund(t, alice, 1000)

	rec := f.do(t, http.MethodPost, "/v1/positions/deposit", alice, DepositRequest{Principal: usdc(1000).String()})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	pos := decodeBody[PositionDTO](t, rec)
	assert.True(t, pos.Open)
	assert.Equal(t, "1000", pos.Principal.Decimal)
	assert.Equal(t, "100", pos.FeeCharged.Decimal)
	assert.Equal(t, uint64(calc.MinBonusBps), pos.BonusRateBps)

	rec = f.do(t, http.MethodGet, "/v1/positions/"+alice.Hex(), common.Address{}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeBody[PositionDTO](t, rec).Open)

	rec = f.do(t, http.MethodPost, "/v1/positions/deposit", alice, DepositRequest{Principal: usdc(1).String()})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "POSITION_ALREADY_OPEN", decodeBody[ErrorResponse](t, rec).Code)

	rec = f.do(t, http.MethodPost, "/v1/positions/withdraw", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decodeBody[WithdrawDTO](t, rec)
	assert.Nil(t, out.Pending)
	assert.Equal(t, "900", out.Settlement.Returned.Decimal)
	assert.Equal(t, "0", out.Settlement.YieldInStable.Raw)
	// With no yield the reward is the fee credited back in 18 decimals.
	assert.Equal(t, "100", out.Settlement.RewardPayout.Decimal)

	assert.Equal(t, usdc(900).String(), f.devnet.Stable.Balance(alice).String())

	rec = f.do(t, http.MethodGet, "/v1/positions/"+alice.Hex(), common.Address{}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeBody[PositionDTO](t, rec).Open)

	rec = f.do(t, http.MethodPost, "/v1/positions/withdraw", alice, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NO_OPEN_POSITION", decodeBody[ErrorResponse](t, rec).Code)
}

func TestWithdrawPaysBoostedYield(t *testing.T) {
	f := newAPIFixture(t)
	f.fund(t, alice, 1000)

	rec := f.do(t, http.MethodPost, "/v1/positions/deposit", alice, DepositRequest{Principal: usdc(1000).String()})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/v1/sim/price", alice, SimPriceRequest{
		PricePerShare: new(big.Int).Mul(big.NewInt(2), calc.Wad).String(),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/v1/positions/withdraw", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	s := decodeBody[WithdrawDTO](t, rec).Settlement
	assert.Equal(t, "1000", s.YieldInStable.Decimal)
	assert.Equal(t, "900", s.Returned.Decimal)
	// 1000 yield * 1.5 bonus + 100 fee credit
	assert.Equal(t, "1600", s.RewardPayout.Decimal)
	assert.Equal(t, "1600000000000000000000", f.devnet.Reward.Balance(alice).String())
}

func TestWithdrawDefersFailedPayout(t *testing.T) {
	f := newAPIFixture(t)
	f.fund(t, alice, 1000)

	rec := f.do(t, http.MethodPost, "/v1/positions/deposit", alice, DepositRequest{Principal: usdc(1000).String()})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	f.devnet.Reward.FailNext("mint", assert.AnError)
	rec = f.do(t, http.MethodPost, "/v1/positions/withdraw", alice, nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	out := decodeBody[WithdrawDTO](t, rec)
	require.NotNil(t, out.Pending)
	assert.Equal(t, "100", out.Pending.Reward.Decimal)
	assert.Equal(t, "0", out.Pending.Stable.Raw)

	rec = f.do(t, http.MethodGet, "/v1/positions/"+alice.Hex()+"/pending", common.Address{}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "100", decodeBody[PendingDTO](t, rec).Reward.Decimal)

	rec = f.do(t, http.MethodPost, "/v1/positions/settle", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "100", decodeBody[PendingDTO](t, rec).Reward.Decimal)

	rec = f.do(t, http.MethodPost, "/v1/positions/settle", alice, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOTHING_PENDING", decodeBody[ErrorResponse](t, rec).Code)
}

func TestWithdrawReportsRoundingShortfall(t *testing.T) {
	f := newAPIFixture(t)
	principal := big.NewInt(1_000_000_001)
	stake := new(big.Int).Mul(big.NewInt(10_000), calc.Wad)
	require.NoError(t, f.devnet.Fund(context.Background(), alice, principal, nil, stake))

	rec := f.do(t, http.MethodPost, "/v1/sim/price", alice, SimPriceRequest{
		PricePerShare: new(big.Int).Mul(big.NewInt(105), calc.Pow10(16)).String(),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/v1/positions/deposit", alice, DepositRequest{
		Principal:       principal.String(),
		GovernanceStake: stake.String(),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/v1/positions/withdraw", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decodeBody[WithdrawDTO](t, rec)
	assert.Equal(t, "1", out.Settlement.Shortfall.Raw)
	require.NotNil(t, out.Pending)
	assert.Equal(t, "1", out.Pending.Stable.Raw)
	assert.Equal(t, "1", out.Pending.Unbacked.Raw)
	assert.Equal(t, "1000000000", f.devnet.Stable.Balance(alice).String())
}

func TestMutationsRequireSignature(t *testing.T) {
	f := newAPIFixture(t)
	f.fund(t, alice, 1000)
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/v1/positions/deposit", alice, DepositRequest{Principal: usdc(1000).String()}).Code)
	usdcAddr := f.devnet.Stable.Address().Hex()

	t.Run("claimed admin without signature", func(t *testing.T) {
		req, _ := f.newRequest(t, http.MethodDelete, "/v1/admin/protocol-tokens/"+usdcAddr, nil)
		req.Header.Set(CallerHeader, adminAddr.Hex())
		rec := f.serve(req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "UNAUTHENTICATED", decodeBody[ErrorResponse](t, rec).Code)
	})

	t.Run("admin claim signed by another key", func(t *testing.T) {
		body := SweepRequest{Token: usdcAddr, To: mallory.Hex(), Amount: usdc(100).String()}
		req, raw := f.newRequest(t, http.MethodPost, "/v1/admin/sweep", body)
		f.sign(t, req, raw, malloryKey)
		req.Header.Set(CallerHeader, adminAddr.Hex())
		rec := f.serve(req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("acting for another account", func(t *testing.T) {
		req, raw := f.newRequest(t, http.MethodPost, "/v1/positions/withdraw", nil)
		f.sign(t, req, raw, malloryKey)
		req.Header.Set(CallerHeader, alice.Hex())
		assert.Equal(t, http.StatusUnauthorized, f.serve(req).Code)
	})

	t.Run("replayed request", func(t *testing.T) {
		req, raw := f.newRequest(t, http.MethodPost, "/v1/positions/settle", nil)
		f.sign(t, req, raw, aliceKey)
		replay := req.Clone(context.Background())

		assert.Equal(t, http.StatusNotFound, f.serve(req).Code, "nothing pending, but authenticated")
		rec := f.serve(replay)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("authenticated non-admin", func(t *testing.T) {
		rec := f.do(t, http.MethodDelete, "/v1/admin/protocol-tokens/"+usdcAddr, mallory, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code, "mallory is authenticated but not the admin")
	})

	assert.Equal(t, usdc(100).String(), f.devnet.Stable.Balance(proxyAddr).String(), "collected fees stay put")
	assert.Equal(t, "0", f.devnet.Stable.Balance(mallory).String())

	info := f.do(t, http.MethodGet, "/v1/positions/"+alice.Hex(), common.Address{}, nil)
	require.Equal(t, http.StatusOK, info.Code)
	assert.Equal(t, usdc(1000).String(), decodeBody[PositionDTO](t, info).Principal.Raw)
}

func TestDepositRejectsBadRequests(t *testing.T) {
	f := newAPIFixture(t)

	tests := []struct {
		name   string
		caller common.Address
		body   any
		status int
		code   string
	}{
		{"missing caller", common.Address{}, DepositRequest{Principal: "1"}, http.StatusUnauthorized, "MISSING_CALLER"},
		{"zero principal", alice, DepositRequest{Principal: "0"}, http.StatusBadRequest, "ZERO_AMOUNT"},
		{"negative stake", alice, DepositRequest{Principal: "1", DollarStake: "-1"}, http.StatusBadRequest, "INVALID_AMOUNT"},
		{"unknown field", alice, map[string]string{"principal": "1", "bogus": "x"}, http.StatusBadRequest, "INVALID_REQUEST"},
		{"no allowance", alice, DepositRequest{Principal: usdc(5).String()}, http.StatusUnprocessableEntity, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/v1/positions/deposit", tt.caller, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.code != "" {
				assert.Equal(t, tt.code, decodeBody[ErrorResponse](t, rec).Code)
			}
		})
	}
}

func TestInvalidAddressParam(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/v1/positions/not-an-address", common.Address{}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_ADDRESS", decodeBody[ErrorResponse](t, rec).Code)
}

func TestEventsAndSnapshot(t *testing.T) {
	f := newAPIFixture(t)
	f.fund(t, alice, 1000)

	rec := f.do(t, http.MethodGet, "/v1/positions/"+alice.Hex()+"/snapshot", common.Address{}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/v1/positions/deposit", alice, DepositRequest{Principal: usdc(1000).String()}).Code)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/positions/withdraw", alice, nil).Code)

	rec = f.do(t, http.MethodGet, "/v1/events/"+alice.Hex()+"?limit=1", common.Address{}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	page := decodeBody[EventsDTO](t, rec)
	require.Len(t, page.Events, 1)
	assert.Equal(t, string(ledger.EventWithdrawnAll), page.Events[0].Type)
	require.NotEmpty(t, page.NextCursor)

	rec = f.do(t, http.MethodGet, "/v1/events/"+alice.Hex()+"?limit=1&cursor="+page.NextCursor, common.Address{}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	page = decodeBody[EventsDTO](t, rec)
	require.Len(t, page.Events, 1)
	assert.Equal(t, string(ledger.EventDeposited), page.Events[0].Type)
	assert.Equal(t, usdc(1000).String(), page.Events[0].Fields["principal"])

	rec = f.do(t, http.MethodGet, "/v1/events/"+alice.Hex()+"?cursor=garbage", common.Address{}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_CURSOR", decodeBody[ErrorResponse](t, rec).Code)

	rec = f.do(t, http.MethodGet, "/v1/positions/"+alice.Hex()+"/snapshot", common.Address{}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	snap := decodeBody[SnapshotDTO](t, rec)
	assert.Equal(t, string(repository.StatusClosed), snap.Status)
	assert.Equal(t, "100", snap.RewardPayout.Decimal)
}

func TestAdminEndpoints(t *testing.T) {
	f := newAPIFixture(t)

	t.Run("non admin is rejected", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/v1/admin/fee-rate-cap", alice, FeeRateCapRequest{Bps: 500})
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, "UNAUTHORIZED", decodeBody[ErrorResponse](t, rec).Code)
	})

	t.Run("fee rate cap", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/v1/admin/fee-rate-cap", adminAddr, FeeRateCapRequest{Bps: 500})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, uint64(500), decodeBody[VaultDTO](t, rec).FeeRateCapBps)

		rec = f.do(t, http.MethodPost, "/v1/admin/fee-rate-cap", adminAddr, FeeRateCapRequest{Bps: 10_001})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "INVALID_FEE_RATE", decodeBody[ErrorResponse](t, rec).Code)
	})

	t.Run("stake cap", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/v1/admin/stake-cap", adminAddr, StakeCapRequest{Amount: calc.Wad.String()})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, "1", decodeBody[VaultDTO](t, rec).StakeCapForZeroFee.Decimal)

		tooBig := new(big.Int).Add(ledger.HardStakeCapForZeroFee, big.NewInt(1))
		rec = f.do(t, http.MethodPost, "/v1/admin/stake-cap", adminAddr, StakeCapRequest{Amount: tooBig.String()})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "EXCEEDS_HARD_CAP", decodeBody[ErrorResponse](t, rec).Code)

		rec = f.do(t, http.MethodPost, "/v1/admin/stake-cap", adminAddr, StakeCapRequest{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("vault", func(t *testing.T) {
		next := f.devnet.Chain.DeployJar(f.devnet.Stable)
		rec := f.do(t, http.MethodPost, "/v1/admin/vault", adminAddr, AddressRequest{Address: next.Address().Hex()})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, next.Address().Hex(), decodeBody[VaultDTO](t, rec).Vault)

		rec = f.do(t, http.MethodPost, "/v1/admin/vault", adminAddr, AddressRequest{Address: bob.Hex()})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "INVALID_VAULT", decodeBody[ErrorResponse](t, rec).Code)
	})

	t.Run("protocol tokens and sweep", func(t *testing.T) {
		stray := f.devnet.Chain.DeployToken("DUST", 18)
		stray.Mint(proxyAddr, big.NewInt(42))

		rec := f.do(t, http.MethodPost, "/v1/admin/sweep", adminAddr, SweepRequest{
			Token: f.devnet.Stable.Address().Hex(), To: bob.Hex(), Amount: "1",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "PROTOCOL_TOKEN", decodeBody[ErrorResponse](t, rec).Code)

		rec = f.do(t, http.MethodPost, "/v1/admin/sweep", adminAddr, SweepRequest{
			Token: stray.Address().Hex(), To: bob.Hex(), Amount: "42",
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, "42", stray.Balance(bob).String())

		rec = f.do(t, http.MethodPost, "/v1/admin/protocol-tokens", adminAddr, AddressRequest{Address: stray.Address().Hex()})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Contains(t, decodeBody[VaultDTO](t, rec).ProtocolTokens, stray.Address().Hex())

		rec = f.do(t, http.MethodPost, "/v1/admin/protocol-tokens", adminAddr, AddressRequest{Address: stray.Address().Hex()})
		assert.Equal(t, http.StatusConflict, rec.Code)

		rec = f.do(t, http.MethodDelete, "/v1/admin/protocol-tokens/"+stray.Address().Hex(), adminAddr, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.NotContains(t, decodeBody[VaultDTO](t, rec).ProtocolTokens, stray.Address().Hex())

		rec = f.do(t, http.MethodDelete, "/v1/admin/protocol-tokens/"+stray.Address().Hex(), adminAddr, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "NOT_REGISTERED", decodeBody[ErrorResponse](t, rec).Code)
	})

	t.Run("admin handover", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/v1/admin/admin", adminAddr, AddressRequest{Address: bob.Hex()})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, bob.Hex(), decodeBody[VaultDTO](t, rec).Admin)

		rec = f.do(t, http.MethodPost, "/v1/admin/fee-rate-cap", adminAddr, FeeRateCapRequest{Bps: 100})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestVaultSwitchRefusedWithOpenPositions(t *testing.T) {
	f := newAPIFixture(t)
	f.fund(t, alice, 10)
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/v1/positions/deposit", alice, DepositRequest{Principal: usdc(10).String()}).Code)

	next := f.devnet.Chain.DeployJar(f.devnet.Stable)
	rec := f.do(t, http.MethodPost, "/v1/admin/vault", adminAddr, AddressRequest{Address: next.Address().Hex()})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "VAULT_IN_USE", decodeBody[ErrorResponse](t, rec).Code)
}

func TestFaucet(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/sim/faucet", alice, DepositRequest{Principal: usdc(5).String(), GovernanceStake: calc.Wad.String()})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, usdc(5).String(), f.devnet.Stable.Balance(alice).String())
	assert.Equal(t, calc.Wad.String(), f.devnet.Governance.Allowance(alice, proxyAddr).String())

	rec = f.do(t, http.MethodPost, "/v1/sim/faucet", common.Address{}, DepositRequest{Principal: "1"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSimulationDisabledOutsideDev(t *testing.T) {
	h := &Handler{logger: zap.NewNop().Sugar()}
	rec := httptest.NewRecorder()
	h.SetSimPrice(rec, httptest.NewRequest(http.MethodPost, "/v1/sim/price", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestClassify(t *testing.T) {
	status, code := classify(ledger.ErrNoOpenPosition)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NO_OPEN_POSITION", code)

	status, code = classify(ledger.ErrZeroAmount)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "ZERO_AMOUNT", code)

	status, _ = classify(assert.AnError)
	assert.Equal(t, http.StatusInternalServerError, status)
}

func TestRequestIDIsEchoed(t *testing.T) {
	f := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))

	rec = f.do(t, http.MethodGet, "/healthz", common.Address{}, nil)
	assert.Len(t, rec.Header().Get("X-Request-ID"), 36)
}
