package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lpsugar/internal/metrics"
	"lpsugar/internal/model"
	"lpsugar/internal/store"
	"lpsugar/internal/store/memory"
	"lpsugar/internal/sugar"
)

var (
	tokenA = common.HexToAddress("0x000000000000000000000000000000000000a0a0")
	tokenB = common.HexToAddress("0x000000000000000000000000000000000000b0b0")
	tokenC = common.HexToAddress("0x000000000000000000000000000000000000c0c0")
	lp0    = common.HexToAddress("0x0000000000000000000000000000000000001000")
	lp1    = common.HexToAddress("0x0000000000000000000000000000000000001001")
	gauge0 = common.HexToAddress("0x0000000000000000000000000000000000002000")
	voter  = common.HexToAddress("0x0000000000000000000000000000000000003000")
)

func fixture() memory.State {
	return memory.State{
		Pools: []model.Pool{
			{Lp: lp0, Symbol: "vAMM-A/B", Decimals: 18, Token0: tokenA, Token1: tokenB, Gauge: gauge0, GaugeAlive: true, PoolFee: 30},
			{Lp: lp1, Symbol: "sAMM-B/C", Decimals: 18, Type: model.PoolTypeStable, Token0: tokenB, Token1: tokenC, PoolFee: 5},
		},
		Tokens: map[common.Address]model.Token{
			tokenA: {Symbol: "A", Decimals: 18, Listed: true},
			tokenB: {Symbol: "B", Decimals: 6, Listed: true},
			tokenC: {Symbol: "C", Decimals: 8},
		},
		Epochs: map[common.Address][]model.Epoch{
			lp0: {
				{Ts: 1_000_000, Lp: lp0, Votes: model.AmountFromUint64(5)},
				{Ts: 1_604_800, Lp: lp0, Votes: model.AmountFromUint64(7), Bribes: []model.Reward{{Token: tokenA, Amount: model.AmountFromUint64(3)}}},
			},
		},
	}
}

func newTestServer(t *testing.T, src store.Source, cfg Config) (*Server, *metrics.Metrics) {
	t.Helper()
	m := metrics.New()
	s := sugar.New(sugar.Config{Voter: voter, MaxLimit: 50, RetryBackoff: time.Millisecond}, src, nil, sugar.WithObserver(m))
	return NewServer(cfg, s, m, nil), m
}

func get(t *testing.T, srv *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestPoolsEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, memory.NewStore(fixture()), Config{})

	rec := get(t, srv, "/v1/pools?limit=10")
	require.Equal(t, http.StatusOK, rec.Code)
	pools := decode[[]model.Pool](t, rec)
	require.Len(t, pools, 2)
	assert.Equal(t, lp0, pools[0].Lp)

	rec = get(t, srv, "/v1/pools/1")
	require.Equal(t, http.StatusOK, rec.Code)
	pool := decode[model.Pool](t, rec)
	assert.Equal(t, lp1, pool.Lp)
	assert.Equal(t, model.PoolTypeStable, pool.Type)

	rec = get(t, srv, "/v1/pools?filter="+tokenC.Hex())
	require.Equal(t, http.StatusOK, rec.Code)
	pools = decode[[]model.Pool](t, rec)
	require.Len(t, pools, 1)
	assert.Equal(t, lp1, pools[0].Lp)

	// The zero address means no filter.
	rec = get(t, srv, "/v1/pools?filter=0x0000000000000000000000000000000000000000")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.Pool](t, rec), 2)

	rec = get(t, srv, "/v1/pools?offset=5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
}

func TestSwapsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, memory.NewStore(fixture()), Config{})

	rec := get(t, srv, "/v1/swaps?limit=1&offset=1")
	require.Equal(t, http.StatusOK, rec.Code)
	swaps := decode[[]model.SwapPool](t, rec)
	require.Len(t, swaps, 1)
	assert.Equal(t, lp1, swaps[0].Lp)
	assert.Equal(t, uint64(5), swaps[0].PoolFee)
}

func TestTokensEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, memory.NewStore(fixture()), Config{})

	rec := get(t, srv, "/v1/tokens?limit=10&ignore="+tokenB.Hex())
	require.Equal(t, http.StatusOK, rec.Code)
	tokens := decode[[]model.Token](t, rec)
	require.Len(t, tokens, 2)
	assert.Equal(t, tokenA, tokens[0].TokenAddress)
	assert.Equal(t, tokenC, tokens[1].TokenAddress)

	rec = get(t, srv, "/v1/tokens?ignore=nope")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEpochEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, memory.NewStore(fixture()), Config{})

	rec := get(t, srv, "/v1/pools/by-address/"+lp0.Hex()+"/epochs?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	epochs := decode[[]model.Epoch](t, rec)
	require.Len(t, epochs, 2)
	assert.Equal(t, uint64(1_604_800), epochs[0].Ts)
	require.Len(t, epochs[0].Bribes, 1)
	assert.NotNil(t, epochs[1].Bribes)

	rec = get(t, srv, "/v1/epochs/latest")
	require.Equal(t, http.StatusOK, rec.Code)
	latest := decode[[]model.Epoch](t, rec)
	require.Len(t, latest, 1)
	assert.Equal(t, lp0, latest[0].Lp)
	assert.Equal(t, epochs[0].Ts, latest[0].Ts)

	rec = get(t, srv, "/v1/pools/by-address/"+tokenA.Hex()+"/epochs")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeploymentAndHealth(t *testing.T) {
	srv, _ := newTestServer(t, memory.NewStore(fixture()), Config{})

	rec := get(t, srv, "/v1/deployment")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[deploymentBody](t, rec)
	assert.Equal(t, voter.Hex(), body.Voter)

	rec = get(t, srv, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestErrorStatusMapping(t *testing.T) {
	srv, _ := newTestServer(t, memory.NewStore(fixture()), Config{})

	cases := map[string]int{
		"/v1/pools/abc":                       http.StatusBadRequest,
		"/v1/pools/-1":                        http.StatusBadRequest,
		"/v1/pools?limit=-1":                  http.StatusBadRequest,
		"/v1/pools?offset=x":                  http.StatusBadRequest,
		"/v1/pools/7":                         http.StatusNotFound,
		"/v1/pools?filter=0x12":               http.StatusBadRequest,
		"/v1/pools/by-address/garbage/epochs": http.StatusBadRequest,
	}
	for target, want := range cases {
		rec := get(t, srv, target)
		assert.Equal(t, want, rec.Code, target)
		assert.Contains(t, rec.Body.String(), `"error"`, target)
	}
}

type downSource struct{}

func (downSource) Snapshot(ctx context.Context) (store.Snapshot, error) {
	return nil, store.Unavailable("dial", errors.New("connection refused"))
}

func TestUpstreamUnavailableIs503(t *testing.T) {
	srv, _ := newTestServer(t, downSource{}, Config{})

	rec := get(t, srv, "/v1/pools")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(context.Canceled))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
}

func TestRequestIDPropagation(t *testing.T) {
	srv, _ := newTestServer(t, memory.NewStore(fixture()), Config{})

	rec := get(t, srv, "/healthz")
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(requestIDHeader))
}

func TestRateLimit(t *testing.T) {
	srv, _ := newTestServer(t, memory.NewStore(fixture()), Config{RateLimit: 0.001, RateBurst: 2})

	assert.Equal(t, http.StatusOK, get(t, srv, "/healthz").Code)
	assert.Equal(t, http.StatusOK, get(t, srv, "/healthz").Code)
	assert.Equal(t, http.StatusTooManyRequests, get(t, srv, "/healthz").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, memory.NewStore(fixture()), Config{})

	require.Equal(t, http.StatusOK, get(t, srv, "/v1/pools").Code)

	rec := get(t, srv, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `lpsugar_queries_total{op="all",status="ok"} 1`)
	assert.Contains(t, rec.Body.String(), `route="/v1/pools"`)
}

func waitStart(t *testing.T, errCh <-chan error) {
	t.Helper()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start still serving after Stop")
	}
}

func TestStopBeforeStart(t *testing.T) {
	srv, _ := newTestServer(t, memory.NewStore(fixture()), Config{Listen: "127.0.0.1:0"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()
	waitStart(t, errCh)
}

func TestStopWhileServing(t *testing.T) {
	srv, _ := newTestServer(t, memory.NewStore(fixture()), Config{Listen: "127.0.0.1:0"})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))
	waitStart(t, errCh)
}
