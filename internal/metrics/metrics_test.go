package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lpsugar/internal/store"
	"lpsugar/internal/store/memory"
	"lpsugar/internal/sugar"
)

func TestStatus(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{fmt.Errorf("wrap: %w", sugar.ErrInvalidArgument), "invalid_argument"},
		{fmt.Errorf("wrap: %w", sugar.ErrNotFound), "not_found"},
		{store.ErrUnknownPool, "not_found"},
		{fmt.Errorf("wrap: %w", sugar.ErrUpstreamUnavailable), "unavailable"},
		{context.DeadlineExceeded, "canceled"},
		{errors.New("boom"), "error"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Status(tc.err), "err=%v", tc.err)
	}
}

func TestObserveQuery(t *testing.T) {
	m := New()
	m.ObserveQuery("all", 3*time.Millisecond, nil)
	m.ObserveQuery("all", time.Millisecond, nil)
	m.ObserveQuery("by_index", time.Millisecond, sugar.ErrNotFound)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.queries.WithLabelValues("all", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.queries.WithLabelValues("by_index", "not_found")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.queryDuration))
}

func TestInstrumentSource(t *testing.T) {
	m := New()
	src := m.InstrumentSource(memory.NewStore(memory.State{}))

	snap, err := src.Snapshot(context.Background())
	require.NoError(t, err)
	require.NoError(t, snap.Close())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.Snapshot(ctx)
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.snapshots.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.snapshots.WithLabelValues("canceled")))
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New()
	m.ObserveHTTP(http.MethodGet, "/v1/pools", http.StatusOK, time.Millisecond)
	m.ObserveHTTP(http.MethodGet, "", http.StatusNotFound, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `lpsugar_http_requests_total{code="200",method="GET",route="/v1/pools"} 1`)
	assert.Contains(t, body, `route="unmatched"`)
	assert.Contains(t, body, "go_goroutines")
}
