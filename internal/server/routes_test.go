package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hellomira/aviationstack-gateway/internal/breaker"
	"github.com/hellomira/aviationstack-gateway/internal/cache"
	"github.com/hellomira/aviationstack-gateway/internal/coalesce"
	"github.com/hellomira/aviationstack-gateway/internal/metrics"
	"github.com/hellomira/aviationstack-gateway/internal/quota"
	"github.com/hellomira/aviationstack-gateway/internal/store"
	"github.com/hellomira/aviationstack-gateway/internal/upstream"
)

func TestValidateAirportParams_ClampsLimitAndUppercasesIATA(t *testing.T) {
	out, err := validateAirportParams(url.Values{"iata_code": {"cdg"}, "limit": {"500"}})
	require.NoError(t, err)
	assert.Equal(t, "CDG", out.Get("iata_code"))
	assert.Equal(t, "100", out.Get("limit"))
}

func TestValidateAirportParams_DefaultLimit(t *testing.T) {
	out, err := validateAirportParams(url.Values{})
	require.NoError(t, err)
	assert.Equal(t, "100", out.Get("limit"))
}

func TestValidateFlightParams_RejectsBadDate(t *testing.T) {
	_, err := validateFlightParams(url.Values{"flight_date": {"08/06/2026"}})
	require.Error(t, err)
}

func TestValidateFlightParams_AcceptsValidDate(t *testing.T) {
	out, err := validateFlightParams(url.Values{"flight_date": {"2026-08-06"}, "flight_iata": {"af447"}})
	require.NoError(t, err)
	assert.Equal(t, "2026-08-06", out.Get("flight_date"))
	assert.Equal(t, "AF447", out.Get("flight_iata"))
}

func TestClampLimit_BelowOneAndAboveMax(t *testing.T) {
	n, err := clampLimit("0")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = clampLimit("9999")
	require.NoError(t, err)
	assert.Equal(t, 100, n)
}

// newTestGateway wires a Gateway against an in-memory store and a fake
// upstream server, mirroring the composition cmd/gateway builds in main.go.
func newTestGateway(t *testing.T, upstreamHandler http.Handler) *Gateway {
	t.Helper()
	ts := httptest.NewServer(upstreamHandler)
	t.Cleanup(ts.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	m := metrics.New()
	b := breaker.New(breaker.DefaultConfig())
	co := coalesce.New()

	memStore := newMemGatewayStore()
	c := cache.New(memStore, m, time.Minute)
	l := quota.New(memStore, 100)
	caller := upstream.New(upstream.Config{BaseURL: ts.URL, APIKeyParam: "access_key", APIKey: "k"},
		&http.Client{Timeout: 5 * time.Second}, c, b, co, l, m)

	return &Gateway{
		Caller:  caller,
		Ledger:  l,
		Breaker: b,
		Metrics: m,
		Store:   nil, // a nil Store makes recordFlightHistory a no-op
		Logger:  logger,
	}
}

func TestGateway_HealthAndUsageEndpoints(t *testing.T) {
	gw := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))

	r := chi.NewRouter()
	r.Get("/health", gw.handleHealth)
	r.Get("/usage", gw.handleUsage)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var health map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "ok", health["status"])

	req = httptest.NewRequest(http.MethodGet, "/usage", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var usage map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &usage))
	assert.EqualValues(t, 100, usage["limit"])
}

// memGatewayStore satisfies both cache.EntryStore and quota.LedgerStore
// for router-level tests.
type memGatewayStore struct {
	cacheDocs map[string]*store.CacheDoc
	quotaDoc  *store.QuotaDoc
}

func newMemGatewayStore() *memGatewayStore {
	return &memGatewayStore{cacheDocs: make(map[string]*store.CacheDoc)}
}

func (m *memGatewayStore) CacheGet(ctx context.Context, key string) (*store.CacheDoc, error) {
	doc, ok := m.cacheDocs[key]
	if !ok {
		return nil, nil
	}
	cp := *doc
	return &cp, nil
}

func (m *memGatewayStore) CachePut(ctx context.Context, key string, payload []byte, createdAt, expiresAt time.Time) error {
	m.cacheDocs[key] = &store.CacheDoc{ID: key, Data: payload, CreatedAt: createdAt, ExpiresAt: expiresAt}
	return nil
}

func (m *memGatewayStore) QuotaLoad(ctx context.Context) (*store.QuotaDoc, error) {
	if m.quotaDoc == nil {
		return nil, nil
	}
	cp := *m.quotaDoc
	return &cp, nil
}

func (m *memGatewayStore) QuotaCompareAndSwap(ctx context.Context, prev *store.QuotaDoc, next store.QuotaDoc) (bool, error) {
	if prev == nil {
		if m.quotaDoc != nil {
			return false, nil
		}
		cp := next
		m.quotaDoc = &cp
		return true, nil
	}
	if m.quotaDoc == nil || m.quotaDoc.Month != prev.Month || m.quotaDoc.Count != prev.Count {
		return false, nil
	}
	cp := next
	m.quotaDoc = &cp
	return true, nil
}
