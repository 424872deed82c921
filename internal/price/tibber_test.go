package price

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/edgxcloud/chargegate/internal/config"
)

func priceServer(t *testing.T, level string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token123", r.Header.Get("Authorization"))
		fmt.Fprintf(w, `{"data":{"viewer":{"homes":[{"id":"home-1",
			"currentSubscription":{"priceInfo":{"current":
			{"total":0.12,"level":%q,"startsAt":"2024-06-15T12:00:00Z"}}}}]}}}`, level)
	}))
}

func newTestTibber(t *testing.T, srv *httptest.Server) *Tibber {
	t.Helper()
	tb := NewTibber(config.TibberConfig{
		Enabled:           true,
		AccessToken:       "token123",
		ChargeOnVeryCheap: true,
		ChargeOnCheap:     false,
	}, zap.NewNop())
	tb.url = srv.URL
	return tb
}

func TestShouldChargeUnknownWithoutFetch(t *testing.T) {
	tb := NewTibber(config.TibberConfig{Enabled: true, AccessToken: "x"}, zap.NewNop())
	ok, known := tb.ShouldCharge(time.Now())
	assert.False(t, ok)
	assert.False(t, known)
}

func TestRefreshVeryCheapEnablesCharging(t *testing.T) {
	srv := priceServer(t, "VERY_CHEAP")
	defer srv.Close()

	tb := newTestTibber(t, srv)
	require.NoError(t, tb.Refresh(context.Background()))

	ok, known := tb.ShouldCharge(time.Now())
	assert.True(t, known)
	assert.True(t, ok)
	assert.Equal(t, LevelVeryCheap, tb.CurrentLevel())
}

func TestRefreshCheapRespectsConfig(t *testing.T) {
	srv := priceServer(t, "CHEAP")
	defer srv.Close()

	tb := newTestTibber(t, srv) // charge_on_cheap = false
	require.NoError(t, tb.Refresh(context.Background()))

	ok, known := tb.ShouldCharge(time.Now())
	assert.True(t, known)
	assert.False(t, ok)
}

func TestRefreshExpensiveBlocksCharging(t *testing.T) {
	srv := priceServer(t, "EXPENSIVE")
	defer srv.Close()

	tb := newTestTibber(t, srv)
	require.NoError(t, tb.Refresh(context.Background()))

	ok, known := tb.ShouldCharge(time.Now())
	assert.True(t, known)
	assert.False(t, ok)
}

func TestCacheExpires(t *testing.T) {
	srv := priceServer(t, "VERY_CHEAP")
	defer srv.Close()

	tb := newTestTibber(t, srv)
	require.NoError(t, tb.Refresh(context.Background()))

	_, known := tb.ShouldCharge(time.Now().Add(cacheTTL + time.Minute))
	assert.False(t, known, "a stale cache must read as provider-absent")
}

func TestRefreshErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	tb := newTestTibber(t, srv)
	assert.Error(t, tb.Refresh(context.Background()))
}

func TestRefreshDisabledIsNoop(t *testing.T) {
	tb := NewTibber(config.TibberConfig{}, zap.NewNop())
	assert.NoError(t, tb.Refresh(context.Background()))
	assert.False(t, tb.Enabled())
}

func TestRefreshSelectsConfiguredHome(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":{"viewer":{"homes":[
			{"id":"home-1","currentSubscription":{"priceInfo":{"current":{"total":0.5,"level":"EXPENSIVE"}}}},
			{"id":"home-2","currentSubscription":{"priceInfo":{"current":{"total":0.05,"level":"VERY_CHEAP"}}}}
		]}}}`)
	}))
	defer srv.Close()

	tb := NewTibber(config.TibberConfig{
		Enabled:           true,
		AccessToken:       "token123",
		HomeID:            "home-2",
		ChargeOnVeryCheap: true,
	}, zap.NewNop())
	tb.url = srv.URL

	require.NoError(t, tb.Refresh(context.Background()))
	assert.Equal(t, LevelVeryCheap, tb.CurrentLevel())
}
