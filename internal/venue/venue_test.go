// Package venue_test provides tests for the REST trading adapter.
package venue_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/atlas-desktop/trading-backend/internal/venue"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *venue.Adapter) {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return ts, venue.New(ts.URL, "key", "secret")
}

func TestNewOrderParsesFillResponse(t *testing.T) {
	_, a := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/order", r.URL.Path)
		assert.NotEmpty(t, r.URL.Query().Get("signature"), "requests must be signed")
		assert.Equal(t, "key", r.Header.Get("X-API-KEY"))
		w.Write([]byte(`{"orderId":"123","avgPrice":"100.5","status":"FILLED"}`))
	})

	res, err := a.NewOrder(context.Background(), "BTCUSDT", venue.SideBuy, venue.TypeMarket, decimal.NewFromInt(1), decimal.Zero, decimal.Zero)
	require.NoError(t, err)
	assert.Equal(t, "123", res.OrderID)
	assert.True(t, res.FillPrice.Equal(decimal.NewFromFloat(100.5)))
}

func TestServerErrorsClassifyAsTransient(t *testing.T) {
	_, a := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal", http.StatusInternalServerError)
	})

	_, err := a.NewOrder(context.Background(), "BTCUSDT", venue.SideBuy, venue.TypeMarket, decimal.NewFromInt(1), decimal.Zero, decimal.Zero)
	var vErr *venue.Error
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, venue.ErrorTransient, vErr.Kind)
	assert.Equal(t, http.StatusInternalServerError, vErr.StatusCode)
}

func TestAuthFailuresClassifyAsAuthentication(t *testing.T) {
	for _, code := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		_, a := newServer(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "denied", code)
		})

		err := a.SetLeverage(context.Background(), "BTCUSDT", 5)
		var vErr *venue.Error
		require.True(t, errors.As(err, &vErr))
		assert.Equal(t, venue.ErrorAuthentication, vErr.Kind)
	}
}

func TestClientErrorsClassifyAsReject(t *testing.T) {
	_, a := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code":-4164,"msg":"Order's notional must be no smaller"}`, http.StatusBadRequest)
	})

	_, err := a.NewOrder(context.Background(), "BTCUSDT", venue.SideBuy, venue.TypeMarket, decimal.NewFromInt(1), decimal.Zero, decimal.Zero)
	var vErr *venue.Error
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, venue.ErrorReject, vErr.Kind)
	assert.Contains(t, vErr.Message, "notional")
}

func TestUnreachableVenueClassifiesAsTransient(t *testing.T) {
	a := venue.New("http://127.0.0.1:1", "key", "secret")

	_, err := a.Positions(context.Background())
	var vErr *venue.Error
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, venue.ErrorTransient, vErr.Kind)
}

func TestExchangeInfoParsesFilters(t *testing.T) {
	_, a := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"symbols":[{"symbol":"BTCUSDT","filters":[
			{"filterType":"LOT_SIZE","stepSize":"0.001","minQty":"0.001"},
			{"filterType":"PRICE_FILTER","tickSize":"0.10"},
			{"filterType":"MIN_NOTIONAL","minNotional":"5"}
		]}]}`))
	})

	filters, err := a.ExchangeInfo(context.Background())
	require.NoError(t, err)
	require.Len(t, filters, 1)
	f := filters[0]
	assert.Equal(t, "BTCUSDT", f.Instrument)
	assert.True(t, f.LotStep.Equal(decimal.NewFromFloat(0.001)))
	assert.True(t, f.TickSize.Equal(decimal.NewFromFloat(0.1)))
	assert.True(t, f.MinNotional.Equal(decimal.NewFromInt(5)))
	assert.True(t, f.MinQuantity.Equal(decimal.NewFromFloat(0.001)))
}

func TestPositionsSkipsZeroQuantityRows(t *testing.T) {
	_, a := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"symbol":"BTCUSDT","positionSide":"LONG","positionAmt":"0.5","entryPrice":"100"},
			{"symbol":"ETHUSDT","positionSide":"LONG","positionAmt":"0","entryPrice":"0"}
		]`))
	})

	positions, err := a.Positions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "BTCUSDT", positions[0].Instrument)
}
