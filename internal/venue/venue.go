// Package venue implements the outbound trading-venue adapter: leverage,
// exchange filter metadata, order submission, cancellation, and
// position/open-order queries, with errors classified into a small
// taxonomy (transient, authentication, reject) callers can branch on.
package venue

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide and OrderType mirror the wire values the venue accepts.
type OrderSide string
type OrderType string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"

	TypeMarket     OrderType = "MARKET"
	TypeStopMarket OrderType = "STOP_MARKET"
)

// ErrorKind classifies venue failures into a small taxonomy callers can
// branch on: transient, authentication, or reject.
type ErrorKind string

const (
	ErrorTransient     ErrorKind = "VenueTransient"
	ErrorAuthentication ErrorKind = "VenueAuthentication"
	ErrorReject        ErrorKind = "VenueReject"
)

// Error wraps a venue failure with its classification and the venue's own
// opaque error code, preserved rather than discarded.
type Error struct {
	Kind       ErrorKind
	Code       string
	Message    string
	StatusCode int
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (code=%s, status=%d)", e.Kind, e.Message, e.Code, e.StatusCode)
}

// InstrumentFilters are an instrument's venue precision constraints,
// fetched once at startup and cached.
type InstrumentFilters struct {
	Instrument  string
	LotStep     decimal.Decimal
	TickSize    decimal.Decimal
	MinNotional decimal.Decimal
	MinQuantity decimal.Decimal
}

// Position mirrors the venue's reported open position for reconciliation.
type Position struct {
	Instrument string
	Side       string
	Quantity   decimal.Decimal
	EntryPrice decimal.Decimal
}

// Order mirrors the venue's reported order for open-order queries.
type Order struct {
	OrderID    string
	Instrument string
	Side       OrderSide
	Type       OrderType
	Quantity   decimal.Decimal
	Price      decimal.Decimal
	Status     string
}

// OrderResult is the outcome of submitting an order.
type OrderResult struct {
	OrderID   string
	FillPrice decimal.Decimal
	Status    string
}

// Adapter is the reference REST trading-venue client, grounded on
// alpaca_trader.go's signed-request pattern generalized from API-key
// headers to HMAC-SHA256 query signing, as perpetual-futures venues
// commonly require.
type Adapter struct {
	apiKey    string
	apiSecret string
	baseURL   string
	client    *http.Client
}

// New creates an Adapter against the given venue base URL.
func New(baseURL, apiKey, apiSecret string) *Adapter {
	return &Adapter{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		baseURL:   baseURL,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (a *Adapter) sign(query url.Values) string {
	mac := hmac.New(sha256.New, []byte(a.apiSecret))
	mac.Write([]byte(query.Encode()))
	return hex.EncodeToString(mac.Sum(nil))
}

// doRequest issues a signed HTTP request against the venue and classifies
// any failure: a request timeout or 5xx is VenueTransient; 401/403 is
// VenueAuthentication; any other 4xx is VenueReject.
func (a *Adapter) doRequest(ctx context.Context, method, path string, query url.Values, body interface{}) ([]byte, error) {
	if query == nil {
		query = url.Values{}
	}
	query.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	query.Set("signature", a.sign(query))

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	fullURL := a.baseURL + path + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, method, fullURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-API-KEY", a.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, &Error{Kind: ErrorTransient, Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: ErrorTransient, Message: "read response: " + err.Error()}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &Error{Kind: ErrorAuthentication, Message: string(respBody), StatusCode: resp.StatusCode}
	case resp.StatusCode >= 500:
		return nil, &Error{Kind: ErrorTransient, Message: string(respBody), StatusCode: resp.StatusCode}
	case resp.StatusCode >= 400:
		return nil, &Error{Kind: ErrorReject, Message: string(respBody), StatusCode: resp.StatusCode}
	}

	return respBody, nil
}

// SetLeverage sets the leverage for an instrument.
func (a *Adapter) SetLeverage(ctx context.Context, instrument string, n int) error {
	q := url.Values{"symbol": {instrument}, "leverage": {strconv.Itoa(n)}}
	_, err := a.doRequest(ctx, http.MethodPost, "/v1/leverage", q, nil)
	return err
}

type exchangeInfoResponse struct {
	Symbols []struct {
		Symbol  string `json:"symbol"`
		Filters []struct {
			FilterType  string `json:"filterType"`
			StepSize    string `json:"stepSize"`
			TickSize    string `json:"tickSize"`
			MinNotional string `json:"minNotional"`
			MinQty      string `json:"minQty"`
		} `json:"filters"`
	} `json:"symbols"`
}

// ExchangeInfo fetches lot step, tick size, and min notional/quantity for
// every instrument.
func (a *Adapter) ExchangeInfo(ctx context.Context) ([]InstrumentFilters, error) {
	data, err := a.doRequest(ctx, http.MethodGet, "/v1/exchangeInfo", nil, nil)
	if err != nil {
		return nil, err
	}

	var raw exchangeInfoResponse
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse exchange info: %w", err)
	}

	out := make([]InstrumentFilters, 0, len(raw.Symbols))
	for _, sym := range raw.Symbols {
		f := InstrumentFilters{Instrument: sym.Symbol}
		for _, filt := range sym.Filters {
			switch filt.FilterType {
			case "LOT_SIZE":
				f.LotStep = mustDecimal(filt.StepSize)
				f.MinQuantity = mustDecimal(filt.MinQty)
			case "PRICE_FILTER":
				f.TickSize = mustDecimal(filt.TickSize)
			case "MIN_NOTIONAL":
				f.MinNotional = mustDecimal(filt.MinNotional)
			}
		}
		out = append(out, f)
	}
	return out, nil
}

// NewOrder submits an order. price and stopPrice may be zero for MARKET
// orders without a stop leg.
func (a *Adapter) NewOrder(ctx context.Context, instrument string, side OrderSide, typ OrderType, qty, price, stopPrice decimal.Decimal) (OrderResult, error) {
	q := url.Values{
		"symbol":   {instrument},
		"side":     {string(side)},
		"type":     {string(typ)},
		"quantity": {qty.String()},
	}
	if !price.IsZero() {
		q.Set("price", price.String())
	}
	if !stopPrice.IsZero() {
		q.Set("stopPrice", stopPrice.String())
	}

	data, err := a.doRequest(ctx, http.MethodPost, "/v1/order", q, nil)
	if err != nil {
		return OrderResult{}, err
	}

	var resp struct {
		OrderID   string `json:"orderId"`
		AvgPrice  string `json:"avgPrice"`
		Status    string `json:"status"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return OrderResult{}, fmt.Errorf("parse order response: %w", err)
	}

	return OrderResult{
		OrderID:   resp.OrderID,
		FillPrice: mustDecimal(resp.AvgPrice),
		Status:    resp.Status,
	}, nil
}

// CancelOrder cancels a resting order.
func (a *Adapter) CancelOrder(ctx context.Context, instrument, orderID string) error {
	q := url.Values{"symbol": {instrument}, "orderId": {orderID}}
	_, err := a.doRequest(ctx, http.MethodDelete, "/v1/order", q, nil)
	return err
}

// OpenOrders lists resting orders for an instrument.
func (a *Adapter) OpenOrders(ctx context.Context, instrument string) ([]Order, error) {
	q := url.Values{"symbol": {instrument}}
	data, err := a.doRequest(ctx, http.MethodGet, "/v1/openOrders", q, nil)
	if err != nil {
		return nil, err
	}

	var raw []struct {
		OrderID  string `json:"orderId"`
		Symbol   string `json:"symbol"`
		Side     string `json:"side"`
		Type     string `json:"type"`
		Quantity string `json:"origQty"`
		Price    string `json:"price"`
		Status   string `json:"status"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse open orders: %w", err)
	}

	out := make([]Order, len(raw))
	for i, o := range raw {
		out[i] = Order{
			OrderID:    o.OrderID,
			Instrument: o.Symbol,
			Side:       OrderSide(o.Side),
			Type:       OrderType(o.Type),
			Quantity:   mustDecimal(o.Quantity),
			Price:      mustDecimal(o.Price),
			Status:     o.Status,
		}
	}
	return out, nil
}

// Positions lists all currently open positions on the venue, used for
// startup and status-transition reconciliation.
func (a *Adapter) Positions(ctx context.Context) ([]Position, error) {
	data, err := a.doRequest(ctx, http.MethodGet, "/v1/positions", nil, nil)
	if err != nil {
		return nil, err
	}

	var raw []struct {
		Symbol         string `json:"symbol"`
		PositionSide   string `json:"positionSide"`
		PositionAmt    string `json:"positionAmt"`
		EntryPrice     string `json:"entryPrice"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse positions: %w", err)
	}

	out := make([]Position, 0, len(raw))
	for _, p := range raw {
		qty := mustDecimal(p.PositionAmt)
		if qty.IsZero() {
			continue
		}
		out = append(out, Position{
			Instrument: p.Symbol,
			Side:       p.PositionSide,
			Quantity:   qty,
			EntryPrice: mustDecimal(p.EntryPrice),
		})
	}
	return out, nil
}

func mustDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
