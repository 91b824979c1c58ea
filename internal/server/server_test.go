package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpredict/marketd/internal/domain"
	"github.com/openpredict/marketd/internal/server/handler"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeMarkets struct {
	created []domain.Market
}

func (f *fakeMarkets) Create(_ context.Context, m domain.Market) (domain.MarketView, error) {
	if m.Question == "" {
		return domain.MarketView{}, fmt.Errorf("%w: question is required", domain.ErrValidation)
	}
	m.ID = int64(len(f.created) + 1)
	m.Status = domain.MarketStatusOpen
	f.created = append(f.created, m)
	return domain.MarketView{Market: m, Prices: domain.Quote{YesPrice: 0.5, NoPrice: 0.5}}, nil
}

func (f *fakeMarkets) Get(_ context.Context, marketID int64) (domain.MarketView, error) {
	if marketID > int64(len(f.created)) {
		return domain.MarketView{}, fmt.Errorf("market %d: %w", marketID, domain.ErrNotFound)
	}
	m := f.created[marketID-1]
	return domain.MarketView{Market: m, Prices: domain.Quote{YesPrice: 0.5, NoPrice: 0.5}}, nil
}

func (f *fakeMarkets) List(_ context.Context, _ domain.MarketStatus) ([]domain.MarketView, error) {
	views := make([]domain.MarketView, 0, len(f.created))
	for _, m := range f.created {
		views = append(views, domain.MarketView{Market: m})
	}
	return views, nil
}

func (f *fakeMarkets) Price(_ context.Context, marketID int64) (domain.Quote, error) {
	if _, err := f.Get(context.Background(), marketID); err != nil {
		return domain.Quote{}, err
	}
	return domain.Quote{YesPrice: 0.5, NoPrice: 0.5}, nil
}

func (f *fakeMarkets) Resolve(_ context.Context, marketID int64, outcome domain.Side) (domain.ResolutionSummary, error) {
	return domain.ResolutionSummary{MarketID: marketID, Outcome: outcome}, nil
}

type fakeTrades struct {
	submitted []domain.TradeRequest
	pollErr   error
}

func (f *fakeTrades) Submit(_ context.Context, req domain.TradeRequest) (domain.TradeRequest, error) {
	req.ID = "req-1"
	req.QueuePos = 1
	f.submitted = append(f.submitted, req)
	return req, nil
}

func (f *fakeTrades) Poll(_ context.Context, requestID string) (domain.TradeResult, error) {
	if f.pollErr != nil {
		return domain.TradeResult{}, f.pollErr
	}
	return domain.TradeResult{RequestID: requestID, Status: domain.TradeStatusDone, Success: true}, nil
}

func (f *fakeTrades) Preview(_ context.Context, marketID int64, side domain.Side, amount float64) (domain.TradePreview, error) {
	return domain.TradePreview{MarketID: marketID, Side: side, Amount: amount, Shares: amount * 2}, nil
}

func (f *fakeTrades) UserBets(_ context.Context, _ string) ([]domain.BetView, error) {
	return nil, nil
}

type fakeUsers struct{}

func (fakeUsers) Balance(_ context.Context, wallet string) (domain.Balance, error) {
	return domain.Balance{Wallet: wallet, Balance: 1000, IsNewUser: true}, nil
}

func newTestServer(t *testing.T, cfg Config, trades *fakeTrades) (*httptest.Server, *fakeMarkets) {
	t.Helper()

	markets := &fakeMarkets{}
	handlers := Handlers{
		Health:  handler.NewHealthHandler(testLogger),
		Markets: handler.NewMarketHandler(markets, testLogger),
		Trades:  handler.NewTradeHandler(trades, testLogger),
		Users:   handler.NewUserHandler(fakeUsers{}, trades, testLogger),
		Admin:   handler.NewAdminHandler(nil, nil, testLogger),
	}

	srv := NewServer(cfg, handlers, nil, nil, testLogger)
	ts := httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(ts.Close)
	return ts, markets
}

func postJSON(t *testing.T, url string, body any, headers map[string]string) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(b))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, Config{}, &fakeTrades{})

	resp, err := http.Get(ts.URL + "/api/health")
	require.NoError(t, err)

	var body map[string]any
	decodeBody(t, resp, &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestCreateMarketRequiresAdminKey(t *testing.T) {
	ts, markets := newTestServer(t, Config{AdminKey: "secret"}, &fakeTrades{})
	body := map[string]any{"question": "Will it rain tomorrow?"}

	resp := postJSON(t, ts.URL+"/api/markets", body, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = postJSON(t, ts.URL+"/api/markets", body, map[string]string{"X-API-Key": "wrong"})
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = postJSON(t, ts.URL+"/api/markets", body, map[string]string{"Authorization": "Bearer secret"})
	var view domain.MarketView
	decodeBody(t, resp, &view)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "Will it rain tomorrow?", view.Question)
	require.Len(t, markets.created, 1)
}

func TestCreateMarketValidationStatus(t *testing.T) {
	ts, _ := newTestServer(t, Config{}, &fakeTrades{})

	resp := postJSON(t, ts.URL+"/api/markets", map[string]any{"question": ""}, nil)
	var body map[string]any
	decodeBody(t, resp, &body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation_error", body["error_kind"])
}

func TestPlaceBetAccepted(t *testing.T) {
	trades := &fakeTrades{}
	ts, _ := newTestServer(t, Config{}, trades)

	resp := postJSON(t, ts.URL+"/api/markets/7/bets", map[string]any{
		"wallet": "0x1111111111111111111111111111111111111111",
		"side":   "YES",
		"amount": 100,
	}, nil)

	var body map[string]any
	decodeBody(t, resp, &body)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "req-1", body["request_id"])
	assert.Equal(t, "queued", body["status"])
	assert.Equal(t, float64(1), body["queue_position"])

	require.Len(t, trades.submitted, 1)
	got := trades.submitted[0]
	assert.Equal(t, domain.TradeKindBuy, got.Kind)
	assert.Equal(t, int64(7), got.MarketID)
	assert.Equal(t, domain.SideYes, got.Side)
	assert.Equal(t, 100.0, got.Amount)
}

func TestUndoBetRoutesBetID(t *testing.T) {
	trades := &fakeTrades{}
	ts, _ := newTestServer(t, Config{}, trades)

	resp := postJSON(t, ts.URL+"/api/bets/bet-42/undo", map[string]any{
		"wallet": "0x1111111111111111111111111111111111111111",
	}, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Len(t, trades.submitted, 1)
	assert.Equal(t, domain.TradeKindUndo, trades.submitted[0].Kind)
	assert.Equal(t, "bet-42", trades.submitted[0].BetID)
}

func TestPollTradeErrorMapping(t *testing.T) {
	trades := &fakeTrades{pollErr: fmt.Errorf("poll: %w", domain.ErrStaleRequest)}
	ts, _ := newTestServer(t, Config{}, trades)

	resp, err := http.Get(ts.URL + "/api/trades/gone")
	require.NoError(t, err)

	var body map[string]any
	decodeBody(t, resp, &body)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "stale_request", body["error_kind"])
}

func TestInvalidMarketIDRejected(t *testing.T) {
	ts, _ := newTestServer(t, Config{}, &fakeTrades{})

	resp, err := http.Get(ts.URL + "/api/markets/abc")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUserEndpoints(t *testing.T) {
	ts, _ := newTestServer(t, Config{}, &fakeTrades{})

	resp, err := http.Get(ts.URL + "/api/users/0xabc/balance")
	require.NoError(t, err)

	var bal domain.Balance
	decodeBody(t, resp, &bal)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "0xabc", bal.Wallet)
	assert.True(t, bal.IsNewUser)

	resp, err = http.Get(ts.URL + "/api/users/0xabc/bets")
	require.NoError(t, err)

	var bets map[string]any
	decodeBody(t, resp, &bets)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(0), bets["total"])
}

func TestAdminEndpointsUnconfigured(t *testing.T) {
	ts, _ := newTestServer(t, Config{}, &fakeTrades{})

	resp, err := http.Get(ts.URL + "/api/admin/audit")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/api/admin/archives")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
