package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	models "MarketPulse/internal/domain/models"
	domrepo "MarketPulse/internal/domain/repository"
	"MarketPulse/pkg/bus"
	xlogger "MarketPulse/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	states map[string]models.AggregatedState
	latest map[string]*models.Signal
	trans  []models.SignalTransition
	stats  []models.SymbolStats
	err    error
}

func (f *fakeReader) State(symbol string) (models.AggregatedState, bool) {
	st, ok := f.states[symbol]
	return st, ok
}

func (f *fakeReader) Symbols() []string {
	out := make([]string, 0, len(f.states))
	for k := range f.states {
		out = append(out, k)
	}
	return out
}

func (f *fakeReader) Latest(_ context.Context, symbol string) (*models.Signal, error) {
	if f.err != nil {
		return nil, f.err
	}
	s, ok := f.latest[symbol]
	if !ok {
		return nil, domrepo.ErrNotFound
	}
	return s, nil
}

func (f *fakeReader) Transitions(_ string, limit int) []models.SignalTransition {
	if limit < len(f.trans) {
		return f.trans[:limit]
	}
	return f.trans
}

func (f *fakeReader) Stats() []models.SymbolStats { return f.stats }

type fakeBusPublisher struct {
	status     bus.PublisherStatus
	err        error
	reconnects int
}

func (f *fakeBusPublisher) Status() bus.PublisherStatus { return f.status }
func (f *fakeBusPublisher) Reconnect() error            { f.reconnects++; return f.err }

type fakeBusClient struct {
	pingErr error
}

func (f *fakeBusClient) Ping(context.Context) error { return f.pingErr }
func (f *fakeBusClient) BreakerState() string       { return "closed" }
func (f *fakeBusClient) TransportName() string      { return "memory" }

type fakeStore struct {
	rows      []*models.Signal
	gotSymbol string
	gotSince  time.Time
	gotLimit  int
}

func (f *fakeStore) Init(context.Context) error                  { return nil }
func (f *fakeStore) Store(context.Context, *models.Signal) error { return nil }
func (f *fakeStore) Health(context.Context) error                { return nil }
func (f *fakeStore) Close() error                                { return nil }

func (f *fakeStore) Recent(_ context.Context, symbol string, since time.Time, limit int) ([]*models.Signal, error) {
	f.gotSymbol, f.gotSince, f.gotLimit = symbol, since, limit
	return f.rows, nil
}

type pending int

func (p pending) Pending() int { return int(p) }

type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newTestEcho(h *StatusEchoHandler) *echo.Echo {
	e := echo.New()
	h.RegisterRoutes(e)
	return e
}

func do(t *testing.T, e *echo.Echo, method, target string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

func connectedPublisher() *fakeBusPublisher {
	return &fakeBusPublisher{status: bus.PublisherStatus{State: bus.StateConnected.String(), Capacity: 1000}}
}

func TestStatusHandler_Health(t *testing.T) {
	reader := &fakeReader{states: map[string]models.AggregatedState{"AAPL": {Symbol: "AAPL"}}}
	pub := connectedPublisher()
	client := &fakeBusClient{}
	e := newTestEcho(NewStatusEchoHandler(xlogger.NewNop(), reader, nil, pub, client, pending(3)))

	rec, env := do(t, e, http.MethodGet, "/api/health")
	require.Equal(t, http.StatusOK, rec.Code)
	var h HealthResponse
	require.NoError(t, json.Unmarshal(env.Data, &h))
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, "memory", h.Transport)
	assert.Equal(t, 1, h.Symbols)
	assert.Equal(t, 3, h.SinkPending)

	client.pingErr = errors.New("dial tcp: refused")
	pub.status.State = bus.StateReconnecting.String()
	_, env = do(t, e, http.MethodGet, "/api/health")
	require.NoError(t, json.Unmarshal(env.Data, &h))
	assert.Equal(t, "reconnecting", h.Status)
	assert.Equal(t, "dial tcp: refused", h.BusError)
	assert.False(t, h.BusConnected)

	pub.status.State = bus.StateDegraded.String()
	rec, env = do(t, e, http.MethodGet, "/api/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &h))
	assert.Equal(t, "degraded", h.Status)
}

func TestStatusHandler_StateAndLatest(t *testing.T) {
	sig := &models.Signal{ID: "s1", Symbol: "AAPL", Type: models.SignalBuy}
	reader := &fakeReader{
		states: map[string]models.AggregatedState{"AAPL": {Symbol: "AAPL", Status: models.StatusReady}},
		latest: map[string]*models.Signal{"AAPL": sig},
	}
	e := newTestEcho(NewStatusEchoHandler(xlogger.NewNop(), reader, nil, connectedPublisher(), &fakeBusClient{}, nil))

	rec, env := do(t, e, http.MethodGet, "/api/state/AAPL")
	require.Equal(t, http.StatusOK, rec.Code)
	var st models.AggregatedState
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.Equal(t, models.StatusReady, st.Status)

	rec, _ = do(t, e, http.MethodGet, "/api/state/TSLA")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, env = do(t, e, http.MethodGet, "/api/signals/AAPL/latest")
	require.Equal(t, http.StatusOK, rec.Code)
	var got models.Signal
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, "s1", got.ID)
	assert.Equal(t, models.SignalBuy, got.Type)

	rec, _ = do(t, e, http.MethodGet, "/api/signals/TSLA/latest")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	reader.err = errors.New("redis down")
	rec, _ = do(t, e, http.MethodGet, "/api/signals/AAPL/latest")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestStatusHandler_History(t *testing.T) {
	store := &fakeStore{rows: []*models.Signal{{ID: "a"}, {ID: "b"}}}
	e := newTestEcho(NewStatusEchoHandler(xlogger.NewNop(), &fakeReader{}, store, connectedPublisher(), &fakeBusClient{}, nil))

	rec, env := do(t, e, http.MethodGet, "/api/signals/aapl?limit=5&since=2024-06-03T14:00:00Z")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Rows  []models.Signal `json:"rows"`
		Total int64           `json:"total"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Equal(t, int64(2), list.Total)
	assert.Equal(t, "AAPL", store.gotSymbol)
	assert.Equal(t, 5, store.gotLimit)
	assert.Equal(t, time.Date(2024, 6, 3, 14, 0, 0, 0, time.UTC), store.gotSince.UTC())

	_, _ = do(t, e, http.MethodGet, "/api/signals/AAPL")
	assert.Equal(t, 50, store.gotLimit, "default limit")

	rec, _ = do(t, e, http.MethodGet, "/api/signals/AAPL?limit=5000")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, e, http.MethodGet, "/api/signals/AAPL?since=yesterday")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusHandler_HistoryWithoutStorage(t *testing.T) {
	e := newTestEcho(NewStatusEchoHandler(xlogger.NewNop(), &fakeReader{}, nil, connectedPublisher(), &fakeBusClient{}, nil))
	rec, _ := do(t, e, http.MethodGet, "/api/signals/AAPL")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStatusHandler_TransitionsAndStats(t *testing.T) {
	reader := &fakeReader{
		trans: []models.SignalTransition{
			{Symbol: "AAPL", From: models.SignalHold, To: models.SignalBuy},
			{Symbol: "AAPL", From: models.SignalSell, To: models.SignalHold},
		},
		stats: []models.SymbolStats{{Symbol: "AAPL", Buy: 2, Hold: 1}},
	}
	e := newTestEcho(NewStatusEchoHandler(xlogger.NewNop(), reader, nil, connectedPublisher(), &fakeBusClient{}, nil))

	_, env := do(t, e, http.MethodGet, "/api/transitions/AAPL?limit=1")
	var trs struct {
		Rows  []models.SignalTransition `json:"rows"`
		Total int64                     `json:"total"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &trs))
	require.Len(t, trs.Rows, 1)
	assert.Equal(t, models.SignalBuy, trs.Rows[0].To)

	_, env = do(t, e, http.MethodGet, "/api/stats")
	var stats struct {
		Rows []models.SymbolStats `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	require.Len(t, stats.Rows, 1)
	assert.Equal(t, int64(2), stats.Rows[0].Buy)
}

func TestStatusHandler_Reconnect(t *testing.T) {
	pub := connectedPublisher()
	e := newTestEcho(NewStatusEchoHandler(xlogger.NewNop(), &fakeReader{}, nil, pub, &fakeBusClient{}, nil))

	rec, _ := do(t, e, http.MethodPost, "/api/bus/reconnect")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, pub.reconnects)

	pub.err = bus.ErrClosed
	rec, _ = do(t, e, http.MethodPost, "/api/bus/reconnect")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
