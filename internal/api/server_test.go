package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/knock/internal/engine"
	"github.com/roach88/knock/internal/events"
	"github.com/roach88/knock/internal/identity"
	"github.com/roach88/knock/internal/market"
	"github.com/roach88/knock/internal/payout"
	"github.com/roach88/knock/internal/store"
	"github.com/roach88/knock/internal/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testDay market.Day = 20000

// syncPublisher delivers events to a sink inline so tests can observe them.
type syncPublisher struct{ sink events.Sink }

func (p syncPublisher) Publish(evs []market.Event) {
	for _, e := range evs {
		_ = p.sink.Deliver(context.Background(), e)
	}
}

type testServer struct {
	t        *testing.T
	router   *gin.Engine
	clock    *testutil.ManualClock
	registry *identity.BadgerRegistry
	payer    *payout.Unpayable
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.DiscardHandler)

	s, err := store.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	reg, err := identity.Open(identity.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { reg.Close() })

	promReg := prometheus.NewRegistry()
	metrics, err := events.NewMetricsSink(promReg)
	require.NoError(t, err)

	clock := testutil.NewManualClockAtDay(testDay)
	payer := payout.NewUnpayable(payout.NewLedgerPayer(logger))
	eng, err := engine.New(ctx, s, reg, engine.Config{FeeRecipient: "protocol"},
		engine.WithTimeSource(clock),
		engine.WithPayer(payer),
		engine.WithPublisher(syncPublisher{sink: metrics}),
		engine.WithLogger(logger),
	)
	require.NoError(t, err)

	return &testServer{
		t:        t,
		router:   NewServer(eng, reg, promReg, logger).Router(),
		clock:    clock,
		registry: reg,
		payer:    payer,
	}
}

// do performs a request and returns the recorder.
func (ts *testServer) do(method, path, caller string, body any) *httptest.ResponseRecorder {
	ts.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(ts.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if caller != "" {
		req.Header.Set(CallerHeader, caller)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func (ts *testServer) register(participants ...string) {
	for _, p := range participants {
		w := ts.do(http.MethodPost, "/v1/profiles", "", gin.H{"participant": p})
		require.Equal(ts.t, http.StatusCreated, w.Code, w.Body.String())
	}
}

func (ts *testServer) submit(sender, receiver, bid string) market.Knock {
	w := ts.do(http.MethodPost, "/v1/knocks", sender, gin.H{"receiver": receiver, "bid": bid})
	require.Equal(ts.t, http.StatusCreated, w.Code, w.Body.String())
	return decode[market.Knock](ts.t, w)
}

func knockPath(id int64, action string) string {
	p := "/v1/knocks/" + strconv.FormatInt(id, 10)
	if action != "" {
		p += "/" + action
	}
	return p
}

func TestLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	ts.register("alice")

	k := ts.submit("alice", "rita", "0.02")
	assert.Equal(t, market.StatusPending, k.Status)

	w := ts.do(http.MethodGet, "/v1/senders/alice/pending", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"pending"`)

	ts.clock.AdvanceDays(1)
	w = ts.do(http.MethodPost, "/v1/receivers/rita/settle", "anyone", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[engine.SettleResult](t, w)
	assert.Equal(t, []int64{k.ID}, res.Winners)

	w = ts.do(http.MethodGet, "/v1/receivers/rita/queue", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"settled"`)

	w = ts.do(http.MethodPost, knockPath(k.ID, "accept"), "rita", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	d := decode[engine.Disposition](t, w)
	assert.Equal(t, market.StatusAccepted, d.Knock.Status)
	assert.Len(t, d.Payments, 3)

	w = ts.do(http.MethodGet, "/v1/balances/alice", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ether":"0.008"`)

	w = ts.do(http.MethodGet, knockPath(k.ID, "transfers"), "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"kind":"protocol_share"`)

	w = ts.do(http.MethodGet, "/v1/receivers/rita/stats", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[market.Stats](t, w)
	assert.Equal(t, int64(1), stats.Accepted)

	w = ts.do(http.MethodGet, "/v1/events?after=0&limit=2", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page struct {
		Events []market.Event `json:"events"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.Len(t, page.Events, 2)
	assert.Equal(t, market.EventSubmitted, page.Events[0].Kind)

	w = ts.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `knock_events_total{kind="knock_accepted"} 1`)
}

func TestErrorStatusMapping(t *testing.T) {
	ts := newTestServer(t)
	ts.register("alice", "bob")

	k := ts.submit("alice", "rita", "0.02")

	tests := []struct {
		name   string
		method string
		path   string
		caller string
		body   any
		status int
		code   string
	}{
		{"no profile", http.MethodPost, "/v1/knocks", "ghost", gin.H{"receiver": "rita", "bid": "0.02"}, http.StatusBadRequest, "NO_PROFILE"},
		{"self target", http.MethodPost, "/v1/knocks", "bob", gin.H{"receiver": "bob", "bid": "0.02"}, http.StatusBadRequest, "SELF_TARGET"},
		{"bid too low", http.MethodPost, "/v1/knocks", "bob", gin.H{"receiver": "rita", "bid": "0.009"}, http.StatusBadRequest, "BID_TOO_LOW"},
		{"unparseable bid", http.MethodPost, "/v1/knocks", "bob", gin.H{"receiver": "rita", "bid": "lots"}, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"missing receiver", http.MethodPost, "/v1/knocks", "bob", gin.H{"bid": "0.02"}, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"unknown knock", http.MethodGet, knockPath(404, ""), "", nil, http.StatusNotFound, "NOT_FOUND"},
		{"bad knock id", http.MethodGet, "/v1/knocks/abc", "", nil, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"accept pending", http.MethodPost, knockPath(k.ID, "accept"), "rita", nil, http.StatusConflict, "WRONG_STATUS"},
		{"day not closed", http.MethodPost, "/v1/receivers/rita/settle?day=20000", "", nil, http.StatusConflict, "DAY_NOT_CLOSED"},
		{"invalid slots", http.MethodPut, "/v1/settings", "rita", gin.H{"daily_slots": 0}, http.StatusBadRequest, "INVALID_SLOTS"},
		{"unknown profile", http.MethodGet, "/v1/profiles/ghost", "", nil, http.StatusNotFound, "UNKNOWN_PARTICIPANT"},
		{"duplicate profile", http.MethodPost, "/v1/profiles", "", gin.H{"participant": "alice"}, http.StatusConflict, "ALREADY_REGISTERED"},
		{"no refund owed", http.MethodPost, "/v1/refunds/1/retry", "", nil, http.StatusNotFound, "NOT_FOUND"},
		{"escrow receiver", http.MethodPost, "/v1/knocks", "bob", gin.H{"receiver": "@escrow", "bid": "0.02"}, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"escrow caller", http.MethodPost, knockPath(k.ID, "accept"), "@escrow", nil, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"reserved profile", http.MethodPost, "/v1/profiles", "", gin.H{"participant": "@escrow"}, http.StatusBadRequest, "INVALID_ARGUMENT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(tt.method, tt.path, tt.caller, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, tt.code, decode[errorResponse](t, w).Error.Code)
		})
	}
}

func TestDispositionErrors(t *testing.T) {
	ts := newTestServer(t)
	ts.register("alice")
	k := ts.submit("alice", "rita", "0.02")
	ts.clock.AdvanceDays(1)
	require.Equal(t, http.StatusOK, ts.do(http.MethodPost, "/v1/receivers/rita/settle", "", nil).Code)

	w := ts.do(http.MethodPost, knockPath(k.ID, "reject"), "alice", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "NOT_AUTHORIZED", decode[errorResponse](t, w).Error.Code)

	w = ts.do(http.MethodPost, knockPath(k.ID, "expire"), "alice", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "NOT_EXPIRED", decode[errorResponse](t, w).Error.Code)

	ts.payer.Block("rita")
	w = ts.do(http.MethodPost, knockPath(k.ID, "reject"), "rita", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "TRANSFER_FAILED", decode[errorResponse](t, w).Error.Code)

	w = ts.do(http.MethodPost, "/v1/receivers/rita/settle", "", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "ALREADY_SETTLED", decode[errorResponse](t, w).Error.Code)
}

func TestSettingsAndDay(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodPut, "/v1/settings", "rita", gin.H{"daily_slots": 3})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = ts.do(http.MethodGet, "/v1/receivers/rita/settings", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	st := decode[market.Settings](t, w)
	assert.Equal(t, 3, st.DailySlots)
	assert.True(t, st.IsConfigured)

	w = ts.do(http.MethodGet, "/v1/day", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"day":20000`)
}

func TestProfileBanBlocksSubmission(t *testing.T) {
	ts := newTestServer(t)
	ts.register("mallory")

	w := ts.do(http.MethodPost, "/v1/profiles/mallory/ban", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[identity.Profile](t, w).Banned)

	w = ts.do(http.MethodPost, "/v1/knocks", "mallory", gin.H{"receiver": "rita", "bid": "0.02"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(http.MethodPost, "/v1/profiles/mallory/unban", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	ts.submit("mallory", "rita", "0.02")
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
