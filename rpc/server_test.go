package rpc

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"otcledger/native/credit"
	"otcledger/native/escrow"
	"otcledger/native/otc"
	"otcledger/state"
	"otcledger/storage"
)

type stubRegistry struct{}

func (stubRegistry) IsActive(string) bool { return true }

func (stubRegistry) ListedCapacity(string) *big.Int {
	return big.NewInt(1_000_000_000_000)
}

type stubPricing struct{}

func (stubPricing) CurrentPrice() uint64 { return 1_000_000 }

type testServer struct {
	server *Server
	maker  [20]byte
	taker  [20]byte
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	manager := state.NewManager(storage.NewMemDB())

	ledger := escrow.NewLedger()
	ledger.SetState(manager)

	creditEngine := credit.NewEngine()
	creditEngine.SetState(manager)

	orders := otc.NewEngine()
	orders.SetState(manager)
	orders.SetEscrow(ledger)
	orders.SetCredit(creditEngine)
	orders.SetMakerRegistry(stubRegistry{})
	orders.SetPricing(stubPricing{})

	ts := &testServer{
		server: NewServer(orders, creditEngine, nil),
		maker:  [20]byte{0x0A},
		taker:  [20]byte{0x0B},
	}
	require.NoError(t, manager.Credit(ts.maker, big.NewInt(1_000_000_000)))
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload *bytes.Buffer
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		payload = bytes.NewBuffer(raw)
	} else {
		payload = bytes.NewBuffer(nil)
	}
	req := httptest.NewRequest(method, path, payload)
	rec := httptest.NewRecorder()
	ts.server.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) openOrder(t *testing.T) uint64 {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/v1/orders", map[string]string{
		"makerId": "mm-1",
		"maker":   hex.EncodeToString(ts.maker[:]),
		"taker":   hex.EncodeToString(ts.taker[:]),
		"qty":     "5000000",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var view struct {
		ID uint64 `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	return view.ID
}

func TestOpenAndFetchOrder(t *testing.T) {
	ts := newTestServer(t)
	id := ts.openOrder(t)

	rec := ts.do(t, http.MethodGet, fmt.Sprintf("/v1/orders/%d", id), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var view struct {
		State     string `json:"state"`
		AmountUSD uint64 `json:"amountUsd"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Equal(t, "created", view.State)
	require.Equal(t, uint64(5_000_000), view.AmountUSD)
}

func TestOrderNotFoundMapsTo404(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/v1/orders/999", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	id := ts.openOrder(t)

	rec := ts.do(t, http.MethodPost, fmt.Sprintf("/v1/orders/%d/pay", id), map[string]string{
		"caller": hex.EncodeToString(ts.taker[:]),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodPost, fmt.Sprintf("/v1/orders/%d/release", id), map[string]string{
		"caller": hex.EncodeToString(ts.maker[:]),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodGet, fmt.Sprintf("/v1/orders/%d/escrow", id), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var balance struct {
		Balance string `json:"balance"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &balance))
	require.Equal(t, "0", balance.Balance)
}

func TestWrongPartyMapsToForbidden(t *testing.T) {
	ts := newTestServer(t)
	id := ts.openOrder(t)

	rec := ts.do(t, http.MethodPost, fmt.Sprintf("/v1/orders/%d/pay", id), map[string]string{
		"caller": hex.EncodeToString(ts.maker[:]),
	})
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestIllegalTransitionMapsToConflict(t *testing.T) {
	ts := newTestServer(t)
	id := ts.openOrder(t)

	rec := ts.do(t, http.MethodPost, fmt.Sprintf("/v1/orders/%d/release", id), map[string]string{
		"caller": hex.EncodeToString(ts.maker[:]),
	})
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestQuotaProfileEndpoint(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/v1/quota/"+hex.EncodeToString(ts.taker[:]), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var profile credit.BuyerQuotaProfile
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &profile))
	require.Equal(t, credit.InitialScore, profile.CreditScore)
	require.Equal(t, credit.FirstPurchaseQuota, profile.AvailableQuota)
}

func TestViolationEndpointSuspends(t *testing.T) {
	ts := newTestServer(t)
	body := map[string]any{
		"taker": hex.EncodeToString(ts.taker[:]),
		"kind":  "dispute_loss",
	}
	rec := ts.do(t, http.MethodPost, "/v1/violations", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/v1/quota/"+hex.EncodeToString(ts.taker[:]), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var profile credit.BuyerQuotaProfile
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &profile))
	require.True(t, profile.IsSuspended)
	require.Zero(t, profile.AvailableQuota)
}

func TestBadAddressMapsToBadRequest(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/v1/quota/nonsense", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOrderListRequiresPartyFilter(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/v1/orders", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	ts.openOrder(t)
	rec = ts.do(t, http.MethodGet, "/v1/orders?taker="+hex.EncodeToString(ts.taker[:]), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var views []json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 1)
}

func TestMetricsExposed(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}
