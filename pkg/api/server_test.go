package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/predictx/predictx/pkg/crypto"
	"github.com/predictx/predictx/pkg/engine"
	"github.com/predictx/predictx/pkg/relayer"
)

const testChainID = 1337

var testContract = common.HexToAddress("0x00000000000000000000000000000000000000c2")

func newTestServer(t *testing.T) (*Server, *engine.Engine) {
	t.Helper()
	eng := engine.New(testChainID, testContract, nil, nil)
	rly := relayer.New(nil, relayer.Config{}, nil, nil, nil)
	return NewServer(eng, rly, nil), eng
}

func signedRequest(t *testing.T, side string, price, amount int64) SubmitOrderRequest {
	t.Helper()
	signer, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	order := &engine.Order{
		Maker:             signer.Address(),
		MarketID:          big.NewInt(3),
		ConditionID:       common.BytesToHash([]byte("condition")),
		Outcome:           0,
		Collateral:        common.HexToAddress("0x00000000000000000000000000000000000000cc"),
		PricePips:         price,
		Amount:            big.NewInt(amount),
		Expiry:            time.Now().Add(time.Hour).Unix(),
		Salt:              big.NewInt(time.Now().UnixNano()),
		Nonce:             big.NewInt(0),
		ChainID:           testChainID,
		VerifyingContract: testContract,
	}
	sig, err := engine.SignOrder(signer, order)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	return SubmitOrderRequest{
		Order: OrderPayload{
			Maker:             order.Maker.Hex(),
			MarketID:          order.MarketID.String(),
			ConditionID:       order.ConditionID.Hex(),
			Outcome:           order.Outcome,
			Collateral:        order.Collateral.Hex(),
			PricePips:         order.PricePips,
			Amount:            order.Amount.String(),
			Expiry:            order.Expiry,
			Salt:              order.Salt.String(),
			Nonce:             order.Nonce.String(),
			AllowedTaker:      common.Address{}.Hex(),
			ChainID:           order.ChainID,
			VerifyingContract: order.VerifyingContract.Hex(),
		},
		Signature: fmt.Sprintf("0x%x", sig),
		Side:      side,
	}
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func TestSubmitOrder(t *testing.T) {
	s, eng := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/orders", signedRequest(t, "BUY", 5500, 100))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var resp SubmitOrderResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || resp.OrderID == "" {
		t.Fatalf("response = %+v", resp)
	}
	if eng.Stats().TotalOrders != 1 {
		t.Fatal("order must rest in the engine after submission")
	}
}

func TestSubmitOrderRejections(t *testing.T) {
	s, _ := newTestServer(t)

	valid := signedRequest(t, "BUY", 5500, 100)

	tampered := valid
	tampered.Order.PricePips = 4000 // breaks the signature

	badSide := valid
	badSide.Side = "HOLD"

	badSig := valid
	badSig.Signature = "0xzz"

	cases := []struct {
		name string
		req  interface{}
	}{
		{"tampered order", tampered},
		{"unknown side", badSide},
		{"garbage signature hex", badSig},
		{"non-json body", "not json"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, s, http.MethodPost, "/api/v1/orders", tc.req)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400; body %s", rec.Code, rec.Body)
			}
		})
	}
}

func TestCancelOrder(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/orders", signedRequest(t, "SELL", 5000, 25))
	var submitted SubmitOrderResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &submitted); err != nil {
		t.Fatalf("decode: %v", err)
	}

	cancel := CancelOrderRequest{OrderID: submitted.OrderID, MarketID: "3", Outcome: 0}
	rec = doJSON(t, s, http.MethodPost, "/api/v1/orders/cancel", cancel)
	var resp CancelOrderResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success {
		t.Fatal("cancel of a resident order must succeed")
	}

	// Idempotence at the HTTP layer: a second cancel reports false.
	rec = doJSON(t, s, http.MethodPost, "/api/v1/orders/cancel", cancel)
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Success {
		t.Fatal("second cancel must report false")
	}
}

func TestOrderStatusEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/orders", signedRequest(t, "BUY", 5500, 10))
	var submitted SubmitOrderResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &submitted); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec = doJSON(t, s, http.MethodGet, "/api/v1/orders/"+submitted.OrderID, nil)
	var status StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.Status != string(engine.StateActive) {
		t.Fatalf("status = %q, want active", status.Status)
	}

	rec = doJSON(t, s, http.MethodGet, "/api/v1/orders/"+common.Hash{}.Hex(), nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.Status != string(engine.StateNotFound) {
		t.Fatalf("status = %q, want not_found", status.Status)
	}
}

func TestOrderbookEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	doJSON(t, s, http.MethodPost, "/api/v1/orders", signedRequest(t, "BUY", 5500, 100))
	doJSON(t, s, http.MethodPost, "/api/v1/orders", signedRequest(t, "SELL", 6000, 40))

	rec := doJSON(t, s, http.MethodGet, "/api/v1/markets/3/0/orderbook", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var book BookResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &book); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(book.Bids) != 1 || len(book.Asks) != 1 {
		t.Fatalf("levels = %d/%d, want 1/1", len(book.Bids), len(book.Asks))
	}
	if book.Bids[0].Amount != "100" || book.Asks[0].Amount != "40" {
		t.Fatalf("amounts = %s/%s", book.Bids[0].Amount, book.Asks[0].Amount)
	}

	rec = doJSON(t, s, http.MethodGet, "/api/v1/markets/3/7/orderbook", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("outcome 7 status = %d, want 400", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}
