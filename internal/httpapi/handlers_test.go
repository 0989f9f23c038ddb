package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cupos/internal/cache"
	"cupos/internal/domain"
	"cupos/internal/pos"
	"cupos/internal/service"
	"cupos/internal/store/memory"
)

// newTestAPI builds a full API over an in-memory store and real Service so
// handler tests exercise the complete request path.
func newTestAPI(t *testing.T, managerPIN string) *API {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, cache.NoopProductCache{}, pos.ModeSplit, 30*time.Second)
	return New(svc, NewPINManager(managerPIN), "*")
}

// doJSON sends a request through the full handler chain with a valid CSRF
// token attached to mutating methods.
func doJSON(t *testing.T, api *API, method string, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if method != http.MethodGet {
		req.Header.Set("X-CSRF-Token", api.generateCSRFToken())
	}
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dest); err != nil {
		t.Fatalf("decode body: %v (body: %s)", err, rec.Body.String())
	}
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t, "")

	rec := doJSON(t, api, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	decodeBody(t, rec, &body)
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestScanAndSaleFlow(t *testing.T) {
	api := newTestAPI(t, "")

	rec := doJSON(t, api, http.MethodPost, "/api/v1/sale/scan", domain.ScanRequest{Barcode: "12345"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var view domain.SaleView
	decodeBody(t, rec, &view)
	if len(view.Lines) != 1 || view.Totals.TotalAmt != 3000 {
		t.Fatalf("unexpected view: %+v", view)
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/sale/scan", domain.ScanRequest{Barcode: "no-such"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown barcode, got %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodPatch, "/api/v1/sale/lines/1", domain.SetLineQtyRequest{Qty: 2})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	decodeBody(t, rec, &view)
	if view.Totals.TotalAmt != 6000 {
		t.Fatalf("expected total 6000, got %d", view.Totals.TotalAmt)
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/sale", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodDelete, "/api/v1/sale/lines/1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	decodeBody(t, rec, &view)
	if len(view.Lines) != 0 {
		t.Fatalf("expected empty cart, got %+v", view)
	}
}

func TestCashCheckoutOverHTTP(t *testing.T) {
	api := newTestAPI(t, "")

	rec := doJSON(t, api, http.MethodPost, "/api/v1/sale/scan", domain.ScanRequest{Barcode: "12345"})
	if rec.Code != http.StatusOK {
		t.Fatalf("scan failed: %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/sale/payments/cash", domain.CashPaymentRequest{ReceivedAmt: 5000})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var resp domain.CashPaymentResponse
	decodeBody(t, rec, &resp)
	if !resp.Settled || resp.ChangeAmt != 2000 || resp.Transaction == nil {
		t.Fatalf("unexpected payment response: %+v", resp)
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/transactions/last", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/receipts/"+resp.Transaction.TxBarcode, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var receiptResp domain.ReceiptResponse
	decodeBody(t, rec, &receiptResp)
	if receiptResp.HTML == "" || receiptResp.EscposBase64 == "" {
		t.Fatalf("receipt payload incomplete: %+v", receiptResp)
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/receipts/"+resp.Transaction.TxBarcode+"?format=html", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	decodeBody(t, rec, &receiptResp)
	if receiptResp.HTML == "" || receiptResp.EscposBase64 != "" {
		t.Fatalf("format=html must return only the html payload: %+v", receiptResp)
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/receipts/"+resp.Transaction.TxBarcode+"?format=paper", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown format, got %d", rec.Code)
	}
}

func TestTogglePaymentOffOverHTTP(t *testing.T) {
	api := newTestAPI(t, "")

	doJSON(t, api, http.MethodPost, "/api/v1/sale/scan", domain.ScanRequest{Barcode: "12345"})
	rec := doJSON(t, api, http.MethodPost, "/api/v1/sale/payments/cash", domain.CashPaymentRequest{ReceivedAmt: 1000})
	if rec.Code != http.StatusOK {
		t.Fatalf("partial cash failed: %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/sale/payments/cash/toggle-off", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var toggle domain.TogglePaymentResponse
	decodeBody(t, rec, &toggle)
	if !toggle.Removed {
		t.Fatalf("expected payment to be removed")
	}
}

func TestHoldEndpoints(t *testing.T) {
	api := newTestAPI(t, "")

	doJSON(t, api, http.MethodPost, "/api/v1/sale/scan", domain.ScanRequest{Barcode: "12345"})
	rec := doJSON(t, api, http.MethodPost, "/api/v1/sale/hold", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("hold failed: %d (body: %s)", rec.Code, rec.Body.String())
	}
	var action domain.HoldActionResponse
	decodeBody(t, rec, &action)
	if !action.Parked || action.SlotIndex != 0 {
		t.Fatalf("unexpected hold action: %+v", action)
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/sale/hold/slots", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("slots failed: %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/sale/hold/0/restore", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("restore failed: %d (body: %s)", rec.Code, rec.Body.String())
	}
	var view domain.SaleView
	decodeBody(t, rec, &view)
	if !view.RestoredHold {
		t.Fatalf("expected restored hold flag")
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/sale/hold/0/restore", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for empty slot, got %d", rec.Code)
	}
}

func TestRefundRequiresPIN(t *testing.T) {
	api := newTestAPI(t, "135790")

	doJSON(t, api, http.MethodPost, "/api/v1/sale/scan", domain.ScanRequest{Barcode: "12345"})
	rec := doJSON(t, api, http.MethodPost, "/api/v1/sale/payments/cash", domain.CashPaymentRequest{ReceivedAmt: 3000})
	var payResp domain.CashPaymentResponse
	decodeBody(t, rec, &payResp)

	rec = doJSON(t, api, http.MethodPost, "/api/v1/refunds", domain.RefundRequest{TxBarcode: payResp.Transaction.TxBarcode, ManagerPIN: "000000"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for wrong PIN, got %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/refunds", domain.RefundRequest{TxBarcode: payResp.Transaction.TxBarcode, ManagerPIN: "135790"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var refund domain.RefundResponse
	decodeBody(t, rec, &refund)
	if refund.Result != domain.RefundSuccess {
		t.Fatalf("expected Success, got %s", refund.Result)
	}
}

func TestProductEndpoints(t *testing.T) {
	api := newTestAPI(t, "")

	rec := doJSON(t, api, http.MethodPost, "/api/v1/products", domain.ProductCreateRequest{Barcode: "4444", Name: "바나나우유", Price: 1700, Category: "drink"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/products", domain.ProductCreateRequest{Barcode: "4444", Name: "dup", Price: 1})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate, got %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/products/4444/rename", domain.ProductRenameRequest{NewBarcode: "4445"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/products/4445", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodDelete, "/api/v1/products/4445", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, api, http.MethodGet, "/api/v1/products/4445", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestSafeBalanceEndpoints(t *testing.T) {
	api := newTestAPI(t, "135790")

	rec := doJSON(t, api, http.MethodGet, "/api/v1/settings/safe-balance", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var balance domain.SafeBalance
	decodeBody(t, rec, &balance)
	if balance.Total != 472000 {
		t.Fatalf("expected default total 472000, got %d", balance.Total)
	}

	rec = doJSON(t, api, http.MethodPut, "/api/v1/settings/safe-balance", domain.SafeBalanceUpdateRequest{Amount: 500000, ManagerPIN: "135790"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	decodeBody(t, rec, &balance)
	if balance.Total != 500000 {
		t.Fatalf("expected 500000, got %d", balance.Total)
	}

	rec = doJSON(t, api, http.MethodPut, "/api/v1/settings/safe-balance", domain.SafeBalanceUpdateRequest{Amount: 1, ManagerPIN: "wrong"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for wrong PIN, got %d", rec.Code)
	}
}

func TestStoreInfoEndpoints(t *testing.T) {
	api := newTestAPI(t, "")

	rec := doJSON(t, api, http.MethodPut, "/api/v1/settings/store-info", domain.StoreInfo{StoreName: "CU 시험점", BizNum: "111"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/settings/store-info", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var info domain.StoreInfo
	decodeBody(t, rec, &info)
	if info.StoreName != "CU 시험점" {
		t.Fatalf("store info not saved: %+v", info)
	}
}

func TestCashDrawerEndpoint(t *testing.T) {
	api := newTestAPI(t, "")

	rec := doJSON(t, api, http.MethodPost, "/api/v1/hardware/cash-drawer/open", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var resp domain.CashDrawerOpenResponse
	decodeBody(t, rec, &resp)
	if resp.CommandBase64 == "" {
		t.Fatalf("missing drawer command")
	}
}

func TestTransactionsLimitParam(t *testing.T) {
	api := newTestAPI(t, "")

	for i := 0; i < 3; i++ {
		doJSON(t, api, http.MethodPost, "/api/v1/sale/scan", domain.ScanRequest{Barcode: "12345"})
		rec := doJSON(t, api, http.MethodPost, "/api/v1/sale/payments/cash", domain.CashPaymentRequest{ReceivedAmt: 3000})
		if rec.Code != http.StatusOK {
			t.Fatalf("checkout %d failed: %d", i, rec.Code)
		}
	}

	rec := doJSON(t, api, http.MethodGet, "/api/v1/transactions?limit=2", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Transactions []domain.Transaction `json:"transactions"`
	}
	decodeBody(t, rec, &body)
	if len(body.Transactions) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(body.Transactions))
	}
}

func TestUnknownPaymentActionIs404(t *testing.T) {
	api := newTestAPI(t, "")
	rec := doJSON(t, api, http.MethodPost, "/api/v1/sale/payments/voucher", map[string]any{})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestMethodNotAllowed(t *testing.T) {
	api := newTestAPI(t, "")
	cases := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/v1/sale/scan"},
		{http.MethodPost, "/api/v1/sale"},
		{http.MethodGet, "/api/v1/sale/hold"},
	}
	for i, tc := range cases {
		rec := doJSON(t, api, tc.method, tc.path, nil)
		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("case %d (%s %s): expected 405, got %d", i, tc.method, tc.path, rec.Code)
		}
	}
}
