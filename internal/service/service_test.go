package service

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"cupos/internal/cache"
	"cupos/internal/domain"
	"cupos/internal/pos"
	"cupos/internal/store"
	"cupos/internal/store/memory"
)

func newTestService() *Service {
	return New(memory.NewSeeded(), cache.NoopProductCache{}, pos.ModeSplit, 30*time.Second)
}

func TestScanAndSaleView(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	view, err := svc.Scan(ctx, domain.ScanRequest{Barcode: "12345"})
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if len(view.Lines) != 1 || view.Totals.TotalAmt != 3000 {
		t.Fatalf("unexpected view: %+v", view)
	}

	if _, err := svc.Scan(ctx, domain.ScanRequest{Barcode: "no-such"}); !errors.Is(err, pos.ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
}

func TestSetLineQtyUsesScreenRowNumbers(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	if _, err := svc.Scan(ctx, domain.ScanRequest{Barcode: "12345"}); err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	view, err := svc.SetLineQty(ctx, 1, domain.SetLineQtyRequest{Qty: 4})
	if err != nil {
		t.Fatalf("set qty failed: %v", err)
	}
	if view.Lines[0].Qty != 4 {
		t.Fatalf("expected qty 4, got %d", view.Lines[0].Qty)
	}
	if _, err := svc.SetLineQty(ctx, 2, domain.SetLineQtyRequest{Qty: 1}); !errors.Is(err, pos.ErrLineNotFound) {
		t.Fatalf("expected ErrLineNotFound for row 2, got %v", err)
	}
}

func TestCashPaymentAutoFinalizes(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	if _, err := svc.Scan(ctx, domain.ScanRequest{Barcode: "12345"}); err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	resp, err := svc.PayCash(ctx, domain.CashPaymentRequest{ReceivedAmt: 5000})
	if err != nil {
		t.Fatalf("pay cash failed: %v", err)
	}
	if !resp.Settled || resp.Transaction == nil {
		t.Fatalf("expected settled sale with transaction, got %+v", resp)
	}
	if resp.AppliedAmt != 3000 || resp.ChangeAmt != 2000 {
		t.Fatalf("unexpected amounts: %+v", resp)
	}

	// the session is back to a clean cart
	view, err := svc.Sale(ctx)
	if err != nil {
		t.Fatalf("sale view failed: %v", err)
	}
	if len(view.Lines) != 0 || view.Settled {
		t.Fatalf("expected fresh session after finalize, got %+v", view)
	}

	last, err := svc.LastTransaction(ctx)
	if err != nil {
		t.Fatalf("last transaction failed: %v", err)
	}
	if last.TxBarcode != resp.Transaction.TxBarcode {
		t.Fatalf("expected persisted transaction to be the latest")
	}
}

func TestPartialCashThenCardSettles(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	if _, err := svc.Scan(ctx, domain.ScanRequest{Barcode: "8802"}); err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	cashResp, err := svc.PayCash(ctx, domain.CashPaymentRequest{ReceivedAmt: 1000})
	if err != nil {
		t.Fatalf("pay cash failed: %v", err)
	}
	if cashResp.Settled {
		t.Fatalf("partial cash must not settle")
	}

	cardResp, err := svc.PayCard(ctx, domain.CardPaymentRequest{CardNumber: "485479000348", Amount: 1300})
	if err != nil {
		t.Fatalf("pay card failed: %v", err)
	}
	if !cardResp.Settled || cardResp.Transaction == nil {
		t.Fatalf("expected card to settle the remainder, got %+v", cardResp)
	}
	if cardResp.Transaction.PaymentMethod != domain.PaymentSplit {
		t.Fatalf("expected Split method, got %s", cardResp.Transaction.PaymentMethod)
	}
}

func TestTogglePaymentOffThenRepay(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	if _, err := svc.Scan(ctx, domain.ScanRequest{Barcode: "12345"}); err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if _, err := svc.PayCash(ctx, domain.CashPaymentRequest{ReceivedAmt: 1000}); err != nil {
		t.Fatalf("pay cash failed: %v", err)
	}

	toggle, err := svc.TogglePaymentOff(ctx, domain.PaymentCash)
	if err != nil || !toggle.Removed {
		t.Fatalf("expected cash to be removed, got %+v/%v", toggle, err)
	}

	resp, err := svc.PayCash(ctx, domain.CashPaymentRequest{ReceivedAmt: 3000})
	if err != nil {
		t.Fatalf("repay failed: %v", err)
	}
	if !resp.Settled {
		t.Fatalf("expected exact repay to settle")
	}
}

func TestHoldActionParksAndCancels(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	if _, err := svc.Scan(ctx, domain.ScanRequest{Barcode: "12345"}); err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	action, err := svc.HoldAction(ctx)
	if err != nil {
		t.Fatalf("hold failed: %v", err)
	}
	if !action.Parked || action.SlotIndex != 0 {
		t.Fatalf("expected park into slot 0, got %+v", action)
	}

	slots, err := svc.HoldSlots(ctx)
	if err != nil {
		t.Fatalf("slots failed: %v", err)
	}
	if !slots[0].Occupied {
		t.Fatalf("slot 0 must be occupied")
	}

	view, err := svc.RestoreHold(ctx, 0)
	if err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	if !view.RestoredHold || len(view.Lines) != 1 {
		t.Fatalf("unexpected restored view: %+v", view)
	}

	// the hold button now cancels the restored cart instead of re-parking
	action, err = svc.HoldAction(ctx)
	if err != nil {
		t.Fatalf("hold on restored cart failed: %v", err)
	}
	if !action.Cancelled || action.Parked {
		t.Fatalf("expected cancel, got %+v", action)
	}
	if action.SlotIndex != 0 {
		t.Fatalf("cancel must report the slot the cart came from, got %+v", action)
	}
	view, err = svc.Sale(ctx)
	if err != nil {
		t.Fatalf("sale view failed: %v", err)
	}
	if len(view.Lines) != 0 {
		t.Fatalf("cancel must clear the cart, got %+v", view)
	}
}

func TestRefundFlow(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	if _, err := svc.Scan(ctx, domain.ScanRequest{Barcode: "12345"}); err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	resp, err := svc.PayCash(ctx, domain.CashPaymentRequest{ReceivedAmt: 3000})
	if err != nil {
		t.Fatalf("pay cash failed: %v", err)
	}

	refund, err := svc.Refund(ctx, resp.Transaction.TxBarcode)
	if err != nil || refund.Result != domain.RefundSuccess {
		t.Fatalf("expected Success, got %+v/%v", refund, err)
	}
	refund, err = svc.Refund(ctx, resp.Transaction.TxBarcode)
	if err != nil || refund.Result != domain.RefundAlreadyRefunded {
		t.Fatalf("expected AlreadyRefunded, got %+v/%v", refund, err)
	}
	refund, err = svc.Refund(ctx, "0000000000000000")
	if err != nil || refund.Result != domain.RefundNotFound {
		t.Fatalf("expected NotFound, got %+v/%v", refund, err)
	}
}

func TestReceiptRendering(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	if _, err := svc.Scan(ctx, domain.ScanRequest{Barcode: "12345"}); err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	payResp, err := svc.PayCash(ctx, domain.CashPaymentRequest{ReceivedAmt: 3000})
	if err != nil {
		t.Fatalf("pay cash failed: %v", err)
	}

	receiptResp, err := svc.Receipt(ctx, payResp.Transaction.TxBarcode)
	if err != nil {
		t.Fatalf("receipt failed: %v", err)
	}
	if !strings.Contains(receiptResp.HTML, "새우깡") {
		t.Fatalf("receipt html missing item name")
	}
	raw, err := base64.StdEncoding.DecodeString(receiptResp.EscposBase64)
	if err != nil || len(raw) == 0 {
		t.Fatalf("bad escpos payload: %v", err)
	}
	if raw[0] != 0x1b || raw[1] != 0x40 {
		t.Fatalf("escpos job must start with printer init")
	}

	if _, err := svc.Receipt(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestProductCRUDAndRename(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	created, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{Barcode: "5555", Name: "컵라면", Price: 1800, Category: "food"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{Barcode: "5555", Name: "dup", Price: 1}); !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if _, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{Barcode: "", Name: "x", Price: 1}); !errors.Is(err, store.ErrInvalidProduct) {
		t.Fatalf("expected ErrInvalidProduct, got %v", err)
	}

	newPrice := int64(2000)
	updated, err := svc.UpdateProduct(ctx, created.Barcode, domain.ProductUpdateRequest{Price: &newPrice})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.Price != 2000 || updated.Name != "컵라면" {
		t.Fatalf("partial update broke other fields: %+v", updated)
	}

	renamed, err := svc.RenameProduct(ctx, "5555", domain.ProductRenameRequest{NewBarcode: "6666"})
	if err != nil {
		t.Fatalf("rename failed: %v", err)
	}
	if renamed.Barcode != "6666" {
		t.Fatalf("unexpected rename result: %+v", renamed)
	}
	if _, err := svc.GetProduct(ctx, "5555"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("old barcode must be gone, got %v", err)
	}

	if err := svc.DeleteProduct(ctx, "6666"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if err := svc.DeleteProduct(ctx, "6666"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestSafeBalanceEdit(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	// take 3000 in cash first
	if _, err := svc.Scan(ctx, domain.ScanRequest{Barcode: "12345"}); err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if _, err := svc.PayCash(ctx, domain.CashPaymentRequest{ReceivedAmt: 3000}); err != nil {
		t.Fatalf("pay cash failed: %v", err)
	}

	balance, err := svc.SafeBalance(ctx)
	if err != nil {
		t.Fatalf("safe balance failed: %v", err)
	}
	if balance.Total != 472000+3000 {
		t.Fatalf("expected 475000, got %d", balance.Total)
	}

	// cashier counts the safe and enters the new total
	balance, err = svc.SetSafeBalance(ctx, 500000)
	if err != nil {
		t.Fatalf("set safe balance failed: %v", err)
	}
	if balance.Total != 500000 || balance.BaseAmt != 500000-3000 {
		t.Fatalf("unexpected balance after edit: %+v", balance)
	}

	if _, err := svc.SetSafeBalance(ctx, -1); !errors.Is(err, pos.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestStoreInfoRoundTrip(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	saved, err := svc.SaveStoreInfo(ctx, domain.StoreInfo{StoreName: "CU 테스트점", BizNum: "1234567890"})
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	got, err := svc.StoreInfo(ctx)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.StoreName != saved.StoreName || got.BizNum != "1234567890" {
		t.Fatalf("store info not persisted: %+v", got)
	}

	if _, err := svc.SaveStoreInfo(ctx, domain.StoreInfo{StoreName: "  "}); !errors.Is(err, store.ErrInvalidProduct) {
		t.Fatalf("expected ErrInvalidProduct for empty name, got %v", err)
	}
}

func TestOpenCashDrawer(t *testing.T) {
	svc := newTestService()
	resp, err := svc.OpenCashDrawer(context.Background())
	if err != nil {
		t.Fatalf("open drawer failed: %v", err)
	}
	raw, err := base64.StdEncoding.DecodeString(resp.CommandBase64)
	if err != nil {
		t.Fatalf("bad command payload: %v", err)
	}
	want := []byte{0x1b, 0x70, 0x00, 0x19, 0xfa}
	if len(raw) != len(want) {
		t.Fatalf("unexpected drawer command: %v", raw)
	}
	for i := range want {
		if raw[i] != want[i] {
			t.Fatalf("unexpected drawer command: %v", raw)
		}
	}
}
