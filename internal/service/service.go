package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"cupos/internal/cache"
	"cupos/internal/domain"
	"cupos/internal/pos"
	"cupos/internal/receipt"
	"cupos/internal/store"
)

// cachedCatalog answers barcode lookups from the product cache and falls
// through to the repository on a miss. Cache failures degrade to repository
// reads; a flaky redis must never block a sale.
type cachedCatalog struct {
	repo  store.Repository
	cache cache.ProductCache
	ttl   time.Duration
}

func (c cachedCatalog) Lookup(ctx context.Context, barcode string) (*domain.Product, error) {
	if cached, ok, err := c.cache.Get(ctx, barcode); err != nil {
		log.Printf("[service] WARN: product cache get barcode=%s: %v", barcode, err)
	} else if ok {
		return cached, nil
	}
	product, err := c.repo.GetProduct(ctx, barcode)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Set(ctx, barcode, product, c.ttl); err != nil {
		log.Printf("[service] WARN: product cache set barcode=%s: %v", barcode, err)
	}
	return product, nil
}

// Service owns the single terminal's sale state: one active session, three
// hold slots, and the settlement engine over them. A mutex serializes every
// session-touching call, mirroring the one-cashier-one-terminal model.
type Service struct {
	repo  store.Repository
	cache cache.ProductCache

	mu      sync.Mutex
	engine  *pos.Engine
	session *pos.Session
	holds   *pos.HoldManager
}

func New(repo store.Repository, productCache cache.ProductCache, mode pos.Mode, cacheTTL time.Duration) *Service {
	catalog := cachedCatalog{repo: repo, cache: productCache, ttl: cacheTTL}
	return &Service{
		repo:    repo,
		cache:   productCache,
		engine:  pos.NewEngine(catalog, repo, mode),
		session: pos.NewSession(),
		holds:   pos.NewHoldManager(),
	}
}

func (s *Service) Sale(ctx context.Context) (*domain.SaleView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.View(ctx, s.session)
}

func (s *Service) Scan(ctx context.Context, req domain.ScanRequest) (*domain.SaleView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.engine.Scan(ctx, s.session, strings.TrimSpace(req.Barcode)); err != nil {
		return nil, err
	}
	return s.engine.View(ctx, s.session)
}

// SetLineQty changes the quantity of one cart line. lineNo is the 1-based
// row number shown on the sales screen.
func (s *Service) SetLineQty(ctx context.Context, lineNo int, req domain.SetLineQtyRequest) (*domain.SaleView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.engine.SetQty(s.session, lineNo-1, req.Qty); err != nil {
		return nil, err
	}
	return s.engine.View(ctx, s.session)
}

func (s *Service) RemoveLine(ctx context.Context, lineNo int) (*domain.SaleView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.engine.RemoveLine(s.session, lineNo-1); err != nil {
		return nil, err
	}
	return s.engine.View(ctx, s.session)
}

// CancelSale abandons the current cart and any applied payments.
func (s *Service) CancelSale(_ context.Context) (*domain.SaleView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session.Clear()
	return &domain.SaleView{Lines: []domain.SaleLineView{}, Payments: []domain.PaymentRecord{}}, nil
}

// PayCash applies a cash payment and finalizes the sale as soon as it is
// fully covered.
func (s *Service) PayCash(ctx context.Context, req domain.CashPaymentRequest) (*domain.CashPaymentResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	applied, change, settled, err := s.engine.ApplyCash(ctx, s.session, req.ReceivedAmt, strings.TrimSpace(req.ReceiptID))
	if err != nil {
		return nil, err
	}
	resp := &domain.CashPaymentResponse{AppliedAmt: applied, ChangeAmt: change, Settled: settled}
	if settled {
		tx, err := s.engine.Finalize(ctx, s.session)
		if err != nil {
			return nil, err
		}
		resp.Transaction = tx
	}
	return resp, nil
}

func (s *Service) PayCard(ctx context.Context, req domain.CardPaymentRequest) (*domain.CardPaymentResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	settled, err := s.engine.ApplyCard(ctx, s.session, strings.TrimSpace(req.CardNumber), req.Amount)
	if err != nil {
		return nil, err
	}
	resp := &domain.CardPaymentResponse{Settled: settled}
	if settled {
		tx, err := s.engine.Finalize(ctx, s.session)
		if err != nil {
			return nil, err
		}
		resp.Transaction = tx
	}
	return resp, nil
}

func (s *Service) TogglePaymentOff(_ context.Context, method domain.PaymentMethod) (*domain.TogglePaymentResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed, err := s.engine.TogglePaymentOff(s.session, method)
	if err != nil {
		return nil, err
	}
	return &domain.TogglePaymentResponse{Removed: removed}, nil
}

// HoldAction is the hold button: it parks a fresh cart, but cancels a cart
// that was itself restored from a park slot.
func (s *Service) HoldAction(_ context.Context) (*domain.HoldActionResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session.RestoredHold() {
		slot := s.session.RestoredSlot()
		s.session.Clear()
		return &domain.HoldActionResponse{Cancelled: true, SlotIndex: slot}, nil
	}
	slot, err := s.holds.Park(s.session)
	if err != nil {
		return nil, err
	}
	return &domain.HoldActionResponse{Parked: true, SlotIndex: slot}, nil
}

func (s *Service) HoldSlots(_ context.Context) ([]domain.HoldSlotView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.holds.Slots(), nil
}

func (s *Service) RestoreHold(ctx context.Context, index int) (*domain.SaleView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.holds.Restore(index, s.session); err != nil {
		return nil, err
	}
	return s.engine.View(ctx, s.session)
}

// Refund marks a completed transaction refunded. PIN gating happens at the
// HTTP layer before this is reached.
func (s *Service) Refund(ctx context.Context, txBarcode string) (*domain.RefundResponse, error) {
	txBarcode = strings.TrimSpace(txBarcode)
	if txBarcode == "" {
		return &domain.RefundResponse{TxBarcode: txBarcode, Result: domain.RefundNotFound}, nil
	}
	result, err := s.engine.Refund(ctx, txBarcode)
	if err != nil {
		return nil, err
	}
	if result == domain.RefundSuccess {
		log.Printf("[service] transaction %s refunded", txBarcode)
	}
	return &domain.RefundResponse{TxBarcode: txBarcode, Result: result}, nil
}

func (s *Service) Transactions(ctx context.Context, limit int) ([]domain.Transaction, error) {
	return s.repo.ListTransactions(ctx, limit)
}

func (s *Service) LastTransaction(ctx context.Context) (*domain.Transaction, error) {
	return s.repo.LastTransaction(ctx)
}

// Receipt renders the stored transaction both as printable HTML and as a
// raw ESC/POS job for the local printer bridge.
func (s *Service) Receipt(ctx context.Context, txBarcode string) (*domain.ReceiptResponse, error) {
	tx, err := s.repo.FindTransaction(ctx, strings.TrimSpace(txBarcode))
	if err != nil {
		return nil, err
	}
	info, err := s.repo.GetStoreInfo(ctx)
	if err != nil {
		return nil, err
	}

	html, err := receipt.RenderHTML(*info, *tx)
	if err != nil {
		return nil, err
	}
	raw, preview := receipt.RenderEscpos(*info, *tx)

	return &domain.ReceiptResponse{
		TxBarcode:    tx.TxBarcode,
		HTML:         html,
		EscposBase64: base64.StdEncoding.EncodeToString(raw),
		PreviewText:  preview,
		FileName:     fmt.Sprintf("receipt-%s.bin", tx.TxBarcode),
	}, nil
}

func (s *Service) OpenCashDrawer(_ context.Context) (*domain.CashDrawerOpenResponse, error) {
	return &domain.CashDrawerOpenResponse{
		CommandBase64: base64.StdEncoding.EncodeToString(receipt.DrawerKickCommand()),
		Note:          "Send this ESC/POS pulse command via local printer bridge to open cash drawer.",
	}, nil
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) GetProduct(ctx context.Context, barcode string) (*domain.Product, error) {
	return s.repo.GetProduct(ctx, strings.TrimSpace(barcode))
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (*domain.Product, error) {
	req.Barcode = strings.TrimSpace(req.Barcode)
	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	if req.Barcode == "" || req.Name == "" || req.Price < 1 {
		return nil, store.ErrInvalidProduct
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		Barcode:  req.Barcode,
		Name:     req.Name,
		Price:    req.Price,
		Category: req.Category,
	})
	if err != nil {
		return nil, err
	}
	s.invalidateCache(ctx, created.Barcode)
	return created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, barcode string, req domain.ProductUpdateRequest) (*domain.Product, error) {
	barcode = strings.TrimSpace(barcode)
	existing, err := s.repo.GetProduct(ctx, barcode)
	if err != nil {
		return nil, err
	}

	next := *existing
	if req.Name != nil {
		next.Name = strings.TrimSpace(*req.Name)
	}
	if req.Price != nil {
		next.Price = *req.Price
	}
	if req.Category != nil {
		next.Category = strings.TrimSpace(*req.Category)
	}
	if next.Name == "" || next.Price < 1 {
		return nil, store.ErrInvalidProduct
	}

	updated, err := s.repo.UpdateProduct(ctx, next)
	if err != nil {
		return nil, err
	}
	s.invalidateCache(ctx, barcode)
	return updated, nil
}

// RenameProduct changes a product's barcode while keeping its catalog
// position. Both the old and new keys are evicted from the lookup cache.
func (s *Service) RenameProduct(ctx context.Context, barcode string, req domain.ProductRenameRequest) (*domain.Product, error) {
	barcode = strings.TrimSpace(barcode)
	newBarcode := strings.TrimSpace(req.NewBarcode)
	if newBarcode == "" {
		return nil, store.ErrInvalidProduct
	}

	renamed, err := s.repo.RenameProductBarcode(ctx, barcode, newBarcode)
	if err != nil {
		return nil, err
	}
	s.invalidateCache(ctx, barcode, newBarcode)
	return renamed, nil
}

func (s *Service) DeleteProduct(ctx context.Context, barcode string) error {
	barcode = strings.TrimSpace(barcode)
	if err := s.repo.DeleteProduct(ctx, barcode); err != nil {
		return err
	}
	s.invalidateCache(ctx, barcode)
	return nil
}

func (s *Service) invalidateCache(ctx context.Context, barcodes ...string) {
	if err := s.cache.Invalidate(ctx, barcodes...); err != nil {
		log.Printf("[service] WARN: product cache invalidate %v: %v", barcodes, err)
	}
}

func (s *Service) StoreInfo(ctx context.Context) (*domain.StoreInfo, error) {
	return s.repo.GetStoreInfo(ctx)
}

func (s *Service) SaveStoreInfo(ctx context.Context, info domain.StoreInfo) (*domain.StoreInfo, error) {
	info.StoreName = strings.TrimSpace(info.StoreName)
	if info.StoreName == "" {
		return nil, store.ErrInvalidProduct
	}
	if err := s.repo.SaveStoreInfo(ctx, info); err != nil {
		return nil, err
	}
	return &info, nil
}

// SafeBalance is the welcome-screen figure: the stored base plus cash taken
// in across non-refunded sales.
func (s *Service) SafeBalance(ctx context.Context) (*domain.SafeBalance, error) {
	base, err := s.repo.GetBaseSafeAmt(ctx)
	if err != nil {
		return nil, err
	}
	cashTotal, err := s.repo.CashTotal(ctx)
	if err != nil {
		return nil, err
	}
	return &domain.SafeBalance{BaseAmt: base, CashTotal: cashTotal, Total: base + cashTotal}, nil
}

// SetSafeBalance takes the new displayed total and stores the base that
// makes it true given today's cash takings.
func (s *Service) SetSafeBalance(ctx context.Context, amount int64) (*domain.SafeBalance, error) {
	if amount < 0 {
		return nil, pos.ErrInvalidAmount
	}
	cashTotal, err := s.repo.CashTotal(ctx)
	if err != nil {
		return nil, err
	}
	base := amount - cashTotal
	if err := s.repo.SetBaseSafeAmt(ctx, base); err != nil {
		return nil, err
	}
	return &domain.SafeBalance{BaseAmt: base, CashTotal: cashTotal, Total: amount}, nil
}
