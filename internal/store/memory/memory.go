package memory

import (
	"context"
	"sync"
	"time"

	"cupos/internal/domain"
	"cupos/internal/store"
)

// defaultBaseSafeAmt matches the opening float configured on a fresh
// terminal before any sale has happened.
const defaultBaseSafeAmt = 472000

// Store is an in-memory Repository for dev mode and tests. Products are kept
// as a slice so the catalog preserves registration order; renaming a barcode
// keeps the product in place.
type Store struct {
	mu           sync.RWMutex
	products     []domain.Product
	transactions []domain.Transaction
	baseSafeAmt  int64
	storeInfo    domain.StoreInfo
}

func New() *Store {
	return &Store{
		baseSafeAmt: defaultBaseSafeAmt,
		storeInfo:   DefaultStoreInfo(),
	}
}

// NewSeeded returns a store preloaded with the demo catalog.
func NewSeeded() *Store {
	s := New()
	s.products = DefaultProducts()
	return s
}

func DefaultStoreInfo() domain.StoreInfo {
	return domain.StoreInfo{
		StoreName: "CU 화도오월점",
		BizNum:    "8522100347",
		Address:   "경기도 남양주시 화도읍 경춘로1896-8, (녹촌리) 1층",
		Owner:     "김하순",
		Tel:       "0315115187",
	}
}

func DefaultProducts() []domain.Product {
	return []domain.Product{
		{Barcode: "12345", Name: "새우깡", Price: 3000, Category: "snack"},
		{Barcode: "12312", Name: "콘칩", Price: 2000, Category: "snack"},
		{Barcode: "8801", Name: "동아)나랑드파인P500m", Price: 2000, Category: "drink"},
		{Barcode: "8802", Name: "#코카콜라P500ml", Price: 2300, Category: "drink"},
		{Barcode: "8803", Name: "친환경)CU백색봉투대", Price: 100, Category: "etc"},
		{Barcode: "8804", Name: "아이시스2L P6입", Price: 3600, Category: "water"},
		{Barcode: "8805", Name: "유앤)포켓몬볼모양젤", Price: 1000, Category: "snack"},
		{Barcode: "8806", Name: "츄파춥스12g", Price: 300, Category: "candy"},
		{Barcode: "8807", Name: "트롤리지구젤리(낱개)", Price: 1000, Category: "jelly"},
		{Barcode: "8808", Name: "트롤리지구젤리(낱개)", Price: 1000, Category: "jelly"},
	}
}

func (s *Store) productIndex(barcode string) int {
	for i := range s.products {
		if s.products[i].Barcode == barcode {
			return i
		}
	}
	return -1
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Product, len(s.products))
	copy(out, s.products)
	return out, nil
}

func (s *Store) GetProduct(_ context.Context, barcode string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.productIndex(barcode)
	if i < 0 {
		return nil, store.ErrNotFound
	}
	p := s.products[i]
	return &p, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.productIndex(product.Barcode) >= 0 {
		return nil, store.ErrDuplicate
	}
	s.products = append(s.products, product)
	return &product, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.productIndex(product.Barcode)
	if i < 0 {
		return nil, store.ErrNotFound
	}
	s.products[i] = product
	return &product, nil
}

func (s *Store) RenameProductBarcode(_ context.Context, barcode string, newBarcode string) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.productIndex(barcode)
	if i < 0 {
		return nil, store.ErrNotFound
	}
	if barcode != newBarcode && s.productIndex(newBarcode) >= 0 {
		return nil, store.ErrDuplicate
	}
	s.products[i].Barcode = newBarcode
	p := s.products[i]
	return &p, nil
}

func (s *Store) DeleteProduct(_ context.Context, barcode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.productIndex(barcode)
	if i < 0 {
		return store.ErrNotFound
	}
	s.products = append(s.products[:i], s.products[i+1:]...)
	return nil
}

func (s *Store) AppendTransaction(_ context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactions = append(s.transactions, tx)
	return &tx, nil
}

func (s *Store) ListTransactions(_ context.Context, limit int) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Transaction, len(s.transactions))
	copy(out, s.transactions)
	// newest first
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) LastTransaction(_ context.Context) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.transactions) == 0 {
		return nil, store.ErrNotFound
	}
	tx := s.transactions[len(s.transactions)-1]
	return &tx, nil
}

func (s *Store) FindTransaction(_ context.Context, txBarcode string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.transactions {
		if s.transactions[i].TxBarcode == txBarcode {
			tx := s.transactions[i]
			return &tx, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) MarkRefunded(_ context.Context, txBarcode string, at time.Time) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.transactions {
		if s.transactions[i].TxBarcode != txBarcode {
			continue
		}
		if s.transactions[i].Status == domain.TxStatusRefunded {
			return nil, store.ErrAlreadyRefunded
		}
		s.transactions[i].Status = domain.TxStatusRefunded
		refundedAt := at
		s.transactions[i].RefundedAt = &refundedAt
		tx := s.transactions[i]
		return &tx, nil
	}
	return nil, store.ErrNotFound
}

// CashTotal sums the cash portion of every non-refunded transaction. Split
// sales contribute only what was paid in cash.
func (s *Store) CashTotal(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total int64
	for i := range s.transactions {
		if s.transactions[i].Status == domain.TxStatusRefunded {
			continue
		}
		for _, payment := range s.transactions[i].Payments {
			if payment.Method == domain.PaymentCash {
				total += payment.Amount
			}
		}
	}
	return total, nil
}

func (s *Store) GetBaseSafeAmt(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.baseSafeAmt, nil
}

func (s *Store) SetBaseSafeAmt(_ context.Context, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.baseSafeAmt = amount
	return nil
}

func (s *Store) GetStoreInfo(_ context.Context) (*domain.StoreInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info := s.storeInfo
	return &info, nil
}

func (s *Store) SaveStoreInfo(_ context.Context, info domain.StoreInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.storeInfo = info
	return nil
}
