package jsonfile

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"cupos/internal/domain"
	"cupos/internal/store"
	"cupos/internal/store/memory"
)

const (
	productsFile     = "products.json"
	transactionsFile = "transactions.json"
	safeConfigFile   = "safe_config.json"
	storeInfoFile    = "store_info.json"
)

type safeConfig struct {
	SafeBaseAmt int64 `json:"safe_base_amt"`
}

// Store is the flat-file Repository a single terminal runs on. All state is
// kept in memory and flushed to disk on every mutation; a mutation whose
// flush fails is rolled back in memory, so memory and disk never disagree.
// A corrupt or missing file is replaced with defaults rather than failing
// startup, so a terminal always comes up sellable.
type Store struct {
	mu           sync.RWMutex
	dir          string
	products     []domain.Product
	transactions []domain.Transaction
	safe         safeConfig
	info         domain.StoreInfo
}

func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	s := &Store{dir: dir}

	if !loadJSON(filepath.Join(dir, productsFile), &s.products) {
		s.products = memory.DefaultProducts()
		if err := s.saveProducts(); err != nil {
			return nil, err
		}
	}
	if !loadJSON(filepath.Join(dir, transactionsFile), &s.transactions) {
		s.transactions = []domain.Transaction{}
		if err := s.saveTransactions(); err != nil {
			return nil, err
		}
	}
	if !loadJSON(filepath.Join(dir, safeConfigFile), &s.safe) {
		s.safe = safeConfig{SafeBaseAmt: 472000}
		if err := s.saveSafeConfig(); err != nil {
			return nil, err
		}
	}
	if !loadJSON(filepath.Join(dir, storeInfoFile), &s.info) {
		s.info = memory.DefaultStoreInfo()
		if err := s.saveStoreInfo(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// loadJSON reports whether path held usable JSON. Corrupt content is logged
// and treated the same as a missing file.
func loadJSON(path string, v any) bool {
	raw, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	if err := json.Unmarshal(raw, v); err != nil {
		log.Printf("[jsonfile-store] WARN: %s is corrupt, falling back to defaults: %v", filepath.Base(path), err)
		return false
	}
	return true
}

// writeJSON writes to a temp file in the same directory and renames it over
// the target, so a crash mid-write never leaves a half-written data file.
func writeJSON(path string, v any) error {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

func (s *Store) saveProducts() error {
	return writeJSON(filepath.Join(s.dir, productsFile), s.products)
}

func (s *Store) saveTransactions() error {
	return writeJSON(filepath.Join(s.dir, transactionsFile), s.transactions)
}

func (s *Store) saveSafeConfig() error {
	return writeJSON(filepath.Join(s.dir, safeConfigFile), s.safe)
}

func (s *Store) saveStoreInfo() error {
	return writeJSON(filepath.Join(s.dir, storeInfoFile), s.info)
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
	if err := s.saveProducts(); err != nil {
		s.products = s.products[:len(s.products)-1]
		return nil, err
	}
	return &product, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.productIndex(product.Barcode)
	if i < 0 {
		return nil, store.ErrNotFound
	}
	prev := s.products[i]
	s.products[i] = product
	if err := s.saveProducts(); err != nil {
		s.products[i] = prev
		return nil, err
	}
	return &product, nil
}

// RenameProductBarcode changes a product's key in place, so the catalog
// keeps its registration order across the rename.
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
	if err := s.saveProducts(); err != nil {
		s.products[i].Barcode = barcode
		return nil, err
	}
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
	prev := s.products
	next := make([]domain.Product, 0, len(prev)-1)
	next = append(next, prev[:i]...)
	next = append(next, prev[i+1:]...)
	s.products = next
	if err := s.saveProducts(); err != nil {
		s.products = prev
		return err
	}
	return nil
}

func (s *Store) AppendTransaction(_ context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactions = append(s.transactions, tx)
	if err := s.saveTransactions(); err != nil {
		s.transactions = s.transactions[:len(s.transactions)-1]
		return nil, err
	}
	return &tx, nil
}

func (s *Store) ListTransactions(_ context.Context, limit int) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Transaction, len(s.transactions))
	copy(out, s.transactions)
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
		prev := s.transactions[i]
		s.transactions[i].Status = domain.TxStatusRefunded
		refundedAt := at
		s.transactions[i].RefundedAt = &refundedAt
		if err := s.saveTransactions(); err != nil {
			s.transactions[i] = prev
			return nil, err
		}
		tx := s.transactions[i]
		return &tx, nil
	}
	return nil, store.ErrNotFound
}

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
	return s.safe.SafeBaseAmt, nil
}

func (s *Store) SetBaseSafeAmt(_ context.Context, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.safe.SafeBaseAmt
	s.safe.SafeBaseAmt = amount
	if err := s.saveSafeConfig(); err != nil {
		s.safe.SafeBaseAmt = prev
		return err
	}
	return nil
}

func (s *Store) GetStoreInfo(_ context.Context) (*domain.StoreInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info := s.info
	return &info, nil
}

func (s *Store) SaveStoreInfo(_ context.Context, info domain.StoreInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.info
	s.info = info
	if err := s.saveStoreInfo(); err != nil {
		s.info = prev
		return err
	}
	return nil
}
