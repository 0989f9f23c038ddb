package store

import (
	"context"
	"errors"
	"time"

	"cupos/internal/domain"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrDuplicate       = errors.New("already exists")
	ErrAlreadyRefunded = errors.New("already refunded")
	ErrInvalidProduct  = errors.New("invalid product")
)

type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, barcode string) (*domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	RenameProductBarcode(ctx context.Context, barcode string, newBarcode string) (*domain.Product, error)
	DeleteProduct(ctx context.Context, barcode string) error

	AppendTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error)
	ListTransactions(ctx context.Context, limit int) ([]domain.Transaction, error)
	LastTransaction(ctx context.Context) (*domain.Transaction, error)
	FindTransaction(ctx context.Context, txBarcode string) (*domain.Transaction, error)
	MarkRefunded(ctx context.Context, txBarcode string, at time.Time) (*domain.Transaction, error)
	CashTotal(ctx context.Context) (int64, error)

	GetBaseSafeAmt(ctx context.Context) (int64, error)
	SetBaseSafeAmt(ctx context.Context, amount int64) error

	GetStoreInfo(ctx context.Context) (*domain.StoreInfo, error)
	SaveStoreInfo(ctx context.Context, info domain.StoreInfo) error
}
