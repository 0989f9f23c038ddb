package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"cupos/internal/domain"
	"cupos/internal/store"
	"cupos/internal/store/memory"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(4)
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// ensureSchema creates the tables a fresh database needs. The ord column on
// products preserves catalog registration order across barcode renames.
// Statements run one at a time; the pgx driver prepares each query and
// rejects multi-statement strings.
func (s *Store) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS products (
			barcode  TEXT PRIMARY KEY,
			name     TEXT NOT NULL,
			price    BIGINT NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			ord      BIGSERIAL
		)`,
		`CREATE TABLE IF NOT EXISTS transactions (
			tx_barcode     TEXT PRIMARY KEY,
			ts             TIMESTAMPTZ NOT NULL,
			total_amt      BIGINT NOT NULL,
			payment_method TEXT NOT NULL,
			status         TEXT NOT NULL,
			refunded_at    TIMESTAMPTZ,
			items          JSONB NOT NULL,
			payments       JSONB NOT NULL,
			ord            BIGSERIAL
		)`,
		`CREATE TABLE IF NOT EXISTS pos_settings (
			key   TEXT PRIMARY KEY,
			value JSONB NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT barcode, name, price, category
		FROM products
		ORDER BY ord
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.Barcode, &p.Name, &p.Price, &p.Category); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, barcode string) (*domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT barcode, name, price, category
		FROM products
		WHERE barcode = $1
	`, barcode).Scan(&p.Barcode, &p.Name, &p.Price, &p.Category)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (barcode, name, price, category)
		VALUES ($1,$2,$3,$4)
	`, product.Barcode, product.Name, product.Price, product.Category)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}
	created := product
	return &created, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE products SET name = $2, price = $3, category = $4
		WHERE barcode = $1
	`, product.Barcode, product.Name, product.Price, product.Category)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	updated := product
	return &updated, nil
}

func (s *Store) RenameProductBarcode(ctx context.Context, barcode string, newBarcode string) (*domain.Product, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE products SET barcode = $2
		WHERE barcode = $1
	`, barcode, newBarcode)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetProduct(ctx, newBarcode)
}

func (s *Store) DeleteProduct(ctx context.Context, barcode string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE barcode = $1`, barcode)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) AppendTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	items, err := json.Marshal(tx.Items)
	if err != nil {
		return nil, err
	}
	payments, err := json.Marshal(tx.Payments)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO transactions (tx_barcode, ts, total_amt, payment_method, status, refunded_at, items, payments)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, tx.TxBarcode, tx.Timestamp, tx.TotalAmt, tx.PaymentMethod, tx.Status, tx.RefundedAt, items, payments)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}
	saved := tx
	return &saved, nil
}

func scanTransaction(scan func(dest ...any) error) (*domain.Transaction, error) {
	var (
		tx       domain.Transaction
		items    []byte
		payments []byte
	)
	if err := scan(&tx.TxBarcode, &tx.Timestamp, &tx.TotalAmt, &tx.PaymentMethod, &tx.Status, &tx.RefundedAt, &items, &payments); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(items, &tx.Items); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payments, &tx.Payments); err != nil {
		return nil, err
	}
	return &tx, nil
}

const transactionColumns = `tx_barcode, ts, total_amt, payment_method, status, refunded_at, items, payments`

func (s *Store) ListTransactions(ctx context.Context, limit int) ([]domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions ORDER BY ord DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transactions := make([]domain.Transaction, 0, 64)
	for rows.Next() {
		tx, err := scanTransaction(rows.Scan)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, *tx)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return transactions, nil
}

func (s *Store) LastTransaction(ctx context.Context) (*domain.Transaction, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions ORDER BY ord DESC LIMIT 1`)
	tx, err := scanTransaction(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return tx, nil
}

func (s *Store) FindTransaction(ctx context.Context, txBarcode string) (*domain.Transaction, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE tx_barcode = $1`, txBarcode)
	tx, err := scanTransaction(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return tx, nil
}

func (s *Store) MarkRefunded(ctx context.Context, txBarcode string, at time.Time) (*domain.Transaction, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE transactions SET status = $2, refunded_at = $3
		WHERE tx_barcode = $1 AND status <> $2
	`, txBarcode, domain.TxStatusRefunded, at)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		// distinguish missing from already refunded
		tx, err := s.FindTransaction(ctx, txBarcode)
		if err != nil {
			return nil, err
		}
		if tx.Status == domain.TxStatusRefunded {
			return nil, store.ErrAlreadyRefunded
		}
		return nil, store.ErrNotFound
	}
	return s.FindTransaction(ctx, txBarcode)
}

func (s *Store) CashTotal(ctx context.Context) (int64, error) {
	var total sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM((p->>'amount')::BIGINT), 0)
		FROM transactions t, jsonb_array_elements(t.payments) p
		WHERE t.status <> $1 AND p->>'method' = $2
	`, domain.TxStatusRefunded, domain.PaymentCash).Scan(&total)
	if err != nil {
		return 0, err
	}
	return total.Int64, nil
}

func (s *Store) getSetting(ctx context.Context, key string, v any) error {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM pos_settings WHERE key = $1`, key).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return err
	}
	return json.Unmarshal(raw, v)
}

func (s *Store) putSetting(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pos_settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
	`, key, raw)
	return err
}

func (s *Store) GetBaseSafeAmt(ctx context.Context) (int64, error) {
	var amount int64
	err := s.getSetting(ctx, "safe_base_amt", &amount)
	if errors.Is(err, store.ErrNotFound) {
		return 472000, nil
	}
	if err != nil {
		return 0, err
	}
	return amount, nil
}

func (s *Store) SetBaseSafeAmt(ctx context.Context, amount int64) error {
	return s.putSetting(ctx, "safe_base_amt", amount)
}

func (s *Store) GetStoreInfo(ctx context.Context) (*domain.StoreInfo, error) {
	var info domain.StoreInfo
	err := s.getSetting(ctx, "store_info", &info)
	if errors.Is(err, store.ErrNotFound) {
		info = memory.DefaultStoreInfo()
		return &info, nil
	}
	if err != nil {
		return nil, err
	}
	return &info, nil
}

func (s *Store) SaveStoreInfo(ctx context.Context, info domain.StoreInfo) error {
	return s.putSetting(ctx, "store_info", info)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
