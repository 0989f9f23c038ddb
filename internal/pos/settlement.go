package pos

import (
	"context"
	"errors"
	"time"

	"cupos/internal/domain"
	"cupos/internal/store"
)

var (
	ErrProductNotFound = errors.New("product not found")
	ErrLineNotFound    = errors.New("cart line not found")
	ErrCartEmpty       = errors.New("cart is empty")
	ErrCartNotEmpty    = errors.New("cart not empty")
	ErrInvalidQty      = errors.New("invalid quantity")
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrInvalidCard     = errors.New("invalid card number")
	ErrUnknownMethod   = errors.New("unknown payment method")
	ErrPaymentActive   = errors.New("payment already active")
	ErrAlreadySettled  = errors.New("sale already settled")
	ErrNotSettled      = errors.New("sale not settled")
	ErrNoFreeSlot      = errors.New("no free hold slot")
	ErrSlotEmpty       = errors.New("hold slot is empty")
)

// Catalog resolves a scan barcode to a product. Missing barcodes report
// store.ErrNotFound.
type Catalog interface {
	Lookup(ctx context.Context, barcode string) (*domain.Product, error)
}

// Mode governs how payments combine on one sale. In split mode cash and
// card can each contribute once toward the total; in single mode the first
// payment must cover the whole sale.
type Mode string

const (
	ModeSplit  Mode = "split"
	ModeSingle Mode = "single"
)

func ParseMode(raw string) Mode {
	if Mode(raw) == ModeSingle {
		return ModeSingle
	}
	return ModeSplit
}

// Engine applies cart and payment operations to a Session. Prices are never
// stored on the session; every total is resolved against the catalog at the
// moment it is needed, so a price edit mid-sale takes effect immediately.
type Engine struct {
	catalog Catalog
	repo    store.Repository
	mode    Mode
	now     func() time.Time
}

func NewEngine(catalog Catalog, repo store.Repository, mode Mode) *Engine {
	return &Engine{
		catalog: catalog,
		repo:    repo,
		mode:    mode,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// resolve prices the cart against the catalog. A line whose barcode has been
// deleted from the catalog fails the whole operation with ErrProductNotFound.
func (e *Engine) resolve(ctx context.Context, s *Session) ([]domain.SaleLineView, int64, error) {
	lines := s.Lines()
	views := make([]domain.SaleLineView, 0, len(lines))
	var total int64
	for i, line := range lines {
		product, err := e.catalog.Lookup(ctx, line.Barcode)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, 0, ErrProductNotFound
			}
			return nil, 0, err
		}
		amount := product.Price * int64(line.Qty)
		views = append(views, domain.SaleLineView{
			No:      i + 1,
			Barcode: line.Barcode,
			Name:    product.Name,
			Qty:     line.Qty,
			Price:   product.Price,
			Amount:  amount,
		})
		total += amount
	}
	return views, total, nil
}

func (e *Engine) View(ctx context.Context, s *Session) (*domain.SaleView, error) {
	views, total, err := e.resolve(ctx, s)
	if err != nil {
		return nil, err
	}
	paid := s.TotalPaid()
	due := total - paid
	if due < 0 {
		due = 0
	}
	return &domain.SaleView{
		Lines: views,
		Totals: domain.Totals{
			TotalQty:  s.TotalQty(),
			TotalAmt:  total,
			AmountDue: due,
		},
		Payments:     s.Payments(),
		Settled:      total > 0 && paid >= total,
		RestoredHold: s.RestoredHold(),
	}, nil
}

// Scan adds one unit of the product to the cart. The cart is frozen once a
// payment has been applied; toggle the payment off first.
func (e *Engine) Scan(ctx context.Context, s *Session, barcode string) error {
	if s.HasPayments() {
		return ErrPaymentActive
	}
	if barcode == "" {
		return ErrProductNotFound
	}
	if _, err := e.catalog.Lookup(ctx, barcode); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrProductNotFound
		}
		return err
	}
	s.addLine(barcode)
	return nil
}

func (e *Engine) SetQty(s *Session, index int, qty int) error {
	if s.HasPayments() {
		return ErrPaymentActive
	}
	if qty < 1 {
		return ErrInvalidQty
	}
	if !s.setQty(index, qty) {
		return ErrLineNotFound
	}
	return nil
}

// RemoveLine deletes a cart row. An out-of-range index is a no-op; the
// sales screen can send a stale row number right after a redraw.
func (e *Engine) RemoveLine(s *Session, index int) error {
	if s.HasPayments() {
		return ErrPaymentActive
	}
	s.removeLine(index)
	return nil
}

// ApplyCash credits min(received, amount due) toward the sale and returns
// the applied amount, the change owed, and whether the sale is now settled.
// Overpayment becomes change; it never inflates the amount paid.
func (e *Engine) ApplyCash(ctx context.Context, s *Session, received int64, receiptID string) (int64, int64, bool, error) {
	if s.Empty() {
		return 0, 0, false, ErrCartEmpty
	}
	if received <= 0 {
		return 0, 0, false, ErrInvalidAmount
	}
	_, total, err := e.resolve(ctx, s)
	if err != nil {
		return 0, 0, false, err
	}
	paid := s.TotalPaid()
	if paid >= total {
		return 0, 0, false, ErrAlreadySettled
	}
	if e.mode == ModeSingle && s.HasPayments() {
		return 0, 0, false, ErrPaymentActive
	}
	if s.paymentIndex(domain.PaymentCash) >= 0 {
		return 0, 0, false, ErrPaymentActive
	}
	due := total - paid
	if e.mode == ModeSingle && received < due {
		return 0, 0, false, ErrInvalidAmount
	}
	applied := received
	if applied > due {
		applied = due
	}
	change := received - applied
	s.payments = append(s.payments, domain.PaymentRecord{
		Method: domain.PaymentCash,
		Amount: applied,
		Details: domain.PaymentDetails{
			ReceivedAmt: received,
			ChangeAmt:   change,
			ReceiptID:   receiptID,
		},
	})
	return applied, change, paid+applied >= total, nil
}

// ApplyCard credits a card payment. Card numbers are exactly 12 digits. A
// card payment never exceeds the amount due, and in single mode it must
// cover the whole sale.
func (e *Engine) ApplyCard(ctx context.Context, s *Session, cardNumber string, amount int64) (bool, error) {
	if s.Empty() {
		return false, ErrCartEmpty
	}
	if !validCardNumber(cardNumber) {
		return false, ErrInvalidCard
	}
	_, total, err := e.resolve(ctx, s)
	if err != nil {
		return false, err
	}
	paid := s.TotalPaid()
	if paid >= total {
		return false, ErrAlreadySettled
	}
	if e.mode == ModeSingle && s.HasPayments() {
		return false, ErrPaymentActive
	}
	if s.paymentIndex(domain.PaymentCard) >= 0 {
		return false, ErrPaymentActive
	}
	due := total - paid
	if amount <= 0 || amount > due {
		return false, ErrInvalidAmount
	}
	if e.mode == ModeSingle && amount != due {
		return false, ErrInvalidAmount
	}
	s.payments = append(s.payments, domain.PaymentRecord{
		Method:  domain.PaymentCard,
		Amount:  amount,
		Details: domain.PaymentDetails{CardNumber: cardNumber},
	})
	return paid+amount >= total, nil
}

// TogglePaymentOff removes the payment of the given method from the session.
// Returns false when no such payment is active.
func (e *Engine) TogglePaymentOff(s *Session, method domain.PaymentMethod) (bool, error) {
	if method != domain.PaymentCash && method != domain.PaymentCard {
		return false, ErrUnknownMethod
	}
	index := s.paymentIndex(method)
	if index < 0 {
		return false, nil
	}
	s.removePayment(index)
	return true, nil
}

// Finalize turns a fully paid session into a persisted transaction and
// clears the session. Item names and prices are snapshotted from the catalog
// at this moment.
func (e *Engine) Finalize(ctx context.Context, s *Session) (*domain.Transaction, error) {
	if s.Empty() {
		return nil, ErrCartEmpty
	}
	views, total, err := e.resolve(ctx, s)
	if err != nil {
		return nil, err
	}
	if total <= 0 || s.TotalPaid() < total {
		return nil, ErrNotSettled
	}
	items := make([]domain.ReceiptItem, 0, len(views))
	for _, view := range views {
		items = append(items, domain.ReceiptItem{Name: view.Name, Qty: view.Qty, Price: view.Price})
	}
	payments := s.Payments()
	method := domain.PaymentSplit
	if len(payments) == 1 {
		method = payments[0].Method
	}
	now := e.now()
	code, err := e.uniqueTxBarcode(ctx, now)
	if err != nil {
		return nil, err
	}
	saved, err := e.repo.AppendTransaction(ctx, domain.Transaction{
		Timestamp:     now,
		TxBarcode:     code,
		Items:         items,
		TotalAmt:      total,
		PaymentMethod: method,
		Payments:      payments,
		Status:        domain.TxStatusActive,
	})
	if err != nil {
		return nil, err
	}
	s.Clear()
	return saved, nil
}

func validCardNumber(cardNumber string) bool {
	if len(cardNumber) != 12 {
		return false
	}
	for _, r := range cardNumber {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Refund marks a persisted transaction refunded. The outcome string follows
// the refund screen wording rather than an error, since all three cases are
// ordinary answers to the cashier.
func (e *Engine) Refund(ctx context.Context, txBarcode string) (string, error) {
	_, err := e.repo.MarkRefunded(ctx, txBarcode, e.now())
	switch {
	case err == nil:
		return domain.RefundSuccess, nil
	case errors.Is(err, store.ErrAlreadyRefunded):
		return domain.RefundAlreadyRefunded, nil
	case errors.Is(err, store.ErrNotFound):
		return domain.RefundNotFound, nil
	default:
		return "", err
	}
}
