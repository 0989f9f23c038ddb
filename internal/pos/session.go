package pos

import "cupos/internal/domain"

// Session is the mutable state of one in-progress sale: the cart lines and
// any payments applied so far. It is a plain data holder; all validation and
// catalog resolution happens in Engine. Callers serialize access.
type Session struct {
	lines        []domain.CartLine
	payments     []domain.PaymentRecord
	restoredHold bool
	restoredSlot int
}

func NewSession() *Session {
	return &Session{restoredSlot: -1}
}

func (s *Session) Empty() bool {
	return len(s.lines) == 0
}

func (s *Session) Lines() []domain.CartLine {
	out := make([]domain.CartLine, len(s.lines))
	copy(out, s.lines)
	return out
}

func (s *Session) Payments() []domain.PaymentRecord {
	out := make([]domain.PaymentRecord, len(s.payments))
	copy(out, s.payments)
	return out
}

func (s *Session) TotalQty() int {
	total := 0
	for _, line := range s.lines {
		total += line.Qty
	}
	return total
}

func (s *Session) TotalPaid() int64 {
	var total int64
	for _, payment := range s.payments {
		total += payment.Amount
	}
	return total
}

func (s *Session) HasPayments() bool {
	return len(s.payments) > 0
}

func (s *Session) paymentIndex(method domain.PaymentMethod) int {
	for i, payment := range s.payments {
		if payment.Method == method {
			return i
		}
	}
	return -1
}

// RestoredHold reports whether the current cart came out of a park slot.
// The hold button cancels such a cart instead of re-parking it.
func (s *Session) RestoredHold() bool {
	return s.restoredHold
}

// RestoredSlot is the park slot the current cart was restored from, or -1
// for a cart that was never parked.
func (s *Session) RestoredSlot() int {
	return s.restoredSlot
}

// addLine bumps the quantity of an existing line for barcode, or appends a
// new line with qty 1. Lines keep scan order; a repeat scan never reorders.
func (s *Session) addLine(barcode string) {
	for i := range s.lines {
		if s.lines[i].Barcode == barcode {
			s.lines[i].Qty++
			return
		}
	}
	s.lines = append(s.lines, domain.CartLine{Barcode: barcode, Qty: 1})
}

func (s *Session) setQty(index int, qty int) bool {
	if index < 0 || index >= len(s.lines) {
		return false
	}
	s.lines[index].Qty = qty
	return true
}

func (s *Session) removeLine(index int) bool {
	if index < 0 || index >= len(s.lines) {
		return false
	}
	s.lines = append(s.lines[:index], s.lines[index+1:]...)
	return true
}

func (s *Session) removePayment(index int) {
	s.payments = append(s.payments[:index], s.payments[index+1:]...)
}

// Clear resets the session to an empty cart with no payments.
func (s *Session) Clear() {
	s.lines = nil
	s.payments = nil
	s.restoredHold = false
	s.restoredSlot = -1
}

// restore replaces the cart with lines taken from a park slot. Payments are
// never parked, so the restored session starts with none.
func (s *Session) restore(lines []domain.CartLine, slot int) {
	s.lines = make([]domain.CartLine, len(lines))
	copy(s.lines, lines)
	s.payments = nil
	s.restoredHold = true
	s.restoredSlot = slot
}
