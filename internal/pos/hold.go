package pos

import "cupos/internal/domain"

// HoldSlots is the number of park positions on the welcome screen.
const HoldSlots = 3

// HoldManager keeps up to three parked carts. Only cart lines are parked;
// a cart with active payments cannot be held. Callers serialize access the
// same way they do for Session.
type HoldManager struct {
	slots [HoldSlots][]domain.CartLine
}

func NewHoldManager() *HoldManager {
	return &HoldManager{}
}

// Park moves the session's cart into the lowest empty slot and clears the
// session. Returns the slot index taken.
func (h *HoldManager) Park(s *Session) (int, error) {
	if s.Empty() {
		return 0, ErrCartEmpty
	}
	if s.HasPayments() {
		return 0, ErrPaymentActive
	}
	for i := range h.slots {
		if h.slots[i] == nil {
			h.slots[i] = s.Lines()
			s.Clear()
			return i, nil
		}
	}
	return 0, ErrNoFreeSlot
}

// Restore moves a parked cart back into the session and frees the slot. The
// session must be empty; a restore never merges into an active cart.
func (h *HoldManager) Restore(index int, s *Session) error {
	if index < 0 || index >= HoldSlots {
		return ErrSlotEmpty
	}
	if !s.Empty() || s.HasPayments() {
		return ErrCartNotEmpty
	}
	lines := h.slots[index]
	if lines == nil {
		return ErrSlotEmpty
	}
	s.restore(lines, index)
	h.slots[index] = nil
	return nil
}

func (h *HoldManager) Slots() []domain.HoldSlotView {
	views := make([]domain.HoldSlotView, 0, HoldSlots)
	for i, lines := range h.slots {
		view := domain.HoldSlotView{Index: i, Occupied: lines != nil, Lines: len(lines)}
		for _, line := range lines {
			view.TotalQty += line.Qty
		}
		views = append(views, view)
	}
	return views
}
