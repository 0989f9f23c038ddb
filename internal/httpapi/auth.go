package httpapi

import (
	"log"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// PINManager gates the manager-only operations: refunds and safe balance
// edits. The PIN is bcrypt-hashed at startup and never kept in plain text.
// An unset PIN disables gating, which fits a single-operator terminal but
// gets a loud startup warning.
type PINManager struct {
	hashed string
}

func NewPINManager(pin string) *PINManager {
	pin = strings.TrimSpace(pin)
	if pin == "" {
		log.Println("[httpapi] WARNING: MANAGER_PIN not set; refunds and safe balance edits are not PIN-protected")
		return &PINManager{}
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		log.Printf("[httpapi] WARNING: failed to hash MANAGER_PIN, gating disabled: %v", err)
		return &PINManager{}
	}
	return &PINManager{hashed: string(hashed)}
}

func (m *PINManager) Enabled() bool {
	return m.hashed != ""
}

func (m *PINManager) Validate(pin string) bool {
	if !m.Enabled() {
		return true
	}
	input := strings.TrimSpace(pin)
	if input == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(m.hashed), []byte(input)) == nil
}
