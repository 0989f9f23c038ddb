package domain

import "time"

// Product is one catalog entry, keyed by its scan barcode.
type Product struct {
	Barcode  string `json:"barcode"`
	Name     string `json:"name"`
	Price    int64  `json:"price"`
	Category string `json:"category"`
}

type ProductCreateRequest struct {
	Barcode  string `json:"barcode"`
	Name     string `json:"name"`
	Price    int64  `json:"price"`
	Category string `json:"category"`
}

type ProductUpdateRequest struct {
	Name     *string `json:"name,omitempty"`
	Price    *int64  `json:"price,omitempty"`
	Category *string `json:"category,omitempty"`
}

type ProductRenameRequest struct {
	NewBarcode string `json:"new_barcode"`
}

// CartLine is one distinct product in the current sale. Barcodes are
// pairwise distinct within a cart; a repeat scan bumps Qty instead of
// appending a second line.
type CartLine struct {
	Barcode string `json:"barcode"`
	Qty     int    `json:"qty"`
}

type PaymentMethod string

const (
	PaymentCash PaymentMethod = "Cash"
	PaymentCard PaymentMethod = "Card"
	// PaymentSplit marks a finalized transaction paid with more than one
	// method. Individual payments keep their own method in Payments.
	PaymentSplit PaymentMethod = "Split"
)

// PaymentDetails is method-specific data carried through to the persisted
// transaction unchanged. The settlement logic never reads it back.
type PaymentDetails struct {
	CardNumber  string `json:"card_number,omitempty"`
	ReceivedAmt int64  `json:"received_amt,omitempty"`
	ChangeAmt   int64  `json:"change_amt,omitempty"`
	ReceiptID   string `json:"receipt_id,omitempty"`
}

// PaymentRecord is one applied payment event. Amount is what was credited
// toward the sale; cash overpayment lives in Details.ChangeAmt only.
type PaymentRecord struct {
	Method  PaymentMethod  `json:"method"`
	Amount  int64          `json:"amount"`
	Details PaymentDetails `json:"details"`
}

// ReceiptItem is a cart line snapshotted at finalize time with the name and
// unit price resolved from the catalog.
type ReceiptItem struct {
	Name  string `json:"name"`
	Qty   int    `json:"qty"`
	Price int64  `json:"price"`
}

const (
	TxStatusActive   = "Active"
	TxStatusRefunded = "Refunded"
)

// Transaction is an immutable, persisted record of a completed sale. Only
// Status and RefundedAt may change after append, Active -> Refunded exactly
// once.
type Transaction struct {
	Timestamp     time.Time       `json:"timestamp"`
	TxBarcode     string          `json:"tx_barcode"`
	Items         []ReceiptItem   `json:"items"`
	TotalAmt      int64           `json:"total_amt"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	Payments      []PaymentRecord `json:"payments"`
	Status        string          `json:"status"`
	RefundedAt    *time.Time      `json:"refund_timestamp,omitempty"`
}

// StoreInfo is the receipt header block, editable from the settings screen.
type StoreInfo struct {
	StoreName string `json:"store_name"`
	BizNum    string `json:"biz_num"`
	Address   string `json:"address"`
	Owner     string `json:"owner"`
	Tel       string `json:"tel"`
}

// Totals are the derived numbers the sales screen redraws from after every
// cart or payment mutation. TotalDiscount is always 0 in the current scope
// but stays on the wire for the discount column.
type Totals struct {
	TotalQty      int   `json:"total_qty"`
	TotalAmt      int64 `json:"total_amt"`
	TotalDiscount int64 `json:"total_discount"`
	AmountDue     int64 `json:"amount_due"`
}

// SaleLineView is a cart line resolved against the catalog for display.
type SaleLineView struct {
	No       int    `json:"no"`
	Barcode  string `json:"barcode"`
	Name     string `json:"name"`
	Qty      int    `json:"qty"`
	Price    int64  `json:"price"`
	Amount   int64  `json:"amount"`
	Discount int64  `json:"discount"`
}

type SaleView struct {
	Lines        []SaleLineView  `json:"lines"`
	Totals       Totals          `json:"totals"`
	Payments     []PaymentRecord `json:"payments"`
	Settled      bool            `json:"settled"`
	RestoredHold bool            `json:"restored_hold"`
}

type ScanRequest struct {
	Barcode string `json:"barcode"`
}

type SetLineQtyRequest struct {
	Qty int `json:"qty"`
}

type CashPaymentRequest struct {
	ReceivedAmt int64  `json:"received_amt"`
	ReceiptID   string `json:"receipt_id,omitempty"`
}

type CashPaymentResponse struct {
	AppliedAmt  int64        `json:"applied_amt"`
	ChangeAmt   int64        `json:"change_amt"`
	Settled     bool         `json:"settled"`
	Transaction *Transaction `json:"transaction,omitempty"`
}

type CardPaymentRequest struct {
	CardNumber string `json:"card_number"`
	Amount     int64  `json:"amount"`
}

type CardPaymentResponse struct {
	Settled     bool         `json:"settled"`
	Transaction *Transaction `json:"transaction,omitempty"`
}

type TogglePaymentResponse struct {
	Removed bool `json:"removed"`
}

// HoldSlotView is what the welcome screen renders on the three park-slot
// indicator buttons.
type HoldSlotView struct {
	Index    int  `json:"index"`
	Occupied bool `json:"occupied"`
	Lines    int  `json:"lines"`
	TotalQty int  `json:"total_qty"`
}

// HoldActionResponse reports what the hold button actually did: parked the
// cart into a slot, or cancelled a restored hold outright.
type HoldActionResponse struct {
	Parked    bool `json:"parked"`
	SlotIndex int  `json:"slot_index"`
	Cancelled bool `json:"cancelled"`
}

type RefundRequest struct {
	TxBarcode  string `json:"tx_barcode"`
	ManagerPIN string `json:"manager_pin,omitempty"`
}

const (
	RefundSuccess         = "Success"
	RefundAlreadyRefunded = "AlreadyRefunded"
	RefundNotFound        = "NotFound"
)

type RefundResponse struct {
	TxBarcode string `json:"tx_barcode"`
	Result    string `json:"result"`
}

// SafeBalance reports the cash-in-safe figure on the welcome dashboard:
// the stored base amount plus the cash total of non-refunded transactions.
type SafeBalance struct {
	BaseAmt   int64 `json:"base_amt"`
	CashTotal int64 `json:"cash_total"`
	Total     int64 `json:"total"`
}

type SafeBalanceUpdateRequest struct {
	Amount     int64  `json:"amount"`
	ManagerPIN string `json:"manager_pin,omitempty"`
}

type ReceiptResponse struct {
	TxBarcode    string `json:"tx_barcode"`
	HTML         string `json:"html,omitempty"`
	EscposBase64 string `json:"escpos_base64,omitempty"`
	PreviewText  string `json:"preview_text,omitempty"`
	FileName     string `json:"file_name,omitempty"`
}

type CashDrawerOpenResponse struct {
	CommandBase64 string `json:"command_base64"`
	Note          string `json:"note"`
}
