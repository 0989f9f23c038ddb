package pos

import (
	"context"
	"errors"
	"time"

	"cupos/internal/store"
	"cupos/internal/xid"
)

// txBarcode builds a 16-character transaction barcode: the second-resolution
// timestamp (yymmddhhmmss) plus four random digits. Two sales in the same
// second differ only in the random tail.
func txBarcode(t time.Time) string {
	return t.Format("060102150405") + xid.Digits(4)
}

// ErrBarcodeExhausted means three generated barcodes in a row already
// existed. That only happens when the random source is broken; a duplicate
// barcode would make later refund lookups ambiguous, so the sale fails
// instead.
var ErrBarcodeExhausted = errors.New("could not generate a unique transaction barcode")

// uniqueTxBarcode regenerates the random tail when the candidate collides
// with a stored transaction, up to three tries.
func (e *Engine) uniqueTxBarcode(ctx context.Context, t time.Time) (string, error) {
	for i := 0; i < 3; i++ {
		code := txBarcode(t)
		_, err := e.repo.FindTransaction(ctx, code)
		if errors.Is(err, store.ErrNotFound) {
			return code, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", ErrBarcodeExhausted
}
