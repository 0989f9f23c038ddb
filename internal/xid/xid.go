package xid

import (
	"crypto/rand"
	"math/big"
	"time"
)

// Digits returns n random decimal digits as a string. Used for the random
// tail of transaction barcodes.
func Digits(n int) string {
	out := make([]byte, n)
	for i := range out {
		v, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			out[i] = byte('0' + time.Now().UnixNano()%10)
			continue
		}
		out[i] = byte('0' + v.Int64())
	}
	return string(out)
}
