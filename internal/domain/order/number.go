package order

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

// numberPrefix brands every human-shareable order number.
const numberPrefix = "PC"

var numberSuffixSpace = big.NewInt(1_000_000)

// NewNumber mints a candidate order number: a date-stamped prefix plus a
// random six-digit suffix, e.g. PC-20260901-042517. Numbers are deliberately
// not sequential so they cannot be enumerated; uniqueness is enforced by the
// database constraint with regenerate-and-retry on collision.
func NewNumber(now time.Time) string {
	n, err := rand.Int(rand.Reader, numberSuffixSpace)
	if err != nil {
		// crypto/rand only fails when the platform entropy source is broken.
		panic(fmt.Sprintf("order number entropy: %v", err))
	}
	return fmt.Sprintf("%s-%s-%06d", numberPrefix, now.Format("20060102"), n.Int64())
}
