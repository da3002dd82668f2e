// Package format renders portfolio values for text output.
package format

import (
	"math"
	"regexp"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

const explorerTxBaseURL = "https://explorer.perawallet.app/tx/"

// Inner transactions carry synthetic ids such as "ABC:inner:0" which the
// explorer cannot resolve.
var explorerTxID = regexp.MustCompile(`^[A-Z2-7]+$`)

// USD formats a dollar amount rounded to cents, e.g. "$1,234.56".
// Missing and non-finite values render as "-".
func USD(value *float64) string {
	if value == nil || math.IsNaN(*value) || math.IsInf(*value, 0) {
		return "-"
	}
	cur := money.New(0, money.USD).Currency()
	cents := decimal.NewFromFloat(*value).Round(int32(cur.Fraction)).Shift(int32(cur.Fraction))
	return money.New(cents.IntPart(), money.USD).Display()
}

// USDValue is USD for a plain float
func USDValue(value float64) string {
	return USD(&value)
}

// ShortAddress keeps the first and last six characters of long ids
func ShortAddress(address string) string {
	if len(address) <= 12 {
		return address
	}
	return address[:6] + "..." + address[len(address)-6:]
}

// ExplorerTxURL links a transaction id to the block explorer. It returns ""
// for ids the explorer cannot resolve.
func ExplorerTxURL(txID string) string {
	if !explorerTxID.MatchString(txID) {
		return ""
	}
	return explorerTxBaseURL + txID
}
