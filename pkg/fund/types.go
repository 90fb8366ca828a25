// Package fund implements the settlement core of a pooled-capital fund:
// custody vault, two-phase investment ledger, internal liquidity engine and
// the venue adapter protocol that routes trades to external exchanges.
package fund

import (
	"math/big"
)

// WAD is the fixed-point base for all rates and share prices (1e18).
var WAD = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// AssetInfo describes a registered asset.
type AssetInfo struct {
	Symbol   string
	Decimals uint8
}

// mulDivFloor returns (a * b) / d rounded toward zero.
func mulDivFloor(a, b, d *big.Int) *big.Int {
	out := new(big.Int).Mul(a, b)
	return out.Div(out, d)
}

// mulDivCeil returns (a * b) / d rounded up. Used on amounts owed to the
// protocol so truncation can never under-charge.
func mulDivCeil(a, b, d *big.Int) *big.Int {
	out := new(big.Int).Mul(a, b)
	rem := new(big.Int)
	out.DivMod(out, d, rem)
	if rem.Sign() > 0 {
		out.Add(out, big.NewInt(1))
	}
	return out
}

func isValidAmount(amount *big.Int) bool {
	return amount != nil && amount.Sign() >= 0
}

func clone(amount *big.Int) *big.Int {
	if amount == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(amount)
}
