package progress

import (
	"math/big"

	"github.com/imagewriter/flashctl/pkg/size"
)

var (
	decimalUnits = []string{"KB", "MB", "GB", "TB"}
	binaryUnits  = []string{"KiB", "MiB", "GiB", "TiB"}
)

// FormatBytes renders b with one decimal in the largest unit whose scaled
// value is at least 1: "5.0 TB", "1.5 KiB", "999.0 B". binary selects
// 1024-based units.
func FormatBytes(b size.Bytes, binary bool) string {
	units, base := decimalUnits, int64(1000)
	if binary {
		units, base = binaryUnits, 1024
	}

	divisor := big.NewInt(base)
	if b.Big().CmpAbs(divisor) < 0 {
		return b.String() + ".0 B"
	}

	unit := 0
	next := new(big.Int).Mul(divisor, big.NewInt(base))
	for unit < len(units)-1 && b.Big().CmpAbs(next) >= 0 {
		divisor.Set(next)
		next.Mul(next, big.NewInt(base))
		unit++
	}

	scaled := new(big.Float).Quo(new(big.Float).SetInt(b.Big()), new(big.Float).SetInt(divisor))
	return scaled.Text('f', 1) + " " + units[unit]
}

