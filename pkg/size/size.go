// Package size implements overflow-safe arithmetic over byte counts.
//
// Device capacities and image sizes routinely exceed 2^53, the largest integer
// a float64 represents exactly, so every comparison and percentage involving
// them goes through math/big. Bytes values are immutable: no method mutates
// the receiver or its arguments, which makes them safe to share between
// snapshots and goroutines.
package size

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/imagewriter/flashctl/pkg/errors"
)

// ErrDivideByZero is returned by Divide when the divisor is zero.
var ErrDivideByZero = errors.New("size: division by zero")

// Bytes is an arbitrary-precision byte count. The zero value is 0.
type Bytes struct {
	v *big.Int
}

// Zero is the zero byte count.
var Zero = Bytes{}

// FromInt64 returns n as a byte count.
func FromInt64(n int64) Bytes {
	return Bytes{v: big.NewInt(n)}
}

// FromUint64 returns n as a byte count.
func FromUint64(n uint64) Bytes {
	return Bytes{v: new(big.Int).SetUint64(n)}
}

// FromBig copies n into a byte count. A nil n yields zero.
func FromBig(n *big.Int) Bytes {
	if n == nil {
		return Zero
	}
	return Bytes{v: new(big.Int).Set(n)}
}

// Parse reads a base-10 integer such as "5000000000000". Surrounding
// whitespace is ignored.
func Parse(s string) (Bytes, error) {
	n, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return Zero, fmt.Errorf("size: invalid byte count %q", s)
	}
	return Bytes{v: n}, nil
}

// MustParse is Parse for constants; it panics on malformed input.
func MustParse(s string) Bytes {
	b, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return b
}

func (b Bytes) int() *big.Int {
	if b.v == nil {
		return new(big.Int)
	}
	return b.v
}

// Big returns a copy of the underlying integer.
func (b Bytes) Big() *big.Int {
	return new(big.Int).Set(b.int())
}

// Sign returns -1, 0 or +1.
func (b Bytes) Sign() int {
	return b.int().Sign()
}

// IsZero reports whether b is 0.
func (b Bytes) IsZero() bool {
	return b.Sign() == 0
}

// Cmp compares b and o and returns -1, 0 or +1.
func (b Bytes) Cmp(o Bytes) int {
	return b.int().Cmp(o.int())
}

// Equal reports whether b and o hold the same count.
func (b Bytes) Equal(o Bytes) bool {
	return b.Cmp(o) == 0
}

// Int64 returns b as an int64 and whether it fit.
func (b Bytes) Int64() (int64, bool) {
	if !b.int().IsInt64() {
		return 0, false
	}
	return b.int().Int64(), true
}

// Uint64 returns b as a uint64 and whether it fit.
func (b Bytes) Uint64() (uint64, bool) {
	if !b.int().IsUint64() {
		return 0, false
	}
	return b.int().Uint64(), true
}

// String returns the base-10 representation.
func (b Bytes) String() string {
	return b.int().String()
}

// MarshalText implements encoding.TextMarshaler so byte counts survive JSON
// and YAML without losing precision.
func (b Bytes) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *Bytes) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// GreaterThan reports whether a > b.
func GreaterThan(a, b Bytes) bool {
	return a.Cmp(b) > 0
}

// Multiply returns a * b.
func Multiply(a, b Bytes) Bytes {
	return Bytes{v: new(big.Int).Mul(a.int(), b.int())}
}

// Divide returns floor(a / b). Operands are byte counts and therefore
// non-negative in practice; for negative operands the result still rounds
// towards negative infinity.
func Divide(a, b Bytes) (Bytes, error) {
	if b.IsZero() {
		return Zero, ErrDivideByZero
	}
	q, m := new(big.Int).DivMod(a.int(), b.int(), new(big.Int))
	// DivMod is Euclidean; adjust to floor for a negative divisor.
	if b.Sign() < 0 && m.Sign() != 0 {
		q.Sub(q, big.NewInt(1))
	}
	return Bytes{v: q}, nil
}

// Clamp bounds v to [lo, hi]. If hi < lo, hi wins.
func Clamp(v, lo, hi Bytes) Bytes {
	if v.Cmp(lo) < 0 {
		v = lo
	}
	if v.Cmp(hi) > 0 {
		v = hi
	}
	return v
}

// Max returns the larger of a and b.
func Max(a, b Bytes) Bytes {
	if GreaterThan(b, a) {
		return b
	}
	return a
}

// ToDisplayNumber converts b to a float64. The conversion rounds above 2^53
// and is only meant for bounded display values such as a percentage.
func ToDisplayNumber(b Bytes) float64 {
	f, _ := new(big.Float).SetInt(b.int()).Float64()
	return f
}
