package poolmodel

import (
	"database/sql/driver"
	"fmt"

	"github.com/shopspring/decimal"
)

// satoshiScale is the number of decimal places a chain's native amount is
// denominated in. Every chain in this family uses 8, the same as the
// Bitcoin-derived amounts the original wallet RPCs report.
const satoshiScale = 8

func init() {
	// Share totals reach 15+ digits of sats; the default division
	// precision of 16 would round inside intermediate fractions.
	if decimal.DivisionPrecision < 28 {
		decimal.DivisionPrecision = 28
	}
}

// Money is a fixed-point amount of a chain's native currency. It wraps
// decimal.Decimal so every arithmetic step in the reward and payout paths
// carries full precision instead of float64's accumulation error, and so
// rounding only ever happens at the single point callers ask for it.
type Money struct {
	d decimal.Decimal
}

// ZeroMoney is the additive identity.
var ZeroMoney = Money{d: decimal.Zero}

// NewMoneyFromSats builds a Money from an integer satoshi count, the unit
// every node RPC reports balances and outputs in.
func NewMoneyFromSats(sats int64) Money {
	return Money{d: decimal.New(sats, -satoshiScale)}
}

// NewMoneyFromString parses a decimal string such as "1.50000000".
func NewMoneyFromString(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, err
	}
	return Money{d: d}, nil
}

// NewMoneyFromShares builds a Money directly from a share count. Shares and
// Money are both arbitrary-precision decimals; keeping them distinct types
// stops a share count from being spent as an amount by accident.
func NewMoneyFromShares(s Shares) Money {
	return Money{d: s.d}
}

func (m Money) Add(o Money) Money      { return Money{d: m.d.Add(o.d)} }
func (m Money) Sub(o Money) Money      { return Money{d: m.d.Sub(o.d)} }
func (m Money) Mul(o Money) Money      { return Money{d: m.d.Mul(o.d)} }
func (m Money) IsZero() bool           { return m.d.IsZero() }
func (m Money) IsNegative() bool       { return m.d.IsNegative() }
func (m Money) GreaterThan(o Money) bool { return m.d.GreaterThan(o.d) }
func (m Money) LessThan(o Money) bool  { return m.d.LessThan(o.d) }

// Div divides by a Shares ratio, used to turn a share fraction into a
// proportional amount. Division by zero shares is a caller bug, not a
// recoverable runtime condition, mirroring the panic decimal.Div itself
// raises.
func (m Money) Div(s Shares) Money {
	return Money{d: m.d.Div(s.d)}
}

// RoundDownSats truncates to 8 decimal places, rounding toward zero. This is
// the only rounding rule used anywhere reward or payout amounts are
// finalized, so that summed member rewards never exceed the amount they
// were split from.
func (m Money) RoundDownSats() Money {
	return Money{d: m.d.RoundDown(satoshiScale)}
}

// Sats returns the amount as an integer satoshi count. The caller is
// responsible for having rounded first; Sats truncates any remaining
// fractional satoshi.
func (m Money) Sats() int64 {
	return m.d.Shift(satoshiScale).IntPart()
}

func (m Money) String() string { return m.d.StringFixed(satoshiScale) }

func (m Money) Decimal() decimal.Decimal { return m.d }

// Value implements driver.Valuer so a Money can be written to a DECIMAL
// column through database/sql or sqlx without an intermediate conversion.
func (m Money) Value() (driver.Value, error) {
	return m.d.Value()
}

// Scan implements sql.Scanner for reading a DECIMAL column back into Money.
func (m *Money) Scan(src interface{}) error {
	return m.d.Scan(src)
}

// MarshalJSON renders Money as its plain decimal string, matching how the
// original node RPCs and the webhook payloads represent amounts.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", m.String())), nil
}

// UnmarshalJSON accepts either a JSON string or a bare JSON number.
func (m *Money) UnmarshalJSON(data []byte) error {
	return m.d.UnmarshalJSON(data)
}

// Shares is an arbitrary-precision work-share count. It is kept distinct
// from Money so a share total can never be passed where an amount is
// expected without an explicit conversion.
type Shares struct {
	d decimal.Decimal
}

var ZeroShares = Shares{d: decimal.Zero}

func NewShares(s string) (Shares, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Shares{}, err
	}
	return Shares{d: d}, nil
}

func NewSharesFromFloat(f float64) Shares {
	return Shares{d: decimal.NewFromFloat(f)}
}

// NewSharesFromSats builds a Shares count from an integer satoshi amount.
// Work is credited in sats: one sat of eligible staking balance observed at
// one block is one share.
func NewSharesFromSats(sats int64) Shares {
	return Shares{d: decimal.NewFromInt(sats)}
}

func (s Shares) Add(o Shares) Shares { return Shares{d: s.d.Add(o.d)} }
func (s Shares) IsZero() bool        { return s.d.IsZero() }
func (s Shares) String() string      { return s.d.String() }

func (s Shares) Value() (driver.Value, error) {
	return s.d.Value()
}

func (s *Shares) Scan(src interface{}) error {
	return s.d.Scan(src)
}

func (s Shares) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", s.String())), nil
}

func (s *Shares) UnmarshalJSON(data []byte) error {
	return s.d.UnmarshalJSON(data)
}

// Fraction returns s/total, a dimensionless ratio used to scale a Money
// amount: reward := amount.Div(total).Mul(NewMoneyFromShares(s)).
func (s Shares) Fraction(total Shares) decimal.Decimal {
	return s.d.Div(total.d)
}
