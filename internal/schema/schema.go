package schema

// PriceScale is the number of decimal places carried by Price values.
// A Price of 1_0000 equals 1.0 in display units.
const PriceScale = 4

// PriceUnit is the scaling factor implied by PriceScale.
const PriceUnit int64 = 10000

// RateScale is the number of decimal places carried by FX Rate values.
const RateScale = 8

// RateUnit is the scaling factor implied by RateScale.
const RateUnit int64 = 100000000

// Price is a scaled integer with PriceScale decimal places.
type Price int64

// Quantity is a whole number of shares or contracts.
type Quantity int64

// Notional is a cash amount scaled like Price.
type Notional int64

// Fee is a cash amount scaled like Price.
type Fee int64

// Rate is an FX conversion rate scaled with RateScale decimal places.
type Rate int64

// Float converts a scaled price to display units.
func (p Price) Float() float64 {
	return float64(p) / float64(PriceUnit)
}

// Float converts a scaled notional to display units.
func (n Notional) Float() float64 {
	return float64(n) / float64(PriceUnit)
}

// Float converts a scaled fee to display units.
func (f Fee) Float() float64 {
	return float64(f) / float64(PriceUnit)
}

// Float converts a scaled rate to display units.
func (r Rate) Float() float64 {
	return float64(r) / float64(RateUnit)
}

// PriceFromFloat converts display units into a scaled price, rounding to the
// nearest tick. Ties round away from zero so buy/sell conversions stay
// symmetric.
func PriceFromFloat(v float64) Price {
	if v >= 0 {
		return Price(v*float64(PriceUnit) + 0.5)
	}
	return Price(v*float64(PriceUnit) - 0.5)
}

// MulPrice computes price * qty as a Notional. Quantities are unscaled so no
// rescaling is needed.
func MulPrice(p Price, q Quantity) Notional {
	return Notional(int64(p) * int64(q))
}

// Convert applies an FX rate to a notional, rounding half away from zero.
func Convert(n Notional, r Rate) Notional {
	v := int64(n)
	rate := int64(r)
	neg := false
	if v < 0 {
		v = -v
		neg = true
	}
	out := (v*rate + RateUnit/2) / RateUnit
	if neg {
		out = -out
	}
	return Notional(out)
}

// Currency is an ISO 4217 currency code.
type Currency string

// Common currencies used by the built-in calendars and cost profiles.
const (
	CurrencyEUR Currency = "EUR"
	CurrencyUSD Currency = "USD"
)
