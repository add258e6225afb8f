// Package cost prices commissions, exchange fees, and short borrow against
// venue profiles loaded from YAML. Costs are recorded separately from price
// slippage so gross and net performance can both be rebuilt from artifacts.
package cost

import (
	stderrors "errors"
	"os"

	"github.com/yanun0323/errors"
	"gopkg.in/yaml.v3"

	"quant/internal/schema"
)

var (
	ErrUnknownVenue   = stderrors.New("unknown venue")
	ErrUnknownProfile = stderrors.New("unsupported profile type")
)

// Profile describes one venue's fee schedule. Type selects which fields
// apply: "per_share_plus_fees", "bps", or "bps_with_stamp".
type Profile struct {
	Type               string  `yaml:"type"`
	CommissionPerShare float64 `yaml:"commission_per_share"`
	SecFeeBps          float64 `yaml:"sec_fee_bps"`
	TafPerShare        float64 `yaml:"taf_per_share"`
	CommissionBps      float64 `yaml:"commission_bps"`
	StampEnabled       *bool   `yaml:"stamp_enabled"`
	StampDutyBps       float64 `yaml:"stamp_duty_bps"`
	BorrowBpsAnnual    float64 `yaml:"borrow_bps_annual"`
}

// Calculator prices orders against venue profiles.
type Calculator struct {
	profiles map[string]Profile
}

// NewCalculator creates a calculator from in-memory profiles.
func NewCalculator(profiles map[string]Profile) *Calculator {
	if profiles == nil {
		profiles = make(map[string]Profile)
	}
	return &Calculator{profiles: profiles}
}

// LoadCalculator reads venue profiles from a YAML file.
func LoadCalculator(path string) (*Calculator, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read cost profiles")
	}
	var profiles map[string]Profile
	if err := yaml.Unmarshal(data, &profiles); err != nil {
		return nil, errors.Wrap(err, "parse cost profiles")
	}
	return NewCalculator(profiles), nil
}

// Cost returns the transaction cost for a fill. Venues without a profile are
// free; a present profile with an unknown type is a configuration error.
func (c *Calculator) Cost(venue string, side schema.OrderSide, qty schema.Quantity, price schema.Price) (schema.Fee, error) {
	p, ok := c.profiles[venue]
	if !ok {
		return 0, nil
	}
	shares := float64(qty)
	notional := price.Float() * shares

	switch p.Type {
	case "per_share_plus_fees":
		total := p.CommissionPerShare * shares
		if side == schema.OrderSideSell {
			total += notional * (p.SecFeeBps / 10000.0)
			total += p.TafPerShare * shares
		}
		return feeFromFloat(total), nil
	case "bps":
		return feeFromFloat(notional * (p.CommissionBps / 10000.0)), nil
	case "bps_with_stamp":
		total := notional * (p.CommissionBps / 10000.0)
		stampEnabled := p.StampEnabled == nil || *p.StampEnabled
		if stampEnabled && side == schema.OrderSideBuy {
			total += notional * (p.StampDutyBps / 10000.0)
		}
		return feeFromFloat(total), nil
	default:
		return 0, errors.Wrapf(ErrUnknownProfile, "venue %s type %q", venue, p.Type)
	}
}

// Borrow returns the holding cost for a short position of the given notional
// over a number of calendar days, using the venue's annualized borrow rate.
func (c *Calculator) Borrow(venue string, notional schema.Notional, days float64) schema.Fee {
	p, ok := c.profiles[venue]
	if !ok || p.BorrowBpsAnnual == 0 || days <= 0 {
		return 0
	}
	n := notional.Float()
	if n < 0 {
		n = -n
	}
	annual := n * (p.BorrowBpsAnnual / 10000.0)
	return feeFromFloat(annual * days / 365.0)
}

func feeFromFloat(v float64) schema.Fee {
	if v <= 0 {
		return 0
	}
	return schema.Fee(v*float64(schema.PriceUnit) + 0.5)
}
