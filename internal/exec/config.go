package exec

// Config tunes the fill price model. Defaults follow the reference
// calibration: limit orders cross half the spread, market orders three
// quarters, urgent market orders half as much again.
type Config struct {
	// KMarket is the spread fraction crossed by a market order.
	KMarket float64 `json:"kMarket"`
	// KLimit is the spread fraction crossed by a marketable limit order.
	KLimit float64 `json:"kLimit"`
	// UrgencyBoost multiplies KMarket for UrgencyHigh orders.
	UrgencyBoost float64 `json:"urgencyBoost"`
	// GuardrailBps bounds market fills: a buy never prints above
	// ask*(1+guardrail), a sell never below bid*(1-guardrail).
	GuardrailBps float64 `json:"guardrailBps"`
	// SpreadBps is the full synthetic spread applied to a bar close when no
	// quote is available: bid and ask sit half of it below and above the close.
	SpreadBps float64 `json:"spreadBps"`
	// ParticipationRate caps a single fill at this fraction of the event's
	// traded volume.
	ParticipationRate float64 `json:"participationRate"`
	// ImpactAlpha scales the square-root market impact term.
	ImpactAlpha float64 `json:"impactAlpha"`
}

// ModelID identifies this slippage model family in run manifests.
const ModelID = "sqrt-impact-v1"

// DefaultConfig returns the reference calibration.
func DefaultConfig() Config {
	return Config{
		KMarket:           0.75,
		KLimit:            0.5,
		UrgencyBoost:      1.5,
		GuardrailBps:      20,
		SpreadBps:         5,
		ParticipationRate: 0.1,
		ImpactAlpha:       0.1,
	}
}

// SymbolStats carries the liquidity inputs of the impact model. Sigma is the
// symbol's recent daily volatility in price units, ADV its average daily
// traded volume in shares.
type SymbolStats struct {
	Sigma float64
	ADV   float64
}
