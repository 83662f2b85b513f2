package market

import (
	"fmt"

	"github.com/guregu/null/v6"
	"github.com/shopspring/decimal"
)

// AdjustedCandle 复权K线: the raw candle plus backward (hfq) and forward (qfq) adjusted prices.
type AdjustedCandle struct {
	Candle
	HfqOpen  null.Float `json:"hfqOpen"`
	HfqHigh  null.Float `json:"hfqHigh"`
	HfqLow   null.Float `json:"hfqLow"`
	HfqClose null.Float `json:"hfqClose"`
	QfqOpen  null.Float `json:"qfqOpen"`
	QfqHigh  null.Float `json:"qfqHigh"`
	QfqLow   null.Float `json:"qfqLow"`
	QfqClose null.Float `json:"qfqClose"`
}

// AdjustOptions 复权选项
type AdjustOptions struct {
	// ForwardFillFactor lets a row without its own factor reuse the closest
	// earlier factor. Off by default: such rows get null adjusted prices.
	ForwardFillFactor bool
}

// Adjustment is the result of Adjust.
type Adjustment struct {
	Candles      []AdjustedCandle
	LatestFactor null.Float
	// Warnings holds recoverable conditions, e.g. no latest factor for qfq.
	Warnings []string
}

// LatestFactor returns the factor of the most recent row that has one.
// candles must be sorted ascending by timestamp.
func LatestFactor(candles []Candle) null.Float {
	for i := len(candles) - 1; i >= 0; i-- {
		if candles[i].Factor.Valid {
			return candles[i].Factor
		}
	}
	return null.Float{}
}

// Adjust derives hfq = raw * factor and qfq = hfq / latest for every candle.
// latest is usually LatestFactor over the full series, not just the window being adjusted.
func Adjust(candles []Candle, latest null.Float, opts AdjustOptions) Adjustment {
	out := Adjustment{
		Candles:      make([]AdjustedCandle, len(candles)),
		LatestFactor: latest,
	}

	var latestDec decimal.Decimal
	qfq := latest.Valid && latest.Float64 != 0
	if qfq {
		latestDec = decimal.NewFromFloat(latest.Float64)
	} else {
		out.Warnings = append(out.Warnings, "missing latest factor, forward-adjusted prices omitted")
	}

	var carried null.Float
	for i, c := range candles {
		factor := c.Factor
		if factor.Valid {
			carried = factor
		} else if opts.ForwardFillFactor {
			factor = carried
		}

		ac := AdjustedCandle{Candle: c}
		if factor.Valid {
			f := decimal.NewFromFloat(factor.Float64)
			pairs := []struct {
				raw      null.Float
				hfq, qfq *null.Float
			}{
				{c.Open, &ac.HfqOpen, &ac.QfqOpen},
				{c.High, &ac.HfqHigh, &ac.QfqHigh},
				{c.Low, &ac.HfqLow, &ac.QfqLow},
				{c.Close, &ac.HfqClose, &ac.QfqClose},
			}
			for _, p := range pairs {
				if !p.raw.Valid {
					continue
				}
				h := decimal.NewFromFloat(p.raw.Float64).Mul(f)
				*p.hfq = null.FloatFrom(h.InexactFloat64())
				if qfq {
					*p.qfq = null.FloatFrom(h.Div(latestDec).InexactFloat64())
				}
			}
		}
		out.Candles[i] = ac
	}
	return out
}

// String summarizes an adjustment for logs.
func (a Adjustment) String() string {
	return fmt.Sprintf("adjusted %d candles, latest factor %v", len(a.Candles), a.LatestFactor.ValueOrZero())
}
