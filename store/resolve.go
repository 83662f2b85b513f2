package store

import (
	"regexp"

	"quantstore/market"
)

// Ref is a security reference: either a resolved Security or a textual identifier.
type Ref struct {
	sec  *market.Security
	text string
}

// SecurityRef wraps an explicit security.
func SecurityRef(sec market.Security) Ref { return Ref{sec: &sec} }

// TextRef wraps a composite id ("stock_sh_600000") or a bare code ("600000", "AAPL", "rb1805").
func TextRef(s string) Ref { return Ref{text: s} }

func (r Ref) String() string {
	if r.sec != nil {
		if r.sec.ID != "" {
			return r.sec.ID
		}
		return market.SecurityID(r.sec.Type, r.sec.Exchange, r.sec.Code)
	}
	return r.text
}

var (
	compositeIDPattern = regexp.MustCompile(`^(stock|index|future|coin)_([a-z]{2,20})_([a-zA-Z0-9\-]+)$`)
	futureCodePattern  = regexp.MustCompile(`^[A-Za-z]{2}\d{4}$`)
	cnStockPattern     = regexp.MustCompile(`^\d{6}$`)
	usStockPattern     = regexp.MustCompile(`^[A-Z]{2,20}$`)
)

// lookupKey is the (type, exchanges, code) triple a reference resolves to.
type lookupKey struct {
	typ       market.SecurityType
	exchanges []string
	code      string
}

// parseRef applies the textual patterns in fixed order; the first match wins.
func parseRef(text string) (lookupKey, error) {
	if m := compositeIDPattern.FindStringSubmatch(text); m != nil {
		return lookupKey{typ: market.SecurityType(m[1]), exchanges: []string{m[2]}, code: m[3]}, nil
	}
	switch {
	case futureCodePattern.MatchString(text):
		return lookupKey{typ: market.TypeFuture, exchanges: []string{"shfe"}, code: text}, nil
	case cnStockPattern.MatchString(text):
		return lookupKey{typ: market.TypeStock, exchanges: []string{"sh", "sz"}, code: text}, nil
	case usStockPattern.MatchString(text):
		return lookupKey{typ: market.TypeStock, exchanges: []string{"nasdaq"}, code: text}, nil
	}
	return lookupKey{}, market.Configf("unrecognized security reference %q", text)
}

// Resolve turns ref into exactly one registry row. An explicit security passes
// through once its identity fields validate.
func (r *Registry) Resolve(ref Ref) (market.Security, error) {
	if ref.sec != nil {
		sec := *ref.sec
		if err := sec.Validate(); err != nil {
			return market.Security{}, err
		}
		return sec, nil
	}
	key, err := parseRef(ref.text)
	if err != nil {
		return market.Security{}, err
	}
	return r.Lookup(key.typ, key.exchanges, key.code)
}
