package market

import (
	"fmt"
	"time"

	"github.com/guregu/null/v6"
)

// SecurityType 标的类型
type SecurityType string

const (
	TypeStock  SecurityType = "stock"
	TypeIndex  SecurityType = "index"
	TypeFuture SecurityType = "future"
	TypeCoin   SecurityType = "coin"
)

// ParseSecurityType validates a raw type string.
func ParseSecurityType(s string) (SecurityType, error) {
	switch t := SecurityType(s); t {
	case TypeStock, TypeIndex, TypeFuture, TypeCoin:
		return t, nil
	}
	return "", Configf("unknown security type %q", s)
}

// Security 标的
type Security struct {
	ID       string       `json:"id"`
	Type     SecurityType `json:"type"`
	Exchange string       `json:"exchange"`
	Code     string       `json:"code"`
	Name     string       `json:"name"`
	ListDate null.Time    `json:"listDate"`
	// Timestamp is the registry row's listing timestamp; zero when the row has none.
	Timestamp time.Time `json:"timestamp"`
}

// SecurityID builds the canonical {type}_{exchange}_{code} identifier.
func SecurityID(t SecurityType, exchange, code string) string {
	return fmt.Sprintf("%s_%s_%s", t, exchange, code)
}

// Validate checks the identity fields and fills in ID.
func (s *Security) Validate() error {
	if s.Type == "" {
		return Configf("security type is required")
	}
	if s.Exchange == "" {
		return Configf("security exchange is required")
	}
	if s.Code == "" {
		return Configf("security code is required")
	}
	s.ID = SecurityID(s.Type, s.Exchange, s.Code)
	return nil
}

// Time implements the series ordering key.
func (s Security) Time() time.Time { return s.Timestamp }

// Candle K线 (one day bucket). Numeric fields are nullable: crawl sources leave gaps.
type Candle struct {
	Timestamp      time.Time  `json:"timestamp"`
	Code           string     `json:"code"`
	Name           string     `json:"name"`
	SecurityID     string     `json:"securityId"`
	Low            null.Float `json:"low"`
	Open           null.Float `json:"open"`
	Close          null.Float `json:"close"`
	High           null.Float `json:"high"`
	Volume         null.Float `json:"volume"`
	Turnover       null.Float `json:"turnover"`
	PreviousClose  null.Float `json:"previousClose"`
	Change         null.Float `json:"change"`
	ChangePct      null.Float `json:"changePct"`
	TurnoverRate   null.Float `json:"turnoverRate"`
	TotalMarketCap null.Float `json:"totalMarketCap"`
	FloatMarketCap null.Float `json:"floatMarketCap"`
	Factor         null.Float `json:"factor"`
}

// Time implements the series ordering key.
func (c Candle) Time() time.Time { return c.Timestamp }

// Tick 逐笔成交
type Tick struct {
	Timestamp  time.Time  `json:"timestamp"`
	Price      null.Float `json:"price"`
	Volume     null.Float `json:"volume"`
	Turnover   null.Float `json:"turnover"`
	Direction  string     `json:"direction"`
	ID         string     `json:"id,omitempty"`
	Code       string     `json:"code"`
	SecurityID string     `json:"securityId"`
}

// Time implements the series ordering key.
func (t Tick) Time() time.Time { return t.Timestamp }

// Canonical candle columns, in on-disk order.
var (
	StockKDataColumns = []string{
		"timestamp", "code", "name", "low", "open", "close", "high", "volume", "turnover", "securityId",
		"previousClose", "change", "changePct", "turnoverRate", "totalMarketCap", "floatMarketCap", "factor",
	}
	IndexKDataColumns = []string{
		"timestamp", "code", "name", "low", "open", "close", "high", "volume", "turnover", "securityId",
		"previousClose", "change", "changePct",
	}
	// QuarterKDataColumns is the layout of alternate-source quarterly files.
	QuarterKDataColumns = []string{
		"timestamp", "code", "low", "open", "close", "high", "volume", "turnover", "securityId", "factor",
	}
	TickColumns     = []string{"timestamp", "price", "volume", "turnover", "direction", "id"}
	SecurityColumns = []string{"code", "name", "listDate", "timestamp", "exchange", "type", "id"}
)

// KDataColumns returns the canonical candle columns for a security type.
func KDataColumns(t SecurityType) []string {
	if t == TypeIndex {
		return IndexKDataColumns
	}
	return StockKDataColumns
}
