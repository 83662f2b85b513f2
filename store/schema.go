package store

import (
	"strings"
	"time"

	"github.com/guregu/null/v6"

	"quantstore/market"
)

type candleField struct {
	get func(*market.Candle) *null.Float
}

var candleFloats = map[string]candleField{
	"low":            {func(c *market.Candle) *null.Float { return &c.Low }},
	"open":           {func(c *market.Candle) *null.Float { return &c.Open }},
	"close":          {func(c *market.Candle) *null.Float { return &c.Close }},
	"high":           {func(c *market.Candle) *null.Float { return &c.High }},
	"volume":         {func(c *market.Candle) *null.Float { return &c.Volume }},
	"turnover":       {func(c *market.Candle) *null.Float { return &c.Turnover }},
	"previousClose":  {func(c *market.Candle) *null.Float { return &c.PreviousClose }},
	"change":         {func(c *market.Candle) *null.Float { return &c.Change }},
	"changePct":      {func(c *market.Candle) *null.Float { return &c.ChangePct }},
	"turnoverRate":   {func(c *market.Candle) *null.Float { return &c.TurnoverRate }},
	"totalMarketCap": {func(c *market.Candle) *null.Float { return &c.TotalMarketCap }},
	"floatMarketCap": {func(c *market.Candle) *null.Float { return &c.FloatMarketCap }},
	"factor":         {func(c *market.Candle) *null.Float { return &c.Factor }},
}

// CandleSchema writes the given columns and reads any subset of the known candle columns.
func CandleSchema(columns []string) Schema[market.Candle] {
	return Schema[market.Candle]{
		Columns: columns,
		Encode: func(c market.Candle) []string {
			cells := make([]string, len(columns))
			for i, col := range columns {
				switch col {
				case "timestamp":
					cells[i] = market.FormatTime(c.Timestamp)
				case "code":
					cells[i] = c.Code
				case "name":
					cells[i] = c.Name
				case "securityId":
					cells[i] = c.SecurityID
				default:
					if f, ok := candleFloats[col]; ok {
						cells[i] = market.FormatFloat(*f.get(&c))
					}
				}
			}
			return cells
		},
		Decode: func(r Row) (market.Candle, error) {
			var c market.Candle
			ts, err := r.Time("timestamp")
			if err != nil {
				return c, err
			}
			c.Timestamp = ts
			c.Code = r.Get("code")
			c.Name = r.Get("name")
			c.SecurityID = r.Get("securityId")
			for col, f := range candleFloats {
				if !r.Has(col) {
					continue
				}
				v, err := r.Float(col)
				if err != nil {
					return c, err
				}
				*f.get(&c) = v
			}
			return c, nil
		},
	}
}

// TickSchema reads and writes one day's tick file. Stored timestamps are either a
// time of day, combined with date, or a full datetime. clockOnly selects the former on write.
func TickSchema(date time.Time, clockOnly bool) Schema[market.Tick] {
	day := market.Day(date)
	return Schema[market.Tick]{
		Columns: market.TickColumns,
		Encode: func(t market.Tick) []string {
			ts := market.FormatTime(t.Timestamp)
			if clockOnly {
				ts = market.FormatClock(t.Timestamp)
			}
			return []string{
				ts,
				market.FormatFloat(t.Price),
				market.FormatFloat(t.Volume),
				market.FormatFloat(t.Turnover),
				t.Direction,
				t.ID,
			}
		},
		Decode: func(r Row) (market.Tick, error) {
			var t market.Tick
			raw := strings.TrimSpace(r.Get("timestamp"))
			if offset, ok := market.ParseClock(raw); ok {
				t.Timestamp = day.Add(offset)
			} else {
				ts, err := r.Time("timestamp")
				if err != nil {
					return t, err
				}
				t.Timestamp = ts
			}
			var err error
			if t.Price, err = r.Float("price"); err != nil {
				return t, err
			}
			if t.Volume, err = r.Float("volume"); err != nil {
				return t, err
			}
			if t.Turnover, err = r.Float("turnover"); err != nil {
				return t, err
			}
			t.Direction = r.Get("direction")
			t.ID = r.Get("id")
			return t, nil
		},
	}
}

// SecuritySchema reads a per-exchange security list. Type and exchange fall back to
// the file's coordinates when the columns are missing or blank.
func SecuritySchema(t market.SecurityType, exchange string) Schema[market.Security] {
	return Schema[market.Security]{
		Columns: market.SecurityColumns,
		Encode: func(s market.Security) []string {
			listDate := ""
			if s.ListDate.Valid {
				listDate = market.FormatDay(s.ListDate.Time)
			}
			ts := ""
			if !s.Timestamp.IsZero() {
				ts = market.FormatTime(s.Timestamp)
			}
			return []string{s.Code, s.Name, listDate, ts, s.Exchange, string(s.Type), s.ID}
		},
		Decode: func(r Row) (market.Security, error) {
			s := market.Security{
				Code:     r.Get("code"),
				Name:     r.Get("name"),
				Exchange: r.Get("exchange"),
				Type:     market.SecurityType(r.Get("type")),
			}
			if s.Exchange == "" {
				s.Exchange = exchange
			}
			if s.Type == "" {
				s.Type = t
			}
			if s.Code == "" {
				return s, r.Err("code", "", market.Configf("security code is required"))
			}
			if v := strings.TrimSpace(r.Get("listDate")); v != "" {
				d, err := r.Time("listDate")
				if err != nil {
					return s, err
				}
				s.ListDate = null.TimeFrom(d)
			}
			switch v := strings.TrimSpace(r.Get("timestamp")); {
			case v != "":
				ts, err := r.Time("timestamp")
				if err != nil {
					return s, err
				}
				s.Timestamp = ts
			case s.ListDate.Valid:
				s.Timestamp = s.ListDate.Time
			}
			s.ID = market.SecurityID(s.Type, s.Exchange, s.Code)
			return s, nil
		},
	}
}
