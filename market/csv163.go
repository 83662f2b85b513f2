package market

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/guregu/null/v6"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

// 163 daily history CSV headers mapped to candle fields.
var columns163 = map[string]func(*Candle) *null.Float{
	"收盘价":  func(c *Candle) *null.Float { return &c.Close },
	"最高价":  func(c *Candle) *null.Float { return &c.High },
	"最低价":  func(c *Candle) *null.Float { return &c.Low },
	"开盘价":  func(c *Candle) *null.Float { return &c.Open },
	"前收盘":  func(c *Candle) *null.Float { return &c.PreviousClose },
	"涨跌额":  func(c *Candle) *null.Float { return &c.Change },
	"涨跌幅":  func(c *Candle) *null.Float { return &c.ChangePct },
	"换手率":  func(c *Candle) *null.Float { return &c.TurnoverRate },
	"成交量":  func(c *Candle) *null.Float { return &c.Volume },
	"成交金额": func(c *Candle) *null.Float { return &c.Turnover },
	"总市值":  func(c *Candle) *null.Float { return &c.TotalMarketCap },
	"流通市值": func(c *Candle) *null.Float { return &c.FloatMarketCap },
}

// Decode163 decodes a GBK-encoded 163 daily history CSV into candles for sec.
// Rows come back in file order (newest first for this source); callers merge and sort.
func Decode163(r io.Reader, sec Security) ([]Candle, error) {
	utf8Reader := transform.NewReader(r, simplifiedchinese.GBK.NewDecoder())
	reader := csv.NewReader(utf8Reader)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read 163 header: %w", err)
	}

	dateIdx := -1
	for i, h := range header {
		header[i] = strings.TrimSpace(h)
		if header[i] == "日期" {
			dateIdx = i
		}
	}
	if dateIdx < 0 {
		return nil, &ParseError{Path: "163", Column: "日期", Cause: errors.New("missing date column")}
	}

	var candles []Candle
	for row := 1; ; row++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read 163 row %d: %w", row, err)
		}
		if dateIdx >= len(record) {
			return nil, &ParseError{Path: "163", Row: row, Column: "日期", Cause: errors.New("short row")}
		}

		ts, err := ParseTime(strings.TrimSpace(record[dateIdx]))
		if err != nil {
			return nil, &ParseError{Path: "163", Row: row, Column: "日期", Value: record[dateIdx], Cause: err}
		}
		c := Candle{
			Timestamp:  ts,
			Code:       sec.Code,
			Name:       sec.Name,
			SecurityID: sec.ID,
		}
		for i, h := range header {
			field, ok := columns163[h]
			if !ok || i >= len(record) {
				continue
			}
			v, err := ParseFloat(record[i])
			if err != nil {
				return nil, &ParseError{Path: "163", Row: row, Column: h, Value: record[i], Cause: err}
			}
			*field(&c) = v
		}
		candles = append(candles, c)
	}
	return candles, nil
}
