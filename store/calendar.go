package store

import (
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"quantstore/market"
)

// TradingCalendar loads {type}/{exchange}/trading_calendar.json, a JSON array of dates.
// A missing file yields no dates.
func (s *Store) TradingCalendar(t market.SecurityType, exchange string) ([]time.Time, error) {
	path, err := s.loc.TradingCalendarPath(t, exchange)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &market.StorageError{Op: "read", Path: path, Cause: err}
	}

	var raw []string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &market.ParseError{Path: path, Cause: err}
	}
	dates := make([]time.Time, 0, len(raw))
	for i, v := range raw {
		d, err := market.ParseTime(v)
		if err != nil {
			return nil, &market.ParseError{Path: path, Row: i + 1, Value: v, Cause: err}
		}
		dates = append(dates, market.Day(d))
	}
	return dates, nil
}

// SaveTradingCalendar replaces the stored trading dates.
func (s *Store) SaveTradingCalendar(t market.SecurityType, exchange string, dates []time.Time) error {
	path, err := s.loc.TradingCalendarPath(t, exchange)
	if err != nil {
		return err
	}
	raw := make([]string, len(dates))
	for i, d := range dates {
		raw[i] = market.FormatDay(d)
	}
	return writeJSON(path, raw)
}

// Calendar returns the trading calendar for (t, exchange), falling back to the
// exchange's published holidays when nothing is stored.
func (s *Store) Calendar(t market.SecurityType, exchange string) (*market.Calendar, error) {
	dates, err := s.TradingCalendar(t, exchange)
	if err != nil {
		return nil, err
	}
	return market.NewCalendar(exchange, dates), nil
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &market.StorageError{Op: "mkdir", Path: filepath.Dir(path), Cause: err}
	}
	return writeFileAtomic(path, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}
