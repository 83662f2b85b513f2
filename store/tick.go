package store

import (
	"errors"
	"io/fs"
	"iter"
	"os"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"quantstore/market"
)

// TickQuery 逐笔查询. Date selects a single day; otherwise Start/End bound the
// file dates inclusively, zero meaning unbounded.
type TickQuery struct {
	Date  time.Time
	Start time.Time
	End   time.Time
}

// TickTable is one day's ticks, sorted by timestamp.
type TickTable struct {
	Date  time.Time
	Path  string
	HasID bool
	Ticks []market.Tick
}

// stock tick files store only the time of day; the date comes from the file name
func tickClockOnly(sec market.Security) bool {
	return sec.Type == market.TypeStock
}

func (s *Store) readTickTable(sec market.Security, date time.Time, path string) (*TickTable, error) {
	series, err := ReadSeries(path, TickSchema(date, tickClockOnly(sec)))
	if err != nil {
		return nil, err
	}
	for i := range series.Records {
		series.Records[i].Code = sec.Code
		series.Records[i].SecurityID = sec.ID
	}
	return &TickTable{
		Date:  market.Day(date),
		Path:  path,
		HasID: series.HasColumn("id"),
		Ticks: series.Records,
	}, nil
}

// TickDates lists the dates that have a tick file, ascending. Files whose name is
// not a date are skipped.
func (s *Store) TickDates(sec market.Security) ([]time.Time, error) {
	dir, err := s.loc.TickDir(sec)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &market.StorageError{Op: "readdir", Path: dir, Cause: err}
	}

	var dates []time.Time
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".csv") {
			continue
		}
		d, err := time.ParseInLocation(market.DayLayout, strings.TrimSuffix(name, ".csv"), time.UTC)
		if err != nil {
			s.logger.Warn("skip tick file", zap.String("security", sec.ID), zap.String("file", name))
			continue
		}
		dates = append(dates, d)
	}
	slices.SortFunc(dates, time.Time.Compare)
	return dates, nil
}

// Ticks yields one table per tick file. The sequence is restartable: every iteration
// reads from disk again. An error ends the sequence.
func (s *Store) Ticks(sec market.Security, q TickQuery) iter.Seq2[*TickTable, error] {
	return func(yield func(*TickTable, error) bool) {
		if err := sec.Validate(); err != nil {
			yield(nil, err)
			return
		}

		var dates []time.Time
		if !q.Date.IsZero() {
			dates = []time.Time{market.Day(q.Date)}
		} else {
			all, err := s.TickDates(sec)
			if err != nil {
				yield(nil, err)
				return
			}
			start, end := dayBound(q.Start), dayBound(q.End)
			for _, d := range all {
				if (start.IsZero() || !d.Before(start)) && (end.IsZero() || !d.After(end)) {
					dates = append(dates, d)
				}
			}
		}

		for _, d := range dates {
			path, err := s.loc.TickPath(sec, d)
			if err != nil {
				yield(nil, err)
				return
			}
			if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
				continue
			}
			table, err := s.readTickTable(sec, d, path)
			if !yield(table, err) || err != nil {
				return
			}
		}
	}
}

// LatestTick 最新逐笔
type LatestTick struct {
	Timestamp time.Time
	// IDs of every trade at Timestamp; nil when the file has no id column.
	IDs   []string
	Table *TickTable
}

// LatestTick reads the most recent tick file. It returns nil when there are no tick files.
func (s *Store) LatestTick(sec market.Security) (*LatestTick, error) {
	if err := sec.Validate(); err != nil {
		return nil, err
	}
	dates, err := s.TickDates(sec)
	if err != nil || len(dates) == 0 {
		return nil, err
	}
	last := dates[len(dates)-1]
	path, err := s.loc.TickPath(sec, last)
	if err != nil {
		return nil, err
	}
	table, err := s.readTickTable(sec, last, path)
	if err != nil {
		return nil, err
	}
	if len(table.Ticks) == 0 {
		return &LatestTick{Table: table}, nil
	}

	latest := &LatestTick{Timestamp: table.Ticks[len(table.Ticks)-1].Timestamp, Table: table}
	if table.HasID {
		for _, t := range table.Ticks {
			if t.Timestamp.Equal(latest.Timestamp) {
				latest.IDs = append(latest.IDs, t.ID)
			}
		}
	}
	return latest, nil
}

type tickKey struct {
	at instant
	id string
}

// SaveTicks merges batch into the day's tick file. Rows are unique by (timestamp, id),
// so distinct trades within the same millisecond survive.
func (s *Store) SaveTicks(sec market.Security, date time.Time, batch []market.Tick) (int, error) {
	if err := sec.Validate(); err != nil {
		return 0, err
	}
	path, err := s.loc.TickPath(sec, date)
	if err != nil {
		return 0, err
	}
	merged, err := mergeSeriesBy(path, TickSchema(date, tickClockOnly(sec)), batch, func(t market.Tick) tickKey {
		return tickKey{at: timeKey(t), id: t.ID}
	})
	if err != nil {
		return 0, err
	}
	return len(merged), nil
}

// MissingTickDates lists trading days in [start, end] without a tick file.
func (s *Store) MissingTickDates(sec market.Security, start, end time.Time, cal *market.Calendar) ([]time.Time, error) {
	dates, err := s.TickDates(sec)
	if err != nil {
		return nil, err
	}
	have := make(map[time.Time]struct{}, len(dates))
	for _, d := range dates {
		have[d] = struct{}{}
	}
	var missing []time.Time
	for _, d := range cal.TradingDays(start, end) {
		if _, ok := have[d]; !ok {
			missing = append(missing, d)
		}
	}
	return missing, nil
}

func dayBound(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return market.Day(t)
}
