package store

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/guregu/null/v6"
	"go.uber.org/zap"

	"quantstore/locator"
	"quantstore/market"
)

// KDataQuery K线查询. Zero fields are unbounded; At selects one exact timestamp.
type KDataQuery struct {
	Level string
	Start time.Time
	End   time.Time
	At    time.Time
}

// KDataResult K线查询结果
type KDataResult struct {
	Security market.Security
	Candles  []market.Candle
	// Adjusted is set only for stocks whose series carries a factor column.
	Adjusted     []market.AdjustedCandle
	LatestFactor null.Float
	Warnings     []string
}

func (s *Store) kdataPath(sec market.Security, level string) (string, error) {
	return s.loc.KDataPath(sec, locator.KDataQuery{Level: level})
}

// KData reads the primary candle series for ref. For stocks with a factor column the
// result also carries hfq/qfq prices; the latest factor always comes from the full series.
func (s *Store) KData(ref Ref, q KDataQuery) (*KDataResult, error) {
	sec, err := s.Resolve(ref)
	if err != nil {
		return nil, err
	}
	path, err := s.kdataPath(sec, q.Level)
	if err != nil {
		return nil, err
	}
	series, err := ReadSeries(path, CandleSchema(market.KDataColumns(sec.Type)))
	if err != nil {
		return nil, err
	}

	result := &KDataResult{Security: sec}
	adjust := sec.Type == market.TypeStock && series.HasColumn("factor")
	if adjust {
		result.LatestFactor = market.LatestFactor(series.Records)
	}

	candles := series.Records
	if !q.At.IsZero() {
		candles = slices.DeleteFunc(slices.Clone(candles), func(c market.Candle) bool {
			return !c.Timestamp.Equal(q.At)
		})
		if len(candles) == 0 {
			return nil, &market.NotFoundError{What: "candle", Key: sec.ID + "@" + market.FormatTime(q.At)}
		}
	} else {
		candles = FilterRange(candles, q.Start, q.End)
	}
	result.Candles = candles

	if adjust {
		adj := market.Adjust(candles, result.LatestFactor, s.adjust)
		result.Adjusted = adj.Candles
		result.Warnings = adj.Warnings
		for _, w := range adj.Warnings {
			s.logger.Warn(w, zap.String("security", sec.ID))
		}
	}
	return result, nil
}

// stamp fills the identity columns of a crawl batch.
func stamp(sec market.Security, batch []market.Candle) []market.Candle {
	out := make([]market.Candle, len(batch))
	for i, c := range batch {
		c.Code = sec.Code
		c.SecurityID = sec.ID
		if c.Name == "" {
			c.Name = sec.Name
		}
		out[i] = c
	}
	return out
}

// SaveKData merges batch into the primary candle series and returns the merged row count.
func (s *Store) SaveKData(sec market.Security, level string, batch []market.Candle) (int, error) {
	if err := sec.Validate(); err != nil {
		return 0, err
	}
	path, err := s.kdataPath(sec, level)
	if err != nil {
		return 0, err
	}
	merged, err := MergeSeries(path, CandleSchema(market.KDataColumns(sec.Type)), stamp(sec, batch))
	if err != nil {
		return 0, err
	}
	return len(merged), nil
}

// SaveQuarterKData merges batch into the alternate source's {year}Q{quarter} file.
func (s *Store) SaveQuarterKData(sec market.Security, year, quarter int, batch []market.Candle) (int, error) {
	if err := sec.Validate(); err != nil {
		return 0, err
	}
	path, err := s.loc.KDataPath(sec, locator.KDataQuery{Source: locator.SourceSina, Year: year, Quarter: quarter})
	if err != nil {
		return 0, err
	}
	merged, err := MergeSeries(path, CandleSchema(market.QuarterKDataColumns), stamp(sec, batch))
	if err != nil {
		return 0, err
	}
	return len(merged), nil
}

// LatestKDataTimestamp returns the last stored candle timestamp, or the listing
// date when the series is empty. ok is false when neither is known.
func (s *Store) LatestKDataTimestamp(sec market.Security, level string) (ts time.Time, ok bool, err error) {
	path, err := s.kdataPath(sec, level)
	if err != nil {
		return time.Time{}, false, err
	}
	series, err := ReadSeries(path, CandleSchema(market.KDataColumns(sec.Type)))
	if err != nil {
		return time.Time{}, false, err
	}
	if n := len(series.Records); n > 0 {
		return series.Records[n-1].Timestamp, true, nil
	}
	if sec.ListDate.Valid {
		return sec.ListDate.Time, true, nil
	}
	return time.Time{}, false, nil
}

// MergeFactors copies the factor column of the quarterly alternate-source files onto
// the primary daily candles and returns how many rows changed. Where the quarterly files
// repeat a timestamp the first occurrence wins; a row keeps its own factor when the
// alternate source has none for it.
func (s *Store) MergeFactors(sec market.Security) (int, error) {
	if err := sec.Validate(); err != nil {
		return 0, err
	}
	path, err := s.kdataPath(sec, locator.DefaultLevel)
	if err != nil {
		return 0, err
	}
	columns := market.KDataColumns(sec.Type)
	if !slices.Contains(columns, "factor") {
		s.logger.Debug("no factor column", zap.String("security", sec.ID))
		return 0, nil
	}
	schema := CandleSchema(columns)
	primary, err := ReadSeries(path, schema)
	if err != nil {
		return 0, err
	}
	if len(primary.Records) == 0 {
		return 0, nil
	}
	if primary.HasColumn("factor") && !slices.ContainsFunc(primary.Records, func(c market.Candle) bool {
		return !c.Factor.Valid
	}) {
		s.logger.Debug("factors complete", zap.String("security", sec.ID))
		return 0, nil
	}

	factors, err := s.quarterFactors(sec)
	if err != nil {
		return 0, err
	}

	changed := 0
	candles := slices.Clone(primary.Records)
	for i, c := range candles {
		f, ok := factors[timeKey(c)]
		if !ok || !f.Valid || f == c.Factor {
			continue
		}
		candles[i].Factor = f
		changed++
	}
	if changed == 0 {
		return 0, nil
	}
	if err := WriteSeries(candles, path, schema, WriteOptions{}); err != nil {
		return 0, err
	}
	s.logger.Info("merged factors", zap.String("security", sec.ID), zap.Int("rows", changed))
	return changed, nil
}

func (s *Store) quarterFactors(sec market.Security) (map[instant]null.Float, error) {
	dir, err := s.loc.KDataDir(sec, locator.SourceSina)
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

	factors := make(map[instant]null.Float)
	schema := CandleSchema(market.QuarterKDataColumns)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".csv") {
			continue
		}
		series, err := ReadSeries(filepath.Join(dir, e.Name()), schema)
		if err != nil {
			return nil, err
		}
		for _, c := range series.Records {
			k := timeKey(c)
			if _, seen := factors[k]; !seen {
				factors[k] = c.Factor
			}
		}
	}
	return factors, nil
}
