package store

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/guregu/null/v6"

	"quantstore/market"
)

// Timestamped is a record ordered by its timestamp.
type Timestamped interface {
	Time() time.Time
}

// Row is one CSV data line addressed by column name.
type Row struct {
	path  string
	num   int
	index map[string]int
	cells []string
}

// Has reports whether the file carries column col.
func (r Row) Has(col string) bool {
	_, ok := r.index[col]
	return ok
}

// Get returns the raw cell for col, or "" when the column or cell is absent.
// Cells are never coerced, so codes keep their leading zeros.
func (r Row) Get(col string) string {
	i, ok := r.index[col]
	if !ok || i >= len(r.cells) {
		return ""
	}
	return r.cells[i]
}

// Float parses a nullable numeric cell.
func (r Row) Float(col string) (null.Float, error) {
	v := r.Get(col)
	f, err := market.ParseFloat(v)
	if err != nil {
		return null.Float{}, r.Err(col, v, err)
	}
	return f, nil
}

// Time parses a required timestamp cell.
func (r Row) Time(col string) (time.Time, error) {
	v := strings.TrimSpace(r.Get(col))
	if v == "" {
		return time.Time{}, r.Err(col, v, errors.New("empty timestamp"))
	}
	t, err := market.ParseTime(v)
	if err != nil {
		return time.Time{}, r.Err(col, v, err)
	}
	return t, nil
}

// Err builds a ParseError naming this row.
func (r Row) Err(col, value string, cause error) error {
	return &market.ParseError{Path: r.path, Row: r.num, Column: col, Value: value, Cause: cause}
}

// Schema maps records of T to and from CSV columns.
type Schema[T Timestamped] struct {
	Columns []string
	// Encode returns one cell per entry of Columns.
	Encode func(T) []string
	Decode func(Row) (T, error)
}

// Series is an ordered, decoded table.
type Series[T Timestamped] struct {
	// Columns is the header found on disk; empty when the file does not exist.
	Columns []string
	Records []T
}

// HasColumn reports whether the stored file carries col.
func (s *Series[T]) HasColumn(col string) bool {
	return slices.Contains(s.Columns, col)
}

// ReadSeries reads path and returns its records sorted ascending by timestamp.
// A missing file yields an empty series, not an error.
func ReadSeries[T Timestamped](path string, schema Schema[T]) (*Series[T], error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &Series[T]{}, nil
	}
	if err != nil {
		return nil, &market.StorageError{Op: "open", Path: path, Cause: err}
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return &Series[T]{}, nil
	}
	if err != nil {
		return nil, &market.StorageError{Op: "read", Path: path, Cause: err}
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.TrimSpace(h)] = i
	}

	series := &Series[T]{Columns: header}
	for num := 1; ; num++ {
		cells, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &market.StorageError{Op: "read", Path: path, Cause: err}
		}
		rec, err := schema.Decode(Row{path: path, num: num, index: index, cells: cells})
		if err != nil {
			return nil, err
		}
		series.Records = append(series.Records, rec)
	}
	SortByTime(series.Records)
	return series, nil
}

// WriteOptions controls WriteSeries.
type WriteOptions struct {
	// Append adds rows to an existing file without a header.
	Append bool
	// KeepDuplicates skips the last-wins timestamp dedup.
	KeepDuplicates bool
}

// WriteSeries dedups records by timestamp (last occurrence wins), sorts them and
// writes them to path. Without Append, or when path does not exist yet, the file is
// replaced wholesale with a header.
//
// Append only orders the batch itself; MergeSeries is the safe incremental path.
func WriteSeries[T Timestamped](records []T, path string, schema Schema[T], opts WriteOptions) error {
	if !opts.KeepDuplicates {
		records = DedupeLast(records, timeKey[T])
	} else {
		records = slices.Clone(records)
	}
	SortByTime(records)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &market.StorageError{Op: "mkdir", Path: filepath.Dir(path), Cause: err}
	}

	if opts.Append {
		if _, err := os.Stat(path); err == nil {
			return appendRows(records, path, schema)
		}
	}
	return writeFileAtomic(path, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.Write(schema.Columns); err != nil {
			return err
		}
		return writeRows(cw, records, schema, nil)
	})
}

// appendRows encodes records in the column order of the file's own header. A header
// missing one of the schema's columns is rejected: the rows would not fit it.
func appendRows[T Timestamped](records []T, path string, schema Schema[T]) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return &market.StorageError{Op: "open", Path: path, Cause: err}
	}
	defer f.Close()

	header, err := csv.NewReader(f).Read()
	if errors.Is(err, io.EOF) {
		header = nil
	} else if err != nil {
		return &market.StorageError{Op: "read", Path: path, Cause: err}
	}

	cw := csv.NewWriter(f)
	if header == nil {
		if err := cw.Write(schema.Columns); err != nil {
			return &market.StorageError{Op: "append", Path: path, Cause: err}
		}
		header = schema.Columns
	}

	order, err := columnOrder(header, schema.Columns)
	if err != nil {
		return market.Configf("append to %s: %v", path, err)
	}
	if err := writeRows(cw, records, schema, order); err != nil {
		return &market.StorageError{Op: "append", Path: path, Cause: err}
	}
	if err := f.Close(); err != nil {
		return &market.StorageError{Op: "close", Path: path, Cause: err}
	}
	return nil
}

// columnOrder maps every header position to its index in columns, -1 for a column
// the schema does not carry.
func columnOrder(header, columns []string) ([]int, error) {
	pos := make(map[string]int, len(header))
	order := make([]int, len(header))
	for i, h := range header {
		h = strings.TrimSpace(h)
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		pos[h] = i
		order[i] = slices.Index(columns, h)
	}
	for _, col := range columns {
		if _, ok := pos[col]; !ok {
			return nil, fmt.Errorf("file header has no %q column", col)
		}
	}
	return order, nil
}

// writeRows writes one line per record. order, when non-nil, picks the encoded cell
// for each output column.
func writeRows[T Timestamped](cw *csv.Writer, records []T, schema Schema[T], order []int) error {
	for _, rec := range records {
		cells := schema.Encode(rec)
		if len(cells) != len(schema.Columns) {
			return fmt.Errorf("encoded %d cells for %d columns", len(cells), len(schema.Columns))
		}
		if order != nil {
			out := make([]string, len(order))
			for i, j := range order {
				if j >= 0 {
					out[i] = cells[j]
				}
			}
			cells = out
		}
		if err := cw.Write(cells); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// MergeSeries reads path, appends batch, and rewrites the file deduplicated and sorted.
// Batch rows win over stored rows with the same timestamp.
func MergeSeries[T Timestamped](path string, schema Schema[T], batch []T) ([]T, error) {
	return mergeSeriesBy(path, schema, batch, timeKey[T])
}

func mergeSeriesBy[T Timestamped, K comparable](path string, schema Schema[T], batch []T, key func(T) K) ([]T, error) {
	existing, err := ReadSeries(path, schema)
	if err != nil {
		return nil, err
	}
	merged := DedupeLast(append(existing.Records, batch...), key)
	SortByTime(merged)
	if err := WriteSeries(merged, path, schema, WriteOptions{KeepDuplicates: true}); err != nil {
		return nil, err
	}
	return merged, nil
}

// FilterRange keeps records whose timestamp lies in [start, end]. A zero bound is absent.
// Records without a timestamp are dropped whenever a bound is given.
func FilterRange[T Timestamped](records []T, start, end time.Time) []T {
	if start.IsZero() && end.IsZero() {
		return records
	}
	out := make([]T, 0, len(records))
	for _, r := range records {
		ts := r.Time()
		if ts.IsZero() {
			continue
		}
		if !start.IsZero() && ts.Before(start) {
			continue
		}
		if !end.IsZero() && ts.After(end) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// DedupeLast keeps the last occurrence of every key, in the order the kept rows appear.
func DedupeLast[T any, K comparable](records []T, key func(T) K) []T {
	last := make(map[K]int, len(records))
	for i, r := range records {
		last[key(r)] = i
	}
	out := make([]T, 0, len(last))
	for i, r := range records {
		if last[key(r)] == i {
			out = append(out, r)
		}
	}
	return out
}

// SortByTime sorts records ascending by timestamp, keeping the order of equal timestamps.
func SortByTime[T Timestamped](records []T) {
	slices.SortStableFunc(records, func(a, b T) int {
		return a.Time().Compare(b.Time())
	})
}

type instant struct {
	sec  int64
	nsec int
}

func timeKey[T Timestamped](r T) instant {
	t := r.Time()
	return instant{sec: t.Unix(), nsec: t.Nanosecond()}
}

// writeFileAtomic writes through a temp file in the same directory and renames it over path.
func writeFileAtomic(path string, write func(io.Writer) error) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return &market.StorageError{Op: "create", Path: path, Cause: err}
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return &market.StorageError{Op: "write", Path: path, Cause: err}
	}
	if err := tmp.Close(); err != nil {
		return &market.StorageError{Op: "close", Path: path, Cause: err}
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return &market.StorageError{Op: "rename", Path: path, Cause: err}
	}
	return nil
}
