// Package locator maps logical market-data coordinates to paths under the store root.
//
// Layout:
//
//	{type}/{exchange}.csv                              security list
//	{type}/{exchange}/trading_calendar.json            trading dates
//	{type}/{exchange}/{code}/meta.json                 security meta
//	{type}/{exchange}/{code}/kdata/{level}.csv         primary candles
//	{type}/{exchange}/{code}/kdata/{source}/{y}Q{q}.csv alternate-source quarterly candles
//	{type}/{exchange}/{code}/tick/{date}.csv           per-day ticks
//	.cache/{type}.{exchange}.cache/{year}_{kind}/{date} cache blobs
package locator

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"quantstore/market"
)

// SourceSina is the alternate candle provider whose files are partitioned by quarter.
const SourceSina = "sina"

// DefaultLevel is the primary daily candle level.
const DefaultLevel = "day"

// Locator resolves paths under a store root. It performs no I/O except ExchangeCachePath.
type Locator struct {
	root string
}

// New returns a Locator rooted at root.
func New(root string) *Locator {
	return &Locator{root: root}
}

// Root returns the store root.
func (l *Locator) Root() string { return l.root }

func requireExchange(t market.SecurityType, exchange string) error {
	if t == "" {
		return market.Configf("security type is required")
	}
	if exchange == "" {
		return market.Configf("exchange is required")
	}
	return nil
}

// ExchangeDir is {type}/{exchange}.
func (l *Locator) ExchangeDir(t market.SecurityType, exchange string) (string, error) {
	if err := requireExchange(t, exchange); err != nil {
		return "", err
	}
	return filepath.Join(l.root, string(t), exchange), nil
}

// SecurityListPath is {type}/{exchange}.csv.
func (l *Locator) SecurityListPath(t market.SecurityType, exchange string) (string, error) {
	if err := requireExchange(t, exchange); err != nil {
		return "", err
	}
	return filepath.Join(l.root, string(t), exchange+".csv"), nil
}

// TradingCalendarPath is {type}/{exchange}/trading_calendar.json.
func (l *Locator) TradingCalendarPath(t market.SecurityType, exchange string) (string, error) {
	dir, err := l.ExchangeDir(t, exchange)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "trading_calendar.json"), nil
}

// SecurityDir is {type}/{exchange}/{code}.
func (l *Locator) SecurityDir(sec market.Security) (string, error) {
	if err := requireExchange(sec.Type, sec.Exchange); err != nil {
		return "", err
	}
	if sec.Code == "" {
		return "", market.Configf("security code is required")
	}
	return filepath.Join(l.root, string(sec.Type), sec.Exchange, sec.Code), nil
}

func (l *Locator) securityPath(sec market.Security, elem ...string) (string, error) {
	dir, err := l.SecurityDir(sec)
	if err != nil {
		return "", err
	}
	return filepath.Join(append([]string{dir}, elem...)...), nil
}

// SecurityMetaPath is {type}/{exchange}/{code}/meta.json.
func (l *Locator) SecurityMetaPath(sec market.Security) (string, error) {
	return l.securityPath(sec, "meta.json")
}

// KDataDir is the primary candle directory, or the alternate source's subdirectory.
func (l *Locator) KDataDir(sec market.Security, source string) (string, error) {
	if source == SourceSina {
		return l.securityPath(sec, "kdata", source)
	}
	return l.securityPath(sec, "kdata")
}

// KDataQuery selects one candle file.
type KDataQuery struct {
	Level   string // defaults to DefaultLevel
	Source  string // SourceSina selects quarterly partitioning
	Year    int
	Quarter int
}

// KDataPath is kdata/{level}.csv, or kdata/{source}/{year}Q{quarter}.csv for the quarterly source.
func (l *Locator) KDataPath(sec market.Security, q KDataQuery) (string, error) {
	if q.Source == SourceSina {
		if q.Year == 0 || q.Quarter < 1 || q.Quarter > 4 {
			return "", market.Configf("year and quarter are required for source %s", q.Source)
		}
		return l.securityPath(sec, "kdata", q.Source, fmt.Sprintf("%dQ%d.csv", q.Year, q.Quarter))
	}
	level := q.Level
	if level == "" {
		level = DefaultLevel
	}
	return l.securityPath(sec, "kdata", level+".csv")
}

// TickDir is {type}/{exchange}/{code}/tick.
func (l *Locator) TickDir(sec market.Security) (string, error) {
	return l.securityPath(sec, "tick")
}

// TickPath is tick/{date}.csv.
func (l *Locator) TickPath(sec market.Security, date time.Time) (string, error) {
	return l.securityPath(sec, "tick", market.FormatDay(date)+".csv")
}

// NewsPath is news/{newsType}.csv.
func (l *Locator) NewsPath(sec market.Security, newsType string) (string, error) {
	if newsType == "" {
		newsType = "finance_forecast"
	}
	return l.securityPath(sec, "news", newsType+".csv")
}

// Finance statement kinds.
const (
	BalanceSheet      = "balance_sheet"
	IncomeStatement   = "income_statement"
	CashFlowStatement = "cash_flow_statement"
)

// FinancePath is finance/{statement}.xls.
func (l *Locator) FinancePath(sec market.Security, statement string) (string, error) {
	switch statement {
	case BalanceSheet, IncomeStatement, CashFlowStatement:
	default:
		return "", market.Configf("unknown finance statement %q", statement)
	}
	return l.securityPath(sec, "finance", statement+".xls")
}

// ExchangeCacheDir is .cache/{type}.{exchange}.cache, or its {year}_{kind} subdirectory when year > 0.
func (l *Locator) ExchangeCacheDir(t market.SecurityType, exchange string, year int, kind string) (string, error) {
	if err := requireExchange(t, exchange); err != nil {
		return "", err
	}
	dir := filepath.Join(l.root, ".cache", fmt.Sprintf("%s.%s.cache", t, exchange))
	if year > 0 {
		if kind == "" {
			kind = "day_kdata"
		}
		dir = filepath.Join(dir, fmt.Sprintf("%d_%s", year, kind))
	}
	return dir, nil
}

// ExchangeCachePath returns the cache blob path for date and creates its directory.
func (l *Locator) ExchangeCachePath(t market.SecurityType, exchange string, date time.Time, kind string) (string, error) {
	dir, err := l.ExchangeCacheDir(t, exchange, date.Year(), kind)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &market.StorageError{Op: "mkdir", Path: dir, Cause: err}
	}
	return filepath.Join(dir, market.FormatDay(date)), nil
}
