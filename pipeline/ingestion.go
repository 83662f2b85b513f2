// Package pipeline feeds crawl batches into the store and exports derived series.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"quantstore/locator"
	"quantstore/market"
	"quantstore/store"
)

// KDataSource 数据源: returns candles for sec at or after since (zero means full history).
// The day at since is fetched again; the merge makes that idempotent.
type KDataSource interface {
	FetchKData(ctx context.Context, sec market.Security, since time.Time) ([]market.Candle, error)
}

// IngestionConfig 数据摄取配置
type IngestionConfig struct {
	Concurrency int    `json:"concurrency"`
	Level       string `json:"level"`
}

// IngestionStats 摄取统计
type IngestionStats struct {
	Runs          int64            `json:"runs"`
	TotalRows     int64            `json:"total_rows"`
	RejectedRows  int64            `json:"rejected_rows"`
	FailedSecs    int64            `json:"failed_securities"`
	LastRunID     string           `json:"last_run_id"`
	LastIngestion time.Time        `json:"last_ingestion"`
	Securities    map[string]int64 `json:"securities"`
}

// Ingester 数据摄取器. Writes for one security are serialized in-process; the
// store itself does no file locking.
type Ingester struct {
	config  IngestionConfig
	store   *store.Store
	source  KDataSource
	cleaner *DataCleaner
	logger  *zap.Logger

	locks sync.Map // security id -> *sync.Mutex

	stats     IngestionStats
	statsLock sync.RWMutex
}

// NewIngester 创建数据摄取器. source may be nil when only the Ingest* methods are used.
func NewIngester(config IngestionConfig, st *store.Store, source KDataSource, logger *zap.Logger) *Ingester {
	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}
	if config.Level == "" {
		config.Level = locator.DefaultLevel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingester{
		config:  config,
		store:   st,
		source:  source,
		cleaner: NewDataCleaner(),
		logger:  logger,
		stats:   IngestionStats{Securities: make(map[string]int64)},
	}
}

func (in *Ingester) lock(id string) func() {
	mu, _ := in.locks.LoadOrStore(id, &sync.Mutex{})
	m := mu.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}

// IngestKData cleans batch and merges it into the security's candle series.
// It returns the number of rows accepted from the batch.
func (in *Ingester) IngestKData(ctx context.Context, sec market.Security, batch []market.Candle) (int, error) {
	if err := sec.Validate(); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	cleaned, issues := in.cleaner.Clean(batch)
	for _, issue := range issues {
		in.logger.Debug("rejected candle",
			zap.String("security", sec.ID),
			zap.String("rule", issue.Rule),
			zap.String("message", issue.Message),
			zap.Time("timestamp", issue.Timestamp))
	}
	in.recordRejected(len(batch) - len(cleaned))
	if len(cleaned) == 0 {
		return 0, nil
	}

	unlock := in.lock(sec.ID)
	defer unlock()

	if _, err := in.store.SaveKData(sec, in.config.Level, cleaned); err != nil {
		return 0, fmt.Errorf("save kdata %s: %w", sec.ID, err)
	}
	in.recordRows(sec.ID, len(cleaned))
	return len(cleaned), nil
}

// IngestTicks merges one day's tick batch.
func (in *Ingester) IngestTicks(ctx context.Context, sec market.Security, date time.Time, batch []market.Tick) (int, error) {
	if err := sec.Validate(); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(batch) == 0 {
		return 0, nil
	}

	unlock := in.lock(sec.ID)
	defer unlock()

	if _, err := in.store.SaveTicks(sec, date, batch); err != nil {
		return 0, fmt.Errorf("save ticks %s: %w", sec.ID, err)
	}
	in.recordRows(sec.ID, len(batch))
	return len(batch), nil
}

// RunResult 单次运行结果
type RunResult struct {
	RunID  string
	Rows   map[string]int
	Failed map[string]error
}

// Run fetches and ingests new candles for every security, with bounded concurrency.
// A failing security is recorded and does not stop the others.
func (in *Ingester) Run(ctx context.Context, securities []market.Security) (*RunResult, error) {
	if in.source == nil {
		return nil, errors.New("ingester has no kdata source")
	}

	result := &RunResult{
		RunID:  uuid.NewString(),
		Rows:   make(map[string]int),
		Failed: make(map[string]error),
	}
	logger := in.logger.With(zap.String("run_id", result.RunID))
	logger.Info("ingestion run started", zap.Int("securities", len(securities)))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(in.config.Concurrency)

	for _, sec := range securities {
		g.Go(func() error {
			n, err := in.ingestSecurity(gctx, sec)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				logger.Warn("ingest failed", zap.String("security", sec.ID), zap.Error(err))
				result.Failed[sec.ID] = err
				return nil
			}
			result.Rows[sec.ID] = n
			return nil
		})
	}
	err := g.Wait()

	in.statsLock.Lock()
	in.stats.Runs++
	in.stats.FailedSecs += int64(len(result.Failed))
	in.stats.LastRunID = result.RunID
	in.stats.LastIngestion = time.Now()
	in.statsLock.Unlock()

	logger.Info("ingestion run finished",
		zap.Int("ingested", len(result.Rows)),
		zap.Int("failed", len(result.Failed)))
	return result, err
}

func (in *Ingester) ingestSecurity(ctx context.Context, sec market.Security) (int, error) {
	if err := sec.Validate(); err != nil {
		return 0, err
	}
	since, ok, err := in.store.LatestKDataTimestamp(sec, in.config.Level)
	if err != nil {
		return 0, err
	}
	if !ok {
		since = time.Time{}
	}

	batch, err := in.source.FetchKData(ctx, sec, since)
	if err != nil {
		return 0, fmt.Errorf("fetch data failed: %w", err)
	}
	return in.IngestKData(ctx, sec, batch)
}

func (in *Ingester) recordRows(id string, n int) {
	in.statsLock.Lock()
	defer in.statsLock.Unlock()
	in.stats.TotalRows += int64(n)
	in.stats.Securities[id] += int64(n)
}

func (in *Ingester) recordRejected(n int) {
	if n == 0 {
		return
	}
	in.statsLock.Lock()
	defer in.statsLock.Unlock()
	in.stats.RejectedRows += int64(n)
}

// GetStats 获取统计信息
func (in *Ingester) GetStats() IngestionStats {
	in.statsLock.RLock()
	defer in.statsLock.RUnlock()

	stats := in.stats
	stats.Securities = make(map[string]int64, len(in.stats.Securities))
	for k, v := range in.stats.Securities {
		stats.Securities[k] = v
	}
	return stats
}

// DirSource reads downloaded 163 history files named {dir}/{code}.csv.
type DirSource struct {
	Dir string
}

// FetchKData decodes the security's file and keeps rows at or after since.
// A missing file yields no rows.
func (d DirSource) FetchKData(ctx context.Context, sec market.Security, since time.Time) ([]market.Candle, error) {
	path := filepath.Join(d.Dir, sec.Code+".csv")
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &market.StorageError{Op: "open", Path: path, Cause: err}
	}
	defer f.Close()

	candles, err := market.Decode163(f, sec)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if since.IsZero() {
		return candles, nil
	}
	out := candles[:0]
	for _, c := range candles {
		if !c.Timestamp.Before(since) {
			out = append(out, c)
		}
	}
	return out, nil
}
