package store

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"quantstore/locator"
	"quantstore/market"
)

// DefaultExchanges 默认交易所配置
var DefaultExchanges = map[market.SecurityType][]string{
	market.TypeStock:  {"sh", "sz", "nasdaq", "amex", "nyse"},
	market.TypeIndex:  {"sh", "sz", "nasdaq"},
	market.TypeFuture: {"shfe", "dce", "czce", "cffex"},
	market.TypeCoin:   {"binance", "huobi", "okex"},
}

const defaultRegistryCacheSize = 64

type cachedList struct {
	modTime    time.Time
	size       int64
	securities []market.Security
}

// Registry 标的注册表: per-exchange security lists under {type}/{exchange}.csv.
//
// Parsed lists are cached and revalidated against the file's mtime and size on
// every access, so a rewritten file is always reread.
type Registry struct {
	loc       *locator.Locator
	exchanges map[market.SecurityType][]string
	cache     *lru.Cache[string, cachedList]
	logger    *zap.Logger

	mu sync.Mutex // serializes Save
}

// NewRegistry creates a registry. A nil exchanges map selects DefaultExchanges.
func NewRegistry(loc *locator.Locator, exchanges map[market.SecurityType][]string, cacheSize int, logger *zap.Logger) (*Registry, error) {
	if exchanges == nil {
		exchanges = DefaultExchanges
	}
	if cacheSize <= 0 {
		cacheSize = defaultRegistryCacheSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cache, err := lru.New[string, cachedList](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Registry{loc: loc, exchanges: exchanges, cache: cache, logger: logger}, nil
}

// Exchanges returns the configured exchanges for t.
func (r *Registry) Exchanges(t market.SecurityType) []string {
	return r.exchanges[t]
}

// Types returns the configured security types in a stable order.
func (r *Registry) Types() []market.SecurityType {
	types := make([]market.SecurityType, 0, len(r.exchanges))
	for t := range r.exchanges {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

// SecurityQuery 标的查询条件. Zero fields are unbounded.
type SecurityQuery struct {
	Type      market.SecurityType
	Exchanges []string
	Codes     []string
	Start     time.Time
	End       time.Time
}

// List loads the requested exchange files, applies the listing date range and the code filter.
// Missing exchange files are skipped. An empty Type lists every configured type.
func (r *Registry) List(q SecurityQuery) ([]market.Security, error) {
	types := []market.SecurityType{q.Type}
	if q.Type == "" {
		if len(q.Exchanges) > 0 {
			return nil, market.Configf("security type is required when exchanges are given")
		}
		types = r.Types()
	}

	var out []market.Security
	for _, t := range types {
		exchanges := q.Exchanges
		if len(exchanges) == 0 {
			exchanges = r.exchanges[t]
		}
		if len(exchanges) == 0 {
			return nil, market.Configf("no exchanges configured for security type %q", t)
		}
		for _, exchange := range exchanges {
			secs, err := r.load(t, exchange)
			if err != nil {
				return nil, err
			}
			out = append(out, secs...)
		}
	}

	out = FilterRange(out, q.Start, q.End)
	if len(q.Codes) > 0 {
		out = slices.DeleteFunc(out, func(s market.Security) bool {
			return !slices.Contains(q.Codes, s.Code)
		})
	}
	return out, nil
}

// Lookup returns the single security with code among the given exchanges.
func (r *Registry) Lookup(t market.SecurityType, exchanges []string, code string) (market.Security, error) {
	secs, err := r.List(SecurityQuery{Type: t, Exchanges: exchanges, Codes: []string{code}})
	if err != nil {
		return market.Security{}, err
	}
	key := string(t) + ":" + strings.Join(exchanges, ",") + ":" + code
	switch len(secs) {
	case 0:
		return market.Security{}, &market.NotFoundError{What: "security", Key: key}
	case 1:
		return secs[0], nil
	}
	ids := make([]string, len(secs))
	for i, s := range secs {
		ids[i] = s.ID
	}
	return market.Security{}, &market.AmbiguousReferenceError{Ref: key, Matches: ids}
}

// Save replaces the list for (t, exchange). Rows are unique by ID, last occurrence wins.
func (r *Registry) Save(t market.SecurityType, exchange string, secs []market.Security) error {
	path, err := r.loc.SecurityListPath(t, exchange)
	if err != nil {
		return err
	}
	rows := make([]market.Security, 0, len(secs))
	for _, s := range secs {
		if s.Type == "" {
			s.Type = t
		}
		if s.Exchange == "" {
			s.Exchange = exchange
		}
		if err := s.Validate(); err != nil {
			return err
		}
		rows = append(rows, s)
	}
	rows = DedupeLast(rows, func(s market.Security) string { return s.ID })

	r.mu.Lock()
	defer r.mu.Unlock()
	err = WriteSeries(rows, path, SecuritySchema(t, exchange), WriteOptions{KeepDuplicates: true})
	r.cache.Remove(path)
	return err
}

func (r *Registry) load(t market.SecurityType, exchange string) ([]market.Security, error) {
	path, err := r.loc.SecurityListPath(t, exchange)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		r.logger.Debug("security list missing",
			zap.String("type", string(t)),
			zap.String("exchange", exchange))
		return nil, nil
	}
	if err != nil {
		return nil, &market.StorageError{Op: "stat", Path: path, Cause: err}
	}

	if c, ok := r.cache.Get(path); ok && c.modTime.Equal(info.ModTime()) && c.size == info.Size() {
		return c.securities, nil
	}

	series, err := ReadSeries(path, SecuritySchema(t, exchange))
	if err != nil {
		return nil, err
	}
	r.cache.Add(path, cachedList{modTime: info.ModTime(), size: info.Size(), securities: series.Records})
	return series.Records, nil
}

// Watch evicts cached lists whenever a registry file changes, until ctx is done.
func (r *Registry) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	for _, t := range r.Types() {
		dir := filepath.Join(r.loc.Root(), string(t))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &market.StorageError{Op: "mkdir", Path: dir, Cause: err}
		}
		if err := watcher.Add(dir); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Ext(event.Name) != ".csv" {
				continue
			}
			if r.cache.Remove(event.Name) {
				r.logger.Info("security list changed", zap.String("path", event.Name), zap.String("op", event.Op.String()))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("registry watcher error", zap.Error(err))
		}
	}
}
