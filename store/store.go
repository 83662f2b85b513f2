// Package store is the file-based time-series store: per-security CSV series,
// the security registry, identity resolution, candle and tick read paths.
package store

import (
	"go.uber.org/zap"

	"quantstore/locator"
	"quantstore/market"
)

// Options 存储配置
type Options struct {
	// Exchanges maps each security type to its exchanges; nil selects DefaultExchanges.
	Exchanges         map[market.SecurityType][]string
	RegistryCacheSize int
	Adjust            market.AdjustOptions
}

// Store 文件存储. Writes assume one writer per file; see pipeline.Ingester for serialization.
type Store struct {
	loc      *locator.Locator
	registry *Registry
	adjust   market.AdjustOptions
	logger   *zap.Logger
}

// New opens a store rooted at root.
func New(root string, opts Options, logger *zap.Logger) (*Store, error) {
	if root == "" {
		return nil, market.Configf("store root is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	loc := locator.New(root)
	registry, err := NewRegistry(loc, opts.Exchanges, opts.RegistryCacheSize, logger.Named("registry"))
	if err != nil {
		return nil, err
	}
	return &Store{
		loc:      loc,
		registry: registry,
		adjust:   opts.Adjust,
		logger:   logger,
	}, nil
}

// Locator returns the path resolver.
func (s *Store) Locator() *locator.Locator { return s.loc }

// Registry returns the security registry.
func (s *Store) Registry() *Registry { return s.registry }

// Resolve resolves ref to a single security.
func (s *Store) Resolve(ref Ref) (market.Security, error) {
	return s.registry.Resolve(ref)
}

// Securities lists registry rows matching q.
func (s *Store) Securities(q SecurityQuery) ([]market.Security, error) {
	return s.registry.List(q)
}
