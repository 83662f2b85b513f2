package store

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"quantstore/market"
)

// PutCache stores an exchange cache blob. Entries are immutable: an existing entry
// is left untouched and PutCache reports false.
func (s *Store) PutCache(t market.SecurityType, exchange string, date time.Time, kind string, data []byte) (bool, error) {
	path, err := s.loc.ExchangeCachePath(t, exchange, date, kind)
	if err != nil {
		return false, err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, &market.StorageError{Op: "create", Path: path, Cause: err}
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return false, &market.StorageError{Op: "write", Path: path, Cause: err}
	}
	if err := f.Close(); err != nil {
		return false, &market.StorageError{Op: "close", Path: path, Cause: err}
	}
	return true, nil
}

// GetCache reads an exchange cache blob.
func (s *Store) GetCache(t market.SecurityType, exchange string, date time.Time, kind string) ([]byte, error) {
	dir, err := s.loc.ExchangeCacheDir(t, exchange, date.Year(), kind)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, market.FormatDay(date))
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &market.NotFoundError{What: "cache entry", Key: path}
	}
	if err != nil {
		return nil, &market.StorageError{Op: "read", Path: path, Cause: err}
	}
	return data, nil
}
