package store

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"

	"quantstore/market"
)

// SaveMeta writes {type}/{exchange}/{code}/meta.json.
func (s *Store) SaveMeta(sec market.Security) error {
	if err := sec.Validate(); err != nil {
		return err
	}
	path, err := s.loc.SecurityMetaPath(sec)
	if err != nil {
		return err
	}
	return writeJSON(path, sec)
}

// LoadMeta reads the security's meta.json.
func (s *Store) LoadMeta(sec market.Security) (market.Security, error) {
	if err := sec.Validate(); err != nil {
		return market.Security{}, err
	}
	path, err := s.loc.SecurityMetaPath(sec)
	if err != nil {
		return market.Security{}, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return market.Security{}, &market.NotFoundError{What: "security meta", Key: sec.ID}
	}
	if err != nil {
		return market.Security{}, &market.StorageError{Op: "read", Path: path, Cause: err}
	}
	var meta market.Security
	if err := json.Unmarshal(data, &meta); err != nil {
		return market.Security{}, &market.ParseError{Path: path, Cause: err}
	}
	return meta, nil
}
