package market

import (
	"strconv"
	"strings"

	"github.com/guregu/null/v6"
)

// ParseFloat reads a numeric cell. Blank and placeholder cells are null.
func ParseFloat(s string) (null.Float, error) {
	s = strings.TrimSpace(s)
	switch s {
	case "", "None", "none", "NaN", "nan", "null", "NULL":
		return null.Float{}, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return null.Float{}, err
	}
	return null.FloatFrom(f), nil
}

// FormatFloat writes a numeric cell; null becomes an empty cell.
func FormatFloat(f null.Float) string {
	if !f.Valid {
		return ""
	}
	return strconv.FormatFloat(f.Float64, 'f', -1, 64)
}
