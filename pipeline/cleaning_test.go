package pipeline

import (
	"testing"
	"time"

	"github.com/guregu/null/v6"

	"quantstore/market"
)

func day(s string) time.Time {
	t, err := market.ParseTime(s)
	if err != nil {
		panic(err)
	}
	return t
}

func bar(ts string, open, high, low, close float64) market.Candle {
	return market.Candle{
		Timestamp:  day(ts),
		SecurityID: "stock_sh_600000",
		Open:       null.FloatFrom(open),
		High:       null.FloatFrom(high),
		Low:        null.FloatFrom(low),
		Close:      null.FloatFrom(close),
		Volume:     null.FloatFrom(1000000),
	}
}

func TestNewDataCleaner(t *testing.T) {
	cleaner := NewDataCleaner()
	if cleaner == nil {
		t.Fatal("NewDataCleaner returned nil")
	}
	if len(cleaner.rules) == 0 {
		t.Error("No default rules added")
	}
}

func TestRequiredColumnsRule(t *testing.T) {
	rule := NewRequiredColumnsRule()

	missingClose := bar("2018-01-02", 10.45, 10.55, 10.40, 10.50)
	missingClose.Close = null.Float{}
	missingVolume := bar("2018-01-02", 10.45, 10.55, 10.40, 10.50)
	missingVolume.Volume = null.Float{}
	missingSeveral := missingVolume
	missingSeveral.Open = null.Float{}
	missingSeveral.Low = null.Float{}

	tests := []struct {
		name    string
		candle  market.Candle
		wantErr string
	}{
		{"complete", bar("2018-01-02", 10.45, 10.55, 10.40, 10.50), ""},
		{"missing close", missingClose, "missing close"},
		{"missing volume", missingVolume, "missing volume"},
		{"several missing", missingSeveral, "missing open"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for range 10 {
				err := rule.Apply(tt.candle)
				got := ""
				if err != nil {
					got = err.Error()
				}
				if got != tt.wantErr {
					t.Fatalf("RequiredColumnsRule.Apply() error = %q, want %q", got, tt.wantErr)
				}
			}
		})
	}
}

func TestPriceValidationRule(t *testing.T) {
	rule := NewPriceValidationRule()

	tests := []struct {
		name    string
		candle  market.Candle
		wantErr bool
	}{
		{"valid candle", bar("2018-01-02", 10.45, 10.55, 10.40, 10.50), false},
		{"suspended day", bar("2018-01-02", 0, 0, 0, 0), false},
		{"price too high", bar("2018-01-02", 1e7, 1e7, 1e7, 1e7), true},
		{"high less than low", bar("2018-01-02", 10.50, 10.40, 10.50, 10.45), true},
		{"close outside range", bar("2018-01-02", 10.45, 10.55, 10.40, 10.60), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := rule.Apply(tt.candle)
			if (err != nil) != tt.wantErr {
				t.Errorf("PriceValidationRule.Apply() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestVolumeValidationRule(t *testing.T) {
	rule := NewVolumeValidationRule()

	negative := bar("2018-01-02", 10, 10, 10, 10)
	negative.Volume = null.FloatFrom(-1)
	if err := rule.Apply(negative); err == nil {
		t.Error("negative volume should be rejected")
	}
	if err := rule.Apply(bar("2018-01-02", 10, 10, 10, 10)); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestTimestampValidationRule(t *testing.T) {
	rule := NewTimestampValidationRule()
	rule.now = func() time.Time { return day("2018-01-02") }

	tests := []struct {
		name    string
		at      time.Time
		wantErr bool
	}{
		{"today", day("2018-01-02"), false},
		{"past", day("2001-01-02"), false},
		{"zero", time.Time{}, true},
		{"next week", day("2018-01-09"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := bar("2018-01-02", 10, 10, 10, 10)
			c.Timestamp = tt.at
			if err := rule.Apply(c); (err != nil) != tt.wantErr {
				t.Errorf("TimestampValidationRule.Apply() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDataCleaner_Clean(t *testing.T) {
	cleaner := NewDataCleaner()

	missing := bar("2018-01-03", 10, 11, 9, 10)
	missing.Open = null.Float{}
	batch := []market.Candle{
		bar("2018-01-02", 10, 11, 9, 10.5),
		missing,
		bar("2018-01-04", 10, 9, 11, 10),
		bar("2018-01-05", 10.5, 11, 10, 10.8),
	}

	cleaned, issues := cleaner.Clean(batch)
	if len(cleaned) != 2 {
		t.Fatalf("got %d cleaned candles, want 2", len(cleaned))
	}
	if market.FormatDay(cleaned[1].Timestamp) != "2018-01-05" {
		t.Errorf("order not kept: %s", market.FormatDay(cleaned[1].Timestamp))
	}
	if len(issues) < 2 {
		t.Errorf("got %d issues, want at least 2", len(issues))
	}

	stats := cleaner.GetStats()
	if stats.TotalProcessed != 4 || stats.Passed != 2 || stats.Rejected != 2 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.Issues["required_columns"] != 1 || stats.Issues["price_validation"] != 1 {
		t.Errorf("issue counts = %v", stats.Issues)
	}
}
