package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/guregu/null/v6"

	"quantstore/market"
	"quantstore/pipeline"
	"quantstore/store"
)

type staticSource map[string][]market.Candle

func (s staticSource) FetchKData(ctx context.Context, sec market.Security, since time.Time) ([]market.Candle, error) {
	return s[sec.ID], nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(t.TempDir(), store.Options{}, nil)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	secs := []market.Security{
		{Type: market.TypeStock, Exchange: "sh", Code: "600000", Name: "浦发银行"},
		{Type: market.TypeStock, Exchange: "sh", Code: "600004", Name: "白云机场"},
	}
	if err := st.Registry().Save(market.TypeStock, "sh", secs); err != nil {
		t.Fatalf("Save: %v", err)
	}
	return st
}

func candle(day string, close float64) market.Candle {
	at, err := market.ParseTime(day)
	if err != nil {
		panic(err)
	}
	return market.Candle{
		Timestamp: at,
		Open:      null.FloatFrom(close),
		High:      null.FloatFrom(close),
		Low:       null.FloatFrom(close),
		Close:     null.FloatFrom(close),
		Volume:    null.FloatFrom(100),
	}
}

func TestSecurities(t *testing.T) {
	st := newTestStore(t)

	tests := []struct {
		name string
		refs []string
		want []string
	}{
		{"all stocks", nil, []string{"stock_sh_600000", "stock_sh_600004"}},
		{"deduplicated", []string{"600000", "stock_sh_600000"}, []string{"stock_sh_600000"}},
		{"unknown skipped", []string{"999999", "600004"}, []string{"stock_sh_600004"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewScheduler(context.Background(), st, nil, tt.refs, nil)
			got, err := s.Securities()
			if err != nil {
				t.Fatalf("Securities: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d securities, want %v", len(got), tt.want)
			}
			for i := range tt.want {
				if got[i].ID != tt.want[i] {
					t.Errorf("security %d = %s, want %s", i, got[i].ID, tt.want[i])
				}
			}
		})
	}
}

func TestRunNow(t *testing.T) {
	st := newTestStore(t)
	source := staticSource{
		"stock_sh_600000": {candle("2018-01-02", 10), candle("2018-01-03", 11)},
	}
	in := pipeline.NewIngester(pipeline.IngestionConfig{Concurrency: 1}, st, source, nil)
	s := NewScheduler(context.Background(), st, in, []string{"600000"}, nil)

	result, err := s.RunNow(context.Background())
	if err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if result.Rows["stock_sh_600000"] != 2 {
		t.Errorf("rows = %v", result.Rows)
	}

	res, err := st.KData(store.TextRef("600000"), store.KDataQuery{})
	if err != nil {
		t.Fatalf("KData: %v", err)
	}
	if len(res.Candles) != 2 {
		t.Errorf("stored %d candles, want 2", len(res.Candles))
	}
}

func TestRegister(t *testing.T) {
	s := NewScheduler(context.Background(), newTestStore(t), nil, nil, nil)
	if err := s.Register("not a schedule"); err == nil {
		t.Error("expected error for invalid schedule")
	}
	if err := s.Register("0 30 16 * * 1-5"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	s.Start()
	s.Stop()
}
