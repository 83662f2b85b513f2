package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/guregu/null/v6"

	"quantstore/market"
)

func tick(at string, price float64, id string) market.Tick {
	return market.Tick{
		Timestamp: ts(at),
		Price:     null.FloatFrom(price),
		Volume:    null.FloatFrom(100),
		Turnover:  null.FloatFrom(price * 100),
		Direction: "买盘",
		ID:        id,
	}
}

func TestTicksEmptyDir(t *testing.T) {
	s := newTestStore(t)
	dir, _ := s.Locator().TickDir(pufa)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}

	n := 0
	for _, err := range s.Ticks(pufa, TickQuery{}) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		n++
	}
	if n != 0 {
		t.Errorf("got %d tables, want none", n)
	}
}

func TestTicksMissingDir(t *testing.T) {
	s := newTestStore(t)
	for table, err := range s.Ticks(pufa, TickQuery{}) {
		t.Errorf("unexpected table %v, err %v", table, err)
	}
}

func seedTicks(t *testing.T, s *Store) {
	t.Helper()
	days := map[string][]market.Tick{
		"2018-03-09": {tick("2018-03-09 09:30:00", 11.2, "1"), tick("2018-03-09 09:25:00", 11.1, "0")},
		"2018-03-12": {tick("2018-03-12 09:30:01", 11.4, "2")},
		"2018-03-13": {
			tick("2018-03-13 14:59:59", 11.8, "5"),
			tick("2018-03-13 15:00:00", 11.9, "6"),
			tick("2018-03-13 15:00:00", 11.9, "7"),
		},
	}
	for day, batch := range days {
		if _, err := s.SaveTicks(pufa, ts(day), batch); err != nil {
			t.Fatalf("SaveTicks %s: %v", day, err)
		}
	}
}

func TestTicksEnumerate(t *testing.T) {
	s := newTestStore(t)
	seedTicks(t, s)
	dir, _ := s.Locator().TickDir(pufa)
	writeFile(t, filepath.Join(dir, "notes.csv"), "timestamp\n")

	tests := []struct {
		name  string
		query TickQuery
		want  []string
	}{
		{"all", TickQuery{}, []string{"2018-03-09", "2018-03-12", "2018-03-13"}},
		{"start", TickQuery{Start: ts("2018-03-10")}, []string{"2018-03-12", "2018-03-13"}},
		{"window", TickQuery{Start: ts("2018-03-09"), End: ts("2018-03-12")}, []string{"2018-03-09", "2018-03-12"}},
		{"single day", TickQuery{Date: ts("2018-03-12")}, []string{"2018-03-12"}},
		{"absent day", TickQuery{Date: ts("2018-03-10")}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for table, err := range s.Ticks(pufa, tt.query) {
				if err != nil {
					t.Fatalf("Ticks: %v", err)
				}
				got = append(got, market.FormatDay(table.Date))
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("dates = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTicksTimestampAndTags(t *testing.T) {
	s := newTestStore(t)
	seedTicks(t, s)

	path, _ := s.Locator().TickPath(pufa, ts("2018-03-09"))
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "\n09:25:00,") {
		t.Errorf("stock tick file should store the time of day:\n%s", data)
	}

	for table, err := range s.Ticks(pufa, TickQuery{Date: ts("2018-03-09")}) {
		if err != nil {
			t.Fatal(err)
		}
		if len(table.Ticks) != 2 {
			t.Fatalf("got %d ticks", len(table.Ticks))
		}
		first := table.Ticks[0]
		if market.FormatTime(first.Timestamp) != "2018-03-09 09:25:00" {
			t.Errorf("timestamp = %s", market.FormatTime(first.Timestamp))
		}
		if first.Code != "600000" || first.SecurityID != "stock_sh_600000" {
			t.Errorf("tick not tagged: %+v", first)
		}
	}
}

func TestTicksRestartable(t *testing.T) {
	s := newTestStore(t)
	seedTicks(t, s)

	seq := s.Ticks(pufa, TickQuery{})
	count := func() int {
		n := 0
		for _, err := range seq {
			if err != nil {
				t.Fatal(err)
			}
			n++
		}
		return n
	}
	if first := count(); first != 3 {
		t.Fatalf("first pass = %d", first)
	}
	if _, err := s.SaveTicks(pufa, ts("2018-03-14"), []market.Tick{tick("2018-03-14 09:30:00", 12, "9")}); err != nil {
		t.Fatal(err)
	}
	if second := count(); second != 4 {
		t.Errorf("second pass = %d, want 4 (re-read from disk)", second)
	}
}

func TestLatestTick(t *testing.T) {
	s := newTestStore(t)

	latest, err := s.LatestTick(pufa)
	if err != nil || latest != nil {
		t.Fatalf("no ticks: got %v, %v", latest, err)
	}

	seedTicks(t, s)
	latest, err = s.LatestTick(pufa)
	if err != nil {
		t.Fatalf("LatestTick: %v", err)
	}
	if market.FormatTime(latest.Timestamp) != "2018-03-13 15:00:00" {
		t.Errorf("timestamp = %s", market.FormatTime(latest.Timestamp))
	}
	if strings.Join(latest.IDs, ",") != "6,7" {
		t.Errorf("ids = %v, want [6 7]", latest.IDs)
	}
	if len(latest.Table.Ticks) != 3 {
		t.Errorf("table has %d ticks", len(latest.Table.Ticks))
	}
}

func TestSaveTicksKeepsSameInstantTrades(t *testing.T) {
	s := newTestStore(t)
	day := ts("2018-03-13")
	batch := []market.Tick{tick("2018-03-13 15:00:00", 11.9, "6"), tick("2018-03-13 15:00:00", 11.9, "7")}

	if _, err := s.SaveTicks(pufa, day, batch); err != nil {
		t.Fatal(err)
	}
	n, err := s.SaveTicks(pufa, day, batch[:1])
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("merged rows = %d, want 2", n)
	}
}

func TestMissingTickDates(t *testing.T) {
	s := newTestStore(t)
	seedTicks(t, s)

	cal := market.NewCalendar("sh", []time.Time{ts("2018-03-09"), ts("2018-03-12"), ts("2018-03-13"), ts("2018-03-14")})
	missing, err := s.MissingTickDates(pufa, ts("2018-03-09"), ts("2018-03-14"), cal)
	if err != nil {
		t.Fatal(err)
	}
	if len(missing) != 1 || market.FormatDay(missing[0]) != "2018-03-14" {
		t.Errorf("missing = %v, want [2018-03-14]", missing)
	}
}
