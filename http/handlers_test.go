package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/guregu/null/v6"
	"go.uber.org/zap"

	"quantstore/market"
	"quantstore/pipeline"
	"quantstore/store"
)

func day(s string) time.Time {
	t, err := market.ParseTime(s)
	if err != nil {
		panic(err)
	}
	return t
}

func candle(at string, close, factor float64) market.Candle {
	return market.Candle{
		Timestamp: day(at),
		Open:      null.FloatFrom(close),
		High:      null.FloatFrom(close),
		Low:       null.FloatFrom(close),
		Close:     null.FloatFrom(close),
		Volume:    null.FloatFrom(100),
		Factor:    null.FloatFrom(factor),
	}
}

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	st, err := store.New(t.TempDir(), store.Options{}, nil)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}

	sh := []market.Security{
		{Code: "600000", Name: "浦发银行", Timestamp: day("1999-11-10")},
		{Code: "000001", Name: "上证指数", Timestamp: day("1991-07-15")},
	}
	sz := []market.Security{{Code: "000001", Name: "平安银行", Timestamp: day("1991-04-03")}}
	if err := st.Registry().Save(market.TypeStock, "sh", sh); err != nil {
		t.Fatal(err)
	}
	if err := st.Registry().Save(market.TypeStock, "sz", sz); err != nil {
		t.Fatal(err)
	}

	pufa, err := st.Resolve(store.TextRef("600000"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := st.SaveKData(pufa, "", []market.Candle{
		candle("2018-01-02", 10, 2),
		candle("2018-01-03", 12, 4),
	}); err != nil {
		t.Fatal(err)
	}
	date := day("2018-03-13")
	if _, err := st.SaveTicks(pufa, date, []market.Tick{
		{Timestamp: date.Add(14*time.Hour + 59*time.Minute), Price: null.FloatFrom(12), ID: "1"},
		{Timestamp: date.Add(15 * time.Hour), Price: null.FloatFrom(12.1), ID: "2"},
		{Timestamp: date.Add(15 * time.Hour), Price: null.FloatFrom(12.1), ID: "3"},
	}); err != nil {
		t.Fatal(err)
	}

	in := pipeline.NewIngester(pipeline.IngestionConfig{}, st, nil, nil)
	return NewServer(DefaultServerConfig(), NewHandler(st, in, nil), nil), st
}

func get(t *testing.T, s *Server, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	var body map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("%s: decode body %q: %v", path, rr.Body.String(), err)
	}
	return rr, body
}

func TestHealthHandler(t *testing.T) {
	req, err := http.NewRequest("GET", "/api/health", nil)
	if err != nil {
		t.Fatal(err)
	}

	rr := httptest.NewRecorder()
	handler := http.HandlerFunc(NewHandler(nil, nil, nil).handleHealth)

	handler.ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusOK {
		t.Errorf("handler returned wrong status code: got %v want %v", status, http.StatusOK)
	}

	expected := `{"status":"ok"}`
	if rr.Body.String() != expected+"\n" && rr.Body.String() != expected {
		t.Errorf("handler returned unexpected body: got %v want %v", rr.Body.String(), expected)
	}
}

func TestStatusCodes(t *testing.T) {
	s, _ := newTestServer(t)

	tests := []struct {
		name string
		path string
		want int
	}{
		{"health", "/api/health", http.StatusOK},
		{"list", "/api/securities?type=stock", http.StatusOK},
		{"unknown type", "/api/securities?type=bond", http.StatusBadRequest},
		{"exchange without type", "/api/securities?exchange=sh", http.StatusBadRequest},
		{"bad start", "/api/securities?type=stock&start=yesterday", http.StatusBadRequest},
		{"resolve", "/api/securities/600000", http.StatusOK},
		{"composite id", "/api/securities/stock_sz_000001", http.StatusOK},
		{"ambiguous", "/api/securities/000001", http.StatusConflict},
		{"not found", "/api/securities/601988", http.StatusNotFound},
		{"unrecognized", "/api/securities/a-b", http.StatusBadRequest},
		{"kdata", "/api/kdata/600000", http.StatusOK},
		{"kdata missing at", "/api/kdata/600000?at=2018-01-05", http.StatusNotFound},
		{"ticks", "/api/ticks/600000", http.StatusOK},
		{"latest tick", "/api/ticks/600000/latest", http.StatusOK},
		{"no ticks", "/api/ticks/stock_sz_000001/latest", http.StatusNotFound},
		{"calendar", "/api/calendar/stock/sh?start=2018-01-01&end=2018-01-07", http.StatusOK},
		{"calendar without range", "/api/calendar/stock/sh", http.StatusBadRequest},
		{"ingestion stats", "/api/ingestion/stats", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr, body := get(t, s, tt.path)
			if rr.Code != tt.want {
				t.Errorf("GET %s = %d, want %d (body %v)", tt.path, rr.Code, tt.want, body)
			}
			if _, ok := body["error"]; rr.Code >= 400 && !ok {
				t.Errorf("GET %s: error body missing", tt.path)
			}
			if rr.Header().Get(RequestIDHeader) == "" {
				t.Errorf("GET %s: request id header missing", tt.path)
			}
		})
	}
}

func TestSecuritiesHandler(t *testing.T) {
	s, _ := newTestServer(t)

	_, body := get(t, s, "/api/securities?type=stock&code=000001")
	if body["count"].(float64) != 2 {
		t.Fatalf("count = %v, want 2", body["count"])
	}
	data := body["data"].([]interface{})
	first := data[0].(map[string]interface{})
	if first["id"] != "stock_sh_000001" || first["name"] != "上证指数" {
		t.Errorf("first = %v", first)
	}

	_, body = get(t, s, "/api/securities?type=stock&exchange=sz")
	if body["count"].(float64) != 1 {
		t.Errorf("count = %v, want 1", body["count"])
	}
}

func TestKDataHandler(t *testing.T) {
	s, _ := newTestServer(t)

	_, body := get(t, s, "/api/kdata/600000?start=2018-01-02&end=2018-01-02")
	if body["latestFactor"].(float64) != 4 {
		t.Errorf("latestFactor = %v, want 4", body["latestFactor"])
	}
	data := body["data"].([]interface{})
	if len(data) != 1 {
		t.Fatalf("got %d rows, want 1", len(data))
	}
	row := data[0].(map[string]interface{})
	if row["hfqClose"].(float64) != 20 || row["qfqClose"].(float64) != 5 {
		t.Errorf("row = %v", row)
	}
	sec := body["security"].(map[string]interface{})
	if sec["id"] != "stock_sh_600000" {
		t.Errorf("security = %v", sec)
	}
}

func TestTickHandlers(t *testing.T) {
	s, _ := newTestServer(t)

	_, body := get(t, s, "/api/ticks/600000/latest")
	if body["timestamp"] != "2018-03-13 15:00:00" {
		t.Errorf("timestamp = %v", body["timestamp"])
	}
	ids := body["ids"].([]interface{})
	if len(ids) != 2 || ids[0] != "2" || ids[1] != "3" {
		t.Errorf("ids = %v", ids)
	}

	_, body = get(t, s, "/api/ticks/600000?date=2018-03-13")
	tables := body["data"].([]interface{})
	if len(tables) != 1 {
		t.Fatalf("got %d tables, want 1", len(tables))
	}
	table := tables[0].(map[string]interface{})
	if table["date"] != "2018-03-13" || len(table["ticks"].([]interface{})) != 3 {
		t.Errorf("table = %v", table)
	}

	_, body = get(t, s, "/api/ticks/600000?start=2018-03-14")
	if len(body["data"].([]interface{})) != 0 {
		t.Errorf("expected no tables after 2018-03-14, got %v", body["data"])
	}

	_, body = get(t, s, "/api/ticks/600000/dates")
	if dates := body["dates"].([]interface{}); len(dates) != 1 || dates[0] != "2018-03-13" {
		t.Errorf("dates = %v", dates)
	}
}

func TestCalendarHandler(t *testing.T) {
	s, st := newTestServer(t)
	if err := st.SaveTradingCalendar(market.TypeStock, "sh", []time.Time{
		day("2018-01-02"), day("2018-01-03"), day("2018-01-04"), day("2018-01-05"),
	}); err != nil {
		t.Fatal(err)
	}

	_, body := get(t, s, "/api/calendar/stock/sh?start=2018-01-01&end=2018-01-04")
	days := body["days"].([]interface{})
	if len(days) != 3 || days[0] != "2018-01-02" || days[2] != "2018-01-04" {
		t.Errorf("days = %v", days)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := RecoveryMiddleware(nopLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rr.Code)
	}
}

func TestRequestIDPropagation(t *testing.T) {
	var seen string
	handler := LoggerMiddleware(nopLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if seen != "abc-123" || rr.Header().Get(RequestIDHeader) != "abc-123" {
		t.Errorf("request id = %q, header %q", seen, rr.Header().Get(RequestIDHeader))
	}
}

func nopLogger() *zap.Logger { return zap.NewNop() }
