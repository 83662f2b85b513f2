package http

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/guregu/null/v6"
	"go.uber.org/zap"

	"quantstore/market"
	"quantstore/pipeline"
	"quantstore/store"
)

// Handler serves the read API over a store.
type Handler struct {
	store    *store.Store
	ingester *pipeline.Ingester
	logger   *zap.Logger
}

// NewHandler creates a handler. ingester may be nil.
func NewHandler(st *store.Store, in *pipeline.Ingester, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: st, ingester: in, logger: logger}
}

// Register 注册所有处理器
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", h.handleHealth)

	// 标的
	mux.HandleFunc("GET /api/securities", h.handleSecurities)
	mux.HandleFunc("GET /api/securities/{ref}", h.handleSecurity)

	// 行情
	mux.HandleFunc("GET /api/kdata/{ref}", h.handleKData)
	mux.HandleFunc("GET /api/ticks/{ref}", h.handleTicks)
	mux.HandleFunc("GET /api/ticks/{ref}/dates", h.handleTickDates)
	mux.HandleFunc("GET /api/ticks/{ref}/latest", h.handleLatestTick)
	mux.HandleFunc("GET /api/calendar/{type}/{exchange}", h.handleCalendar)

	mux.HandleFunc("GET /api/ingestion/stats", h.handleIngestionStats)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

func (h *Handler) handleSecurities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var query store.SecurityQuery
	if v := q.Get("type"); v != "" {
		t, err := market.ParseSecurityType(v)
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		query.Type = t
	}
	query.Exchanges = splitList(q.Get("exchange"))
	query.Codes = splitList(q.Get("code"))

	var err error
	if query.Start, err = parseTimeParam(q.Get("start")); err != nil {
		h.respondError(w, r, err)
		return
	}
	if query.End, err = parseTimeParam(q.Get("end")); err != nil {
		h.respondError(w, r, err)
		return
	}

	secs, err := h.store.Securities(query)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if secs == nil {
		secs = []market.Security{}
	}
	respondJSON(w, map[string]interface{}{
		"count": len(secs),
		"data":  secs,
	})
}

func (h *Handler) handleSecurity(w http.ResponseWriter, r *http.Request) {
	sec, err := h.store.Resolve(store.TextRef(r.PathValue("ref")))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, sec)
}

type kdataResponse struct {
	Security     market.Security `json:"security"`
	LatestFactor null.Float      `json:"latestFactor"`
	Warnings     []string        `json:"warnings,omitempty"`
	Data         interface{}     `json:"data"`
}

func (h *Handler) handleKData(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := store.KDataQuery{Level: q.Get("level")}

	var err error
	if query.Start, err = parseTimeParam(q.Get("start")); err != nil {
		h.respondError(w, r, err)
		return
	}
	if query.End, err = parseTimeParam(q.Get("end")); err != nil {
		h.respondError(w, r, err)
		return
	}
	if query.At, err = parseTimeParam(q.Get("at")); err != nil {
		h.respondError(w, r, err)
		return
	}

	res, err := h.store.KData(store.TextRef(r.PathValue("ref")), query)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	resp := kdataResponse{
		Security:     res.Security,
		LatestFactor: res.LatestFactor,
		Warnings:     res.Warnings,
	}
	switch {
	case res.Adjusted != nil:
		resp.Data = res.Adjusted
	case res.Candles != nil:
		resp.Data = res.Candles
	default:
		resp.Data = []market.Candle{}
	}
	respondJSON(w, resp)
}

type tickTableResponse struct {
	Date  string        `json:"date"`
	Ticks []market.Tick `json:"ticks"`
}

func (h *Handler) handleTicks(w http.ResponseWriter, r *http.Request) {
	sec, err := h.store.Resolve(store.TextRef(r.PathValue("ref")))
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	q := r.URL.Query()
	var query store.TickQuery
	if query.Date, err = parseTimeParam(q.Get("date")); err != nil {
		h.respondError(w, r, err)
		return
	}
	if query.Start, err = parseTimeParam(q.Get("start")); err != nil {
		h.respondError(w, r, err)
		return
	}
	if query.End, err = parseTimeParam(q.Get("end")); err != nil {
		h.respondError(w, r, err)
		return
	}

	tables := []tickTableResponse{}
	for table, err := range h.store.Ticks(sec, query) {
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		tables = append(tables, tickTableResponse{
			Date:  market.FormatDay(table.Date),
			Ticks: table.Ticks,
		})
	}
	respondJSON(w, map[string]interface{}{
		"security": sec,
		"data":     tables,
	})
}

func (h *Handler) handleTickDates(w http.ResponseWriter, r *http.Request) {
	sec, err := h.store.Resolve(store.TextRef(r.PathValue("ref")))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	dates, err := h.store.TickDates(sec)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, map[string]interface{}{
		"security": sec,
		"dates":    formatDays(dates),
	})
}

func (h *Handler) handleLatestTick(w http.ResponseWriter, r *http.Request) {
	sec, err := h.store.Resolve(store.TextRef(r.PathValue("ref")))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	latest, err := h.store.LatestTick(sec)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if latest == nil || latest.Timestamp.IsZero() {
		h.respondError(w, r, &market.NotFoundError{What: "tick", Key: sec.ID})
		return
	}
	respondJSON(w, map[string]interface{}{
		"security":  sec,
		"timestamp": market.FormatTime(latest.Timestamp),
		"ids":       latest.IDs,
	})
}

func (h *Handler) handleCalendar(w http.ResponseWriter, r *http.Request) {
	t, err := market.ParseSecurityType(r.PathValue("type"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	q := r.URL.Query()
	start, err := parseTimeParam(q.Get("start"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	end, err := parseTimeParam(q.Get("end"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if start.IsZero() || end.IsZero() {
		h.respondError(w, r, market.Configf("start and end are required"))
		return
	}

	cal, err := h.store.Calendar(t, r.PathValue("exchange"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, map[string]interface{}{
		"exchange": r.PathValue("exchange"),
		"days":     formatDays(cal.TradingDays(start, end)),
	})
}

func (h *Handler) handleIngestionStats(w http.ResponseWriter, r *http.Request) {
	if h.ingester == nil {
		writeError(w, http.StatusServiceUnavailable, "ingestion is not enabled")
		return
	}
	respondJSON(w, h.ingester.GetStats())
}

// ============ 辅助函数 ============

func parseTimeParam(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := market.ParseTime(v)
	if err != nil {
		return time.Time{}, market.Configf("invalid time %q", v)
	}
	return t, nil
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func formatDays(days []time.Time) []string {
	out := make([]string, len(days))
	for i, d := range days {
		out[i] = market.FormatDay(d)
	}
	return out
}

// statusOf maps store errors onto HTTP status codes.
func statusOf(err error) int {
	switch {
	case market.IsConfiguration(err):
		return http.StatusBadRequest
	case market.IsNotFound(err):
		return http.StatusNotFound
	case market.IsAmbiguous(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	writeError(w, status, err.Error())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}
