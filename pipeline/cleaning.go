package pipeline

import (
	"fmt"
	"sync"
	"time"

	"github.com/guregu/null/v6"

	"quantstore/market"
)

// CleaningRule 清洗规则. A non-nil error rejects the candle.
type CleaningRule interface {
	Apply(market.Candle) error
	Name() string
}

// QualityIssue 质量问题
type QualityIssue struct {
	Rule      string    `json:"rule"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Security  string    `json:"security"`
}

// CleaningStats 清洗统计
type CleaningStats struct {
	TotalProcessed int64            `json:"total_processed"`
	Passed         int64            `json:"passed"`
	Rejected       int64            `json:"rejected"`
	Issues         map[string]int64 `json:"issues"`
	LastClean      time.Time        `json:"last_clean"`
}

// DataCleaner 数据清洗器
type DataCleaner struct {
	rules []CleaningRule

	stats     CleaningStats
	statsLock sync.Mutex
}

// NewDataCleaner 创建数据清洗器 with the default rules.
func NewDataCleaner() *DataCleaner {
	cleaner := &DataCleaner{
		stats: CleaningStats{Issues: make(map[string]int64)},
	}
	cleaner.AddRule(NewRequiredColumnsRule())
	cleaner.AddRule(NewPriceValidationRule())
	cleaner.AddRule(NewVolumeValidationRule())
	cleaner.AddRule(NewTimestampValidationRule())
	return cleaner
}

// AddRule 添加清洗规则
func (dc *DataCleaner) AddRule(rule CleaningRule) {
	dc.rules = append(dc.rules, rule)
}

// Clean 清洗数据: keeps candles that pass every rule, in input order.
func (dc *DataCleaner) Clean(candles []market.Candle) ([]market.Candle, []QualityIssue) {
	var cleaned []market.Candle
	var issues []QualityIssue

	dc.statsLock.Lock()
	defer dc.statsLock.Unlock()

	for _, c := range candles {
		dc.stats.TotalProcessed++

		var candleIssues []QualityIssue
		for _, rule := range dc.rules {
			if err := rule.Apply(c); err != nil {
				candleIssues = append(candleIssues, QualityIssue{
					Rule:      rule.Name(),
					Message:   err.Error(),
					Timestamp: c.Timestamp,
					Security:  c.SecurityID,
				})
				dc.stats.Issues[rule.Name()]++
			}
		}

		if len(candleIssues) > 0 {
			dc.stats.Rejected++
			issues = append(issues, candleIssues...)
			continue
		}
		dc.stats.Passed++
		cleaned = append(cleaned, c)
	}

	dc.stats.LastClean = time.Now()
	return cleaned, issues
}

// GetStats 获取统计信息
func (dc *DataCleaner) GetStats() CleaningStats {
	dc.statsLock.Lock()
	defer dc.statsLock.Unlock()

	stats := dc.stats
	stats.Issues = make(map[string]int64, len(dc.stats.Issues))
	for k, v := range dc.stats.Issues {
		stats.Issues[k] = v
	}
	return stats
}

// ============ 清洗规则实现 ============

// RequiredColumn 必填列
type RequiredColumn struct {
	Name string
	Get  func(market.Candle) null.Float
}

// RequiredColumnsRule 必填列规则: crawl rows with a missing price are dropped.
// The first missing column, in Columns order, is reported.
type RequiredColumnsRule struct {
	Columns []RequiredColumn
}

func NewRequiredColumnsRule() *RequiredColumnsRule {
	return &RequiredColumnsRule{
		Columns: []RequiredColumn{
			{"open", func(c market.Candle) null.Float { return c.Open }},
			{"close", func(c market.Candle) null.Float { return c.Close }},
			{"high", func(c market.Candle) null.Float { return c.High }},
			{"low", func(c market.Candle) null.Float { return c.Low }},
			{"volume", func(c market.Candle) null.Float { return c.Volume }},
		},
	}
}

func (r *RequiredColumnsRule) Name() string {
	return "required_columns"
}

func (r *RequiredColumnsRule) Apply(c market.Candle) error {
	for _, col := range r.Columns {
		if !col.Get(c).Valid {
			return fmt.Errorf("missing %s", col.Name)
		}
	}
	return nil
}

// PriceValidationRule 价格验证规则
type PriceValidationRule struct {
	MinPrice float64
	MaxPrice float64
}

func NewPriceValidationRule() *PriceValidationRule {
	return &PriceValidationRule{
		MinPrice: 0,
		MaxPrice: 1000000.0,
	}
}

func (r *PriceValidationRule) Name() string {
	return "price_validation"
}

func (r *PriceValidationRule) Apply(c market.Candle) error {
	if !c.Close.Valid || !c.High.Valid || !c.Low.Valid {
		return nil
	}
	// 停牌日收盘价可为0
	if c.Close.Float64 < r.MinPrice || c.Close.Float64 > r.MaxPrice {
		return fmt.Errorf("price %.2f out of range [%.2f, %.2f]", c.Close.Float64, r.MinPrice, r.MaxPrice)
	}

	// 检查高低价
	if c.High.Float64 < c.Low.Float64 {
		return fmt.Errorf("high price %.2f less than low price %.2f", c.High.Float64, c.Low.Float64)
	}
	if c.Close.Float64 < c.Low.Float64 || c.Close.Float64 > c.High.Float64 {
		return fmt.Errorf("close price %.2f outside range [%.2f, %.2f]", c.Close.Float64, c.Low.Float64, c.High.Float64)
	}
	return nil
}

// VolumeValidationRule 成交量验证规则
type VolumeValidationRule struct{}

func NewVolumeValidationRule() *VolumeValidationRule {
	return &VolumeValidationRule{}
}

func (r *VolumeValidationRule) Name() string {
	return "volume_validation"
}

func (r *VolumeValidationRule) Apply(c market.Candle) error {
	if c.Volume.Valid && c.Volume.Float64 < 0 {
		return fmt.Errorf("volume %.2f is negative", c.Volume.Float64)
	}
	if c.Turnover.Valid && c.Turnover.Float64 < 0 {
		return fmt.Errorf("turnover %.2f is negative", c.Turnover.Float64)
	}
	return nil
}

// TimestampValidationRule 时间戳验证规则
type TimestampValidationRule struct {
	MaxFuture time.Duration
	now       func() time.Time
}

func NewTimestampValidationRule() *TimestampValidationRule {
	return &TimestampValidationRule{
		MaxFuture: 24 * time.Hour, // 交易所时区差异
		now:       time.Now,
	}
}

func (r *TimestampValidationRule) Name() string {
	return "timestamp_validation"
}

func (r *TimestampValidationRule) Apply(c market.Candle) error {
	if c.Timestamp.IsZero() {
		return fmt.Errorf("missing timestamp")
	}
	if c.Timestamp.After(r.now().Add(r.MaxFuture)) {
		return fmt.Errorf("timestamp %s is too far in the future", market.FormatTime(c.Timestamp))
	}
	return nil
}
