package classify

import (
	"math"
	"strings"
	"time"
	"unicode"

	"github.com/KaramelBytes/tabloom/internal/dataset"
)

var (
	dateTokens        = []string{"date", "time", "timestamp", "day", "month", "year", "datetime"}
	qualityKeywords   = []string{"defect", "error", "fault", "failure", "reject", "waste", "scrap", "problem"}
	efficiencyKeyword = []string{"efficiency", "rate", "percent", "ratio", "performance", "proportion", "share"}
	durationKeywords  = []string{"duration", "downtime", "uptime", "minutes", "hours", "cycle", "interval"}
	quantityKeywords  = []string{"production", "volume", "quantity", "count", "amount", "sales", "revenue", "score", "total"}
)

// dateSample is how many non-null values are tried when sniffing dates.
const dateSample = 10

// Categorical thresholds for text columns.
const (
	maxCategoricalRatio    = 0.1
	maxCategoricalDistinct = 20
)

// Rules classifies every column of ds with the keyword and type rules. The
// first matching rule wins: date, numeric by keyword, text by cardinality,
// then other.
func Rules(ds *dataset.Dataset) *Metadata {
	cats := make(map[string]Category, len(ds.Columns))
	for _, col := range ds.Columns {
		cats[col] = ruleFor(col, ds.Column(col), ds.Len())
	}
	m, _ := NewMetadata(ds.Columns, cats)
	return m
}

func ruleFor(name string, vals []dataset.Value, rows int) Category {
	numeric := numericTyped(vals)
	switch {
	case isDateName(name) && (!numeric || plausibleDates(vals)):
		return Date
	case !numeric && sniffDates(vals):
		return Date
	case numeric:
		return Measure(name)
	case textTyped(vals):
		distinct := dataset.Distinct(vals)
		ratio := 0.0
		if rows > 0 {
			ratio = float64(distinct) / float64(rows)
		}
		if ratio < maxCategoricalRatio || distinct < maxCategoricalDistinct {
			return Categorical
		}
		return Identifier
	}
	return Other
}

// Measure picks the numeric category for a column name by keyword, most
// specific first.
func Measure(name string) Category {
	lower := strings.ToLower(name)
	switch {
	case containsAny(lower, qualityKeywords):
		return QualityMeasure
	case containsAny(lower, efficiencyKeyword):
		return EfficiencyMeasure
	case containsAny(lower, durationKeywords):
		return TimeMeasure
	case containsAny(lower, quantityKeywords):
		return NumericMeasure
	}
	return NumericMeasure
}

func containsAny(s string, keys []string) bool {
	for _, k := range keys {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

// isDateName matches whole name tokens so "downtime_minutes" is not a date
// while "shift_date" and "createdDate" are.
func isDateName(name string) bool {
	for _, tok := range nameTokens(name) {
		for _, d := range dateTokens {
			if tok == d {
				return true
			}
		}
	}
	return false
}

// nameTokens splits on separators and lower-to-upper case changes.
func nameTokens(name string) []string {
	var toks []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			toks = append(toks, strings.ToLower(string(cur)))
			cur = cur[:0]
		}
	}
	runes := []rune(name)
	for i, r := range runes {
		switch {
		case !unicode.IsLetter(r) && !unicode.IsDigit(r):
			flush()
		case unicode.IsUpper(r) && i > 0 && unicode.IsLower(runes[i-1]):
			flush()
			cur = append(cur, r)
		default:
			cur = append(cur, r)
		}
	}
	flush()
	return toks
}

// numericTyped reports whether every non-null value is a finite number or a
// parseable numeric string, with at least one value present.
func numericTyped(vals []dataset.Value) bool {
	seen := false
	for _, v := range vals {
		switch x := v.(type) {
		case nil:
			continue
		case float64:
			if _, ok := dataset.Float(x); !ok {
				return false
			}
		case string:
			if _, ok := dataset.ParseNumber(x, dataset.Options{}); !ok {
				return false
			}
		default:
			return false
		}
		seen = true
	}
	return seen
}

func textTyped(vals []dataset.Value) bool {
	seen := false
	for _, v := range vals {
		if v == nil {
			continue
		}
		if _, ok := v.(string); !ok {
			return false
		}
		seen = true
	}
	return seen
}

// sniffDates reports whether any of the first non-null values is a date.
func sniffDates(vals []dataset.Value) bool {
	n := 0
	for _, v := range vals {
		if v == nil {
			continue
		}
		switch x := v.(type) {
		case time.Time:
			return true
		case string:
			if _, ok := dataset.ParseTime(x); ok {
				return true
			}
		}
		n++
		if n >= dateSample {
			break
		}
	}
	return false
}

// plausibleDates reports whether numeric values look like years or
// spreadsheet day serials rather than measurements.
func plausibleDates(vals []dataset.Value) bool {
	for _, v := range vals {
		if v == nil {
			continue
		}
		f, ok := dataset.ToFloat(v)
		if !ok {
			return false
		}
		if _, ok := numericDate(f); !ok {
			return false
		}
	}
	return true
}

var serialEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

// numericDate converts a year (1000..9999) or a spreadsheet serial day
// number (20000..80000) to a date.
func numericDate(f float64) (time.Time, bool) {
	switch {
	case f >= 1000 && f <= 9999 && f == math.Trunc(f):
		return time.Date(int(f), time.January, 1, 0, 0, 0, 0, time.UTC), true
	case f >= 20000 && f <= 80000:
		days := math.Floor(f)
		secs := math.Round((f - days) * 86400)
		return serialEpoch.AddDate(0, 0, int(days)).Add(time.Duration(secs) * time.Second), true
	}
	return time.Time{}, false
}
