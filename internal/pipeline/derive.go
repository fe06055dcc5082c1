package pipeline

import (
	"math"
	"strings"

	"github.com/KaramelBytes/tabloom/internal/classify"
	"github.com/KaramelBytes/tabloom/internal/dataset"
)

// Derived column names.
const (
	DefectRate        = "defect_rate"
	QualityScore      = "quality_score"
	ProductionPerHour = "production_per_hour"
	percentageSuffix  = "_percentage"
)

// shiftHours is the fixed shift length behind ProductionPerHour.
const shiftHours = 8

var (
	productionNames = []string{"production", "produced", "output", "units"}
	defectNames     = []string{"defect"}
)

// DeriveMetrics adds defect rate, quality score, per-hour output and
// percentage-of-total columns when their inputs exist. It never removes or
// overwrites a column, and a column that cannot be derived is skipped.
// The returned metadata classifies the new columns.
func DeriveMetrics(ds *dataset.Dataset, meta *classify.Metadata) (*dataset.Dataset, *classify.Metadata) {
	meta = metaFor(ds, meta)
	numeric := numericColumns(ds, meta)
	out, outMeta := ds, meta
	add := func(col string, vals []dataset.Value) {
		if out.Has(col) {
			return
		}
		out = out.WithColumn(col, vals)
		outMeta = outMeta.With(col, classify.Measure(col))
	}

	prod := firstNamed(numeric, productionNames)
	if def := firstNamed(numeric, defectNames); def != "" && prod != "" {
		rates := defectRates(ds.Column(def), ds.Column(prod))
		add(DefectRate, rates)
		scores := make([]dataset.Value, len(rates))
		for i, r := range rates {
			scores[i] = 100 - r.(float64)
		}
		add(QualityScore, scores)
	}
	if prod != "" {
		vals := ds.Column(prod)
		per := make([]dataset.Value, len(vals))
		for i, v := range vals {
			if f, ok := dataset.Float(v); ok {
				per[i] = f / shiftHours
			}
		}
		add(ProductionPerHour, per)
	}

	for _, col := range numeric {
		if isDerived(col) {
			continue
		}
		if pct, ok := percentages(ds.Column(col)); ok {
			add(col+percentageSuffix, pct)
		}
	}
	return out, outMeta
}

// defectRates is defects/production*100 per row; a missing or zero
// denominator, or a missing numerator, gives 0.
func defectRates(defects, production []dataset.Value) []dataset.Value {
	out := make([]dataset.Value, len(production))
	for i := range production {
		out[i] = 0.0
		p, ok := dataset.Float(production[i])
		if !ok || p == 0 {
			continue
		}
		d, ok := dataset.Float(defects[i])
		if !ok {
			continue
		}
		if r := d * 100 / p; !math.IsNaN(r) && !math.IsInf(r, 0) {
			out[i] = r
		}
	}
	return out
}

// percentages returns each value's share of the column total. Columns whose
// total is not positive are skipped; nil values become 0.
func percentages(vals []dataset.Value) ([]dataset.Value, bool) {
	total := dataset.Describe(vals).Total
	if !(total > 0) || math.IsInf(total, 0) {
		return nil, false
	}
	out := make([]dataset.Value, len(vals))
	for i, v := range vals {
		f, ok := dataset.Float(v)
		if !ok {
			out[i] = 0.0
			continue
		}
		out[i] = f * 100 / total
	}
	return out, true
}

func isDerived(col string) bool {
	switch col {
	case DefectRate, QualityScore, ProductionPerHour:
		return true
	}
	return strings.HasSuffix(col, percentageSuffix)
}

// firstNamed returns the first non-derived column whose lower-cased name
// contains one of keys.
func firstNamed(cols []string, keys []string) string {
	for _, c := range cols {
		if isDerived(c) {
			continue
		}
		lower := strings.ToLower(c)
		for _, k := range keys {
			if strings.Contains(lower, k) {
				return c
			}
		}
	}
	return ""
}

// numericColumns lists the columns of ds holding numbers: those classified
// numeric, or, for columns the metadata does not know, those whose non-nil
// values are all float64.
func numericColumns(ds *dataset.Dataset, meta *classify.Metadata) []string {
	var out []string
	for _, col := range ds.Columns {
		if cat, ok := meta.Category(col); ok {
			if cat.Numeric() {
				out = append(out, col)
			}
			continue
		}
		if floatColumn(ds.Column(col)) {
			out = append(out, col)
		}
	}
	return out
}

func floatColumn(vals []dataset.Value) bool {
	seen := false
	for _, v := range vals {
		if v == nil {
			continue
		}
		if _, ok := v.(float64); !ok {
			return false
		}
		seen = true
	}
	return seen
}
