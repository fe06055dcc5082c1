package classify

import (
	"time"

	"github.com/KaramelBytes/tabloom/internal/dataset"
)

// Coerce returns a copy of ds with date columns as time.Time and numeric
// columns as float64. Values that do not convert become nil; no column
// failure aborts the others.
func Coerce(ds *dataset.Dataset, meta *Metadata) *dataset.Dataset {
	out := ds
	for _, col := range ds.Columns {
		cat, ok := meta.Category(col)
		if !ok {
			continue
		}
		var conv func(dataset.Value) dataset.Value
		switch {
		case cat == Date:
			conv = toDate
		case cat.Numeric():
			conv = toNumber
		default:
			continue
		}
		vals := ds.Column(col)
		changed := false
		for i, v := range vals {
			nv := conv(v)
			if nv != v {
				changed = true
			}
			vals[i] = nv
		}
		if changed {
			out = out.WithColumn(col, vals)
		}
	}
	return out
}

func toDate(v dataset.Value) dataset.Value {
	switch x := v.(type) {
	case time.Time:
		return x
	case string:
		if t, ok := dataset.ParseTime(x); ok {
			return t
		}
		if f, ok := dataset.ParseNumber(x, dataset.Options{}); ok {
			if t, ok := numericDate(f); ok {
				return t
			}
		}
	case float64:
		if t, ok := numericDate(x); ok {
			return t
		}
	}
	return nil
}

func toNumber(v dataset.Value) dataset.Value {
	switch v.(type) {
	case nil, time.Time:
		return nil
	}
	if f, ok := dataset.ToFloat(v); ok {
		return f
	}
	return nil
}
