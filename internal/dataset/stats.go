package dataset

import (
	"math"
	"sort"
	"time"
)

// NumStats summarises the finite numeric values of a column.
type NumStats struct {
	Count int     `json:"count"`
	Total float64 `json:"total"`
	Mean  float64 `json:"mean"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Std   float64 `json:"std"`
}

// Describe computes NumStats with Welford's update; Std is the sample standard
// deviation and stays 0 for fewer than two values.
func Describe(vals []Value) NumStats {
	var s NumStats
	var mean, m2 float64
	s.Min, s.Max = math.Inf(1), math.Inf(-1)
	for _, v := range vals {
		x, ok := Float(v)
		if !ok {
			continue
		}
		s.Count++
		s.Total += x
		if x < s.Min {
			s.Min = x
		}
		if x > s.Max {
			s.Max = x
		}
		delta := x - mean
		mean += delta / float64(s.Count)
		m2 += delta * (x - mean)
	}
	if s.Count == 0 {
		return NumStats{}
	}
	s.Mean = mean
	if s.Count > 1 {
		s.Std = math.Sqrt(m2 / float64(s.Count-1))
	}
	return s
}

// TimeRange returns the earliest and latest time values in vals.
func TimeRange(vals []Value) (lo, hi time.Time, ok bool) {
	for _, v := range vals {
		t, isTime := v.(time.Time)
		if !isTime {
			continue
		}
		if !ok || t.Before(lo) {
			lo = t
		}
		if !ok || t.After(hi) {
			hi = t
		}
		ok = true
	}
	return lo, hi, ok
}

// CategoryCount is a value frequency.
type CategoryCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// TopValues counts non-nil values by their formatted form, most frequent
// first, ties broken by value. limit <= 0 returns all.
func TopValues(vals []Value, limit int) []CategoryCount {
	counts := map[string]int{}
	for _, v := range vals {
		if v == nil {
			continue
		}
		counts[Format(v)]++
	}
	out := make([]CategoryCount, 0, len(counts))
	for k, n := range counts {
		out = append(out, CategoryCount{Value: k, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count == out[j].Count {
			return out[i].Value < out[j].Value
		}
		return out[i].Count > out[j].Count
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Distinct counts distinct non-nil values.
func Distinct(vals []Value) int {
	seen := map[string]struct{}{}
	for _, v := range vals {
		if v == nil {
			continue
		}
		seen[distinctKey(v)] = struct{}{}
	}
	return len(seen)
}

func distinctKey(v Value) string {
	switch x := v.(type) {
	case float64:
		return "n:" + Format(x)
	case time.Time:
		return "t:" + x.UTC().Format(time.RFC3339Nano)
	case bool:
		return "b:" + Format(v)
	}
	return "s:" + Format(v)
}

// Nulls counts nil values.
func Nulls(vals []Value) int {
	n := 0
	for _, v := range vals {
		if v == nil {
			n++
		}
	}
	return n
}
