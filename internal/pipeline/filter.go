// Package pipeline runs an analysis instruction over a classified dataset:
// row filters, derived metrics, grouping and chart shaping. Every stage takes
// a snapshot and returns a new one.
package pipeline

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/KaramelBytes/tabloom/internal/classify"
	"github.com/KaramelBytes/tabloom/internal/dataset"
	"github.com/KaramelBytes/tabloom/internal/instruction"
)

// maxGroupingColumns is how many categorical columns survive projection.
const maxGroupingColumns = 3

// now resolves relative dates when a dataset has no usable date values.
var now = time.Now

// FilterResult is the filtered, derived dataset and the requested metrics
// that exist in it.
type FilterResult struct {
	Data    *dataset.Dataset
	Meta    *classify.Metadata
	Metrics []string
}

// ApplyFilters runs the row filters, derives metrics and projects the
// columns the later stages need.
func ApplyFilters(ds *dataset.Dataset, meta *classify.Metadata, f instruction.Filters, metrics []string) FilterResult {
	meta = metaFor(ds, meta)
	rows := FilterRows(ds, meta, f)
	derived, dmeta := DeriveMetrics(rows, meta)
	return Project(derived, dmeta, metrics)
}

// FilterRows applies the date range and the categorical allow-lists. Filters
// that reference missing columns are skipped.
func FilterRows(ds *dataset.Dataset, meta *classify.Metadata, f instruction.Filters) *dataset.Dataset {
	meta = metaFor(ds, meta)
	out := ds
	if f.DateRange.Active() {
		if col := firstPresent(out, meta.DateColumns()); col != "" {
			out = filterDates(out, col, f.DateRange)
		}
	}
	for _, fam := range f.Families() {
		col, ok := out.Lookup(fam.Column)
		if !ok {
			continue
		}
		out = filterValues(out, col, fam.Values)
	}
	return out
}

func filterDates(ds *dataset.Dataset, col string, r *instruction.DateRange) *dataset.Dataset {
	vals := ds.Column(col)
	start, hasStart := resolveBound(r.Start, vals)
	end, hasEnd := resolveBound(r.End, vals)
	if !hasStart && !hasEnd {
		return ds
	}
	if hasEnd && isMidnight(end) {
		end = end.Add(24*time.Hour - time.Nanosecond)
	}
	i := ds.Index(col)
	return ds.Filter(func(row []dataset.Value) bool {
		t, ok := asTime(row[i])
		if !ok {
			return false
		}
		if hasStart && t.Before(start) {
			return false
		}
		if hasEnd && t.After(end) {
			return false
		}
		return true
	})
}

func filterValues(ds *dataset.Dataset, col string, allowed []string) *dataset.Dataset {
	set := make(map[string]bool, len(allowed))
	for _, v := range allowed {
		set[strings.ToLower(strings.TrimSpace(v))] = true
	}
	i := ds.Index(col)
	return ds.Filter(func(row []dataset.Value) bool {
		if row[i] == nil {
			return false
		}
		return set[strings.ToLower(strings.TrimSpace(dataset.Format(row[i])))]
	})
}

var lastDays = regexp.MustCompile(`last\s+(\d+)\s*days?`)

// resolveBound parses an absolute date, or a relative phrase anchored at the
// latest date in vals.
func resolveBound(expr string, vals []dataset.Value) (time.Time, bool) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return time.Time{}, false
	}
	if t, ok := dataset.ParseTime(expr); ok {
		return t, true
	}
	lower := strings.ToLower(expr)
	anchor := maxTime(vals)
	day := truncateDay(anchor)
	switch {
	case strings.Contains(lower, "last week"):
		return anchor.AddDate(0, 0, -7), true
	case strings.Contains(lower, "last month"):
		return anchor.AddDate(0, 0, -30), true
	case strings.Contains(lower, "this week"):
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset), true
	case strings.Contains(lower, "this month"):
		return time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, day.Location()), true
	case strings.Contains(lower, "yesterday"):
		return day.AddDate(0, 0, -1), true
	case strings.Contains(lower, "today"):
		return day, true
	}
	if m := lastDays.FindStringSubmatch(lower); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil {
			return anchor.AddDate(0, 0, -n), true
		}
	}
	return time.Time{}, false
}

func maxTime(vals []dataset.Value) time.Time {
	var hi time.Time
	found := false
	for _, v := range vals {
		t, ok := asTime(v)
		if !ok {
			continue
		}
		if !found || t.After(hi) {
			hi, found = t, true
		}
	}
	if !found {
		return now()
	}
	return hi
}

// Project keeps date columns, the first categorical columns and the metrics
// present in ds. When no metric is present the full table is kept, numeric
// columns included, so aggregation still has values to reduce.
func Project(ds *dataset.Dataset, meta *classify.Metadata, metrics []string) FilterResult {
	meta = metaFor(ds, meta)
	present := presentMetrics(ds, metrics)
	if len(present) == 0 {
		return FilterResult{Data: ds, Meta: meta.Retain(ds), Metrics: []string{}}
	}
	var keep []string
	keep = append(keep, meta.DateColumns()...)
	cats := meta.CategoricalColumns()
	if len(cats) > maxGroupingColumns {
		cats = cats[:maxGroupingColumns]
	}
	keep = append(keep, cats...)
	keep = append(keep, present...)
	out := ds.Select(keep)
	return FilterResult{Data: out, Meta: meta.Retain(out), Metrics: present}
}

// presentMetrics resolves metric names against ds, case-insensitively,
// dropping missing ones and duplicates.
func presentMetrics(ds *dataset.Dataset, metrics []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, m := range metrics {
		col, ok := ds.Lookup(m)
		if !ok || seen[col] {
			continue
		}
		seen[col] = true
		out = append(out, col)
	}
	return out
}

func metaFor(ds *dataset.Dataset, meta *classify.Metadata) *classify.Metadata {
	if meta == nil {
		return classify.Rules(ds)
	}
	return meta
}

func firstPresent(ds *dataset.Dataset, cols []string) string {
	for _, c := range cols {
		if ds.Has(c) {
			return c
		}
	}
	return ""
}

func asTime(v dataset.Value) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, true
	case string:
		return dataset.ParseTime(x)
	}
	return time.Time{}, false
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func isMidnight(t time.Time) bool {
	return t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0
}
