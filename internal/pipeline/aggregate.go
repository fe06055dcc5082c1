package pipeline

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/KaramelBytes/tabloom/internal/classify"
	"github.com/KaramelBytes/tabloom/internal/dataset"
	"github.com/KaramelBytes/tabloom/internal/instruction"
)

// Calendar bucket columns produced by weekly and monthly grouping.
const (
	WeekColumn  = "week"
	MonthColumn = "month"
)

// AggregatedResult is one row per group. Grouped is false when the grouping
// could not be resolved and Data is the input unchanged.
type AggregatedResult struct {
	Data        *dataset.Dataset
	GroupColumn string
	Grouping    string
	Grouped     bool
}

var (
	sumNames  = []string{"production", "defect", "downtime", "count", "quantity"}
	meanNames = []string{"efficiency", "rate", "score", "percent", "ratio"}
)

// Aggregate groups ds by grouping and reduces every numeric column. With
// explicit ops each column yields <col>_<op>; without, each column keeps its
// name and is summed or averaged by what its name suggests.
func Aggregate(ds *dataset.Dataset, meta *classify.Metadata, grouping string, ops []instruction.Op) AggregatedResult {
	unchanged := AggregatedResult{Data: ds, Grouping: grouping}
	if ds.Len() == 0 {
		return unchanged
	}
	meta = metaFor(ds, meta)
	key, ok := resolveGrouping(ds, meta, grouping)
	if !ok {
		return unchanged
	}

	var measures []string
	for _, c := range numericColumns(ds, meta) {
		if c != key.source {
			measures = append(measures, c)
		}
	}
	reducers := reducersFor(measures, ops)

	groups := key.groups(ds)
	cols := make([]string, 0, len(reducers)+1)
	if key.name != "" {
		cols = append(cols, key.name)
	}
	for _, r := range reducers {
		cols = append(cols, r.name)
	}
	rows := make([][]dataset.Value, 0, len(groups))
	for _, g := range groups {
		row := make([]dataset.Value, 0, len(cols))
		if key.name != "" {
			row = append(row, g.label)
		}
		for _, r := range reducers {
			row = append(row, reduce(r.op, pick(ds, r.col, g.rows)))
		}
		rows = append(rows, row)
	}
	out, err := dataset.New(ds.Name, cols, rows)
	if err != nil {
		return unchanged
	}
	return AggregatedResult{Data: out, GroupColumn: key.name, Grouping: grouping, Grouped: true}
}

// groupKey describes how rows map to groups. name is the output column,
// source the input column it is computed from.
type groupKey struct {
	name, source string
	bucket       func(dataset.Value) (dataset.Value, string, bool)
	chrono       bool
}

type group struct {
	label dataset.Value
	order string
	rows  []int
}

func resolveGrouping(ds *dataset.Dataset, meta *classify.Metadata, grouping string) (groupKey, bool) {
	g := strings.ToLower(strings.TrimSpace(grouping))
	switch g {
	case "", instruction.GroupNone:
		return groupKey{}, true
	case instruction.GroupDaily, instruction.GroupWeekly, instruction.GroupMonthly:
		col := firstPresent(ds, meta.DateColumns())
		if col == "" {
			return groupKey{}, false
		}
		key := groupKey{name: col, source: col, chrono: true}
		switch g {
		case instruction.GroupDaily:
			key.bucket = func(v dataset.Value) (dataset.Value, string, bool) {
				t, ok := asTime(v)
				if !ok {
					return nil, "", false
				}
				d := truncateDay(t)
				return d, d.Format(time.RFC3339), true
			}
		case instruction.GroupWeekly:
			key.name = WeekColumn
			key.bucket = timeLabel(isoWeek)
		default:
			key.name = MonthColumn
			key.bucket = timeLabel(func(t time.Time) string { return t.Format("2006-01") })
		}
		return key, true
	case instruction.GroupShift, instruction.GroupLine, instruction.GroupOperator:
		keys := []string{g}
		if g == instruction.GroupOperator {
			keys = append(keys, "worker")
		}
		col := firstNamed(ds.Columns, keys)
		if col == "" {
			return groupKey{}, false
		}
		return groupKey{name: col, source: col, bucket: byValue}, true
	}
	if col, ok := ds.Lookup(grouping); ok {
		return groupKey{name: col, source: col, bucket: byValue, chrono: meta.Is(col, classify.Date)}, true
	}
	return groupKey{}, false
}

func byValue(v dataset.Value) (dataset.Value, string, bool) {
	if v == nil {
		return nil, "", false
	}
	if t, ok := v.(time.Time); ok {
		return t, t.Format(time.RFC3339Nano), true
	}
	return v, dataset.Format(v), true
}

func timeLabel(f func(time.Time) string) func(dataset.Value) (dataset.Value, string, bool) {
	return func(v dataset.Value) (dataset.Value, string, bool) {
		t, ok := asTime(v)
		if !ok {
			return nil, "", false
		}
		s := f(t)
		return s, s, true
	}
}

// isoWeek renders t as YYYY-Www using the ISO week-numbering year.
func isoWeek(t time.Time) string {
	y, w := t.ISOWeek()
	return fmt.Sprintf("%04d-W%02d", y, w)
}

// groups partitions the rows of ds. Rows with a nil key are left out.
// Groups come in first-appearance order, or chronologically for dates.
func (k groupKey) groups(ds *dataset.Dataset) []group {
	if k.bucket == nil {
		all := make([]int, ds.Len())
		for i := range all {
			all[i] = i
		}
		return []group{{rows: all}}
	}
	i := ds.Index(k.source)
	var out []group
	pos := map[string]int{}
	for r, row := range ds.Rows {
		label, id, ok := k.bucket(row[i])
		if !ok {
			continue
		}
		p, seen := pos[id]
		if !seen {
			p = len(out)
			pos[id] = p
			out = append(out, group{label: label, order: id})
		}
		out[p].rows = append(out[p].rows, r)
	}
	if k.chrono {
		sort.SliceStable(out, func(a, b int) bool { return out[a].order < out[b].order })
	}
	return out
}

type reducer struct {
	name, col string
	op        instruction.Op
}

func reducersFor(cols []string, ops []instruction.Op) []reducer {
	var explicit []instruction.Op
	seen := map[instruction.Op]bool{}
	for _, op := range ops {
		switch op {
		case instruction.Sum, instruction.Mean, instruction.Max, instruction.Min, instruction.Count:
		default:
			continue
		}
		if !seen[op] {
			seen[op] = true
			explicit = append(explicit, op)
		}
	}
	var out []reducer
	for _, c := range cols {
		if len(explicit) == 0 {
			out = append(out, reducer{name: c, col: c, op: DefaultOp(c)})
			continue
		}
		for _, op := range explicit {
			out = append(out, reducer{name: c + "_" + string(op), col: c, op: op})
		}
	}
	return out
}

// DefaultOp is the reduction used for col when none is requested: mean for
// rate-like names, sum for everything else.
func DefaultOp(col string) instruction.Op {
	lower := strings.ToLower(col)
	for _, k := range meanNames {
		if strings.Contains(lower, k) {
			return instruction.Mean
		}
	}
	for _, k := range sumNames {
		if strings.Contains(lower, k) {
			return instruction.Sum
		}
	}
	return instruction.Sum
}

func pick(ds *dataset.Dataset, col string, rows []int) []dataset.Value {
	i := ds.Index(col)
	out := make([]dataset.Value, len(rows))
	for j, r := range rows {
		out[j] = ds.Rows[r][i]
	}
	return out
}

// reduce applies op to the finite numbers in vals. Sum and count of nothing
// are 0; mean, max and min of nothing are nil.
func reduce(op instruction.Op, vals []dataset.Value) dataset.Value {
	s := dataset.Describe(vals)
	switch op {
	case instruction.Sum:
		return s.Total
	case instruction.Count:
		return float64(s.Count)
	}
	if s.Count == 0 {
		return nil
	}
	switch op {
	case instruction.Mean:
		return s.Mean
	case instruction.Max:
		return s.Max
	case instruction.Min:
		return s.Min
	}
	return nil
}
