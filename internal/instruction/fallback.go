package instruction

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/KaramelBytes/tabloom/internal/classify"
	"github.com/KaramelBytes/tabloom/internal/safety"
)

// relativeDate finds the relative periods the filter stage understands.
var relativeDate = regexp.MustCompile(`(?i)\b(last\s+\d+\s+days?|last\s+(week|month)|this\s+(week|month)|yesterday|today)\b`)

// Fallback builds a plan from keywords in query. It never fails and does not
// depend on any external service. meta may be nil.
func Fallback(query string, meta *classify.Metadata) Instruction {
	in := Defaults()
	in.Message = "Plan derived from query keywords."

	rest := query
	if m := relativeDate.FindString(query); m != "" {
		in.Filters.DateRange = &DateRange{Start: strings.ToLower(strings.Join(strings.Fields(m), " "))}
		rest = strings.Replace(query, m, " ", 1)
	}
	words := tokenSet(rest)

	switch {
	case words.any("compare", "comparison", "vs", "versus"):
		in.AnalysisType, in.ChartType = Comparison, Bar
	case words.any("top", "best", "worst", "highest", "lowest", "rank", "ranking", "ranked"):
		in.AnalysisType, in.ChartType = Ranking, Bar
		in.SortOrder = Desc
		if words.any("worst", "lowest", "bottom") {
			in.SortOrder = Asc
		}
	case words.any("summary", "summarize", "summarise", "overview", "total"):
		in.AnalysisType, in.ChartType = Summary, Bar
		in.Grouping = GroupNone
	case words.any("correlation", "correlate", "relationship", "related"):
		in.AnalysisType, in.ChartType = Correlation, Scatter
	case words.any("distribution", "histogram", "spread"):
		in.AnalysisType, in.ChartType = Distribution, Bar
	}

	switch {
	case words.any("bar", "bars", "column"):
		in.ChartType = Bar
	case words.any("scatter"):
		in.ChartType = Scatter
	case words.any("pie", "percentage", "proportion", "share"):
		in.ChartType = Pie
	case words.any("heatmap"):
		in.ChartType = Heatmap
	}

	if in.AnalysisType != Summary {
		switch {
		case words.any("weekly", "week"):
			in.Grouping = GroupWeekly
		case words.any("monthly", "month"):
			in.Grouping = GroupMonthly
		case words.any("shift", "shifts"):
			in.Grouping = GroupShift
		case words.any("line", "lines"):
			in.Grouping = GroupLine
		case words.any("operator", "operators", "worker", "workers"):
			in.Grouping = GroupOperator
		case words.any("daily", "day", "days"):
			in.Grouping = GroupDaily
		default:
			if col := mentionedColumn(rest, meta, classify.Categorical); col != "" {
				in.Grouping = col
			} else if in.AnalysisType == Ranking || in.AnalysisType == Comparison {
				if meta != nil && len(meta.CategoricalColumns()) > 0 {
					in.Grouping = meta.CategoricalColumns()[0]
				}
			}
		}
	}

	in.Metrics = fallbackMetrics(rest, meta)
	if in.AnalysisType == Ranking {
		in.PrimaryMetric = in.Metrics[0]
		in.Calculations = []Op{Sum}
		in.TopN = DefaultTopN
	}
	in.Title = kindTitle(in.AnalysisType)
	return in
}

// Block turns a rejected safety decision into a plan that the
// pipeline refuses to run.
func Block(d safety.Decision) Instruction {
	return Instruction{
		AnalysisType: SafetyBlock,
		Message:      d.Message,
		Title:        "Invalid Query",
		ChartType:    NoChart,
		Grouping:     GroupNone,
		Metrics:      []string{},
		Calculations: []Op{},
	}
}

func kindTitle(k Kind) string {
	s := string(k)
	return strings.ToUpper(s[:1]) + s[1:] + " Analysis"
}

// fallbackMetrics picks numeric columns named in the query, then the first
// five numeric columns, then the defaults.
func fallbackMetrics(query string, meta *classify.Metadata) []string {
	if meta == nil {
		return append([]string(nil), DefaultMetrics...)
	}
	var named []string
	lower := normalizeName(query)
	for _, col := range meta.Numeric() {
		if containsName(lower, col) {
			named = append(named, col)
		}
	}
	for _, dm := range derivedMetrics {
		if containsName(lower, dm.name) && derivable(meta.Numeric(), dm.inputs) {
			named = append(named, dm.name)
		}
	}
	if len(named) > 0 {
		return named
	}
	if num := meta.Numeric(); len(num) > 0 {
		if len(num) > 5 {
			num = num[:5]
		}
		return num
	}
	return append([]string(nil), DefaultMetrics...)
}

// derivedMetrics mirrors the columns the pipeline adds before filtering.
// Each input group must match some numeric column by name fragment.
var derivedMetrics = []struct {
	name   string
	inputs [][]string
}{
	{"defect_rate", [][]string{{"defect"}, productionNames}},
	{"quality_score", [][]string{{"defect"}, productionNames}},
	{"production_per_hour", [][]string{productionNames}},
}

var productionNames = []string{"production", "produced", "output", "units"}

func derivable(numeric []string, inputs [][]string) bool {
	for _, keys := range inputs {
		found := false
		for _, col := range numeric {
			lower := strings.ToLower(col)
			for _, k := range keys {
				if strings.Contains(lower, k) {
					found = true
				}
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// mentionedColumn returns the first column of category c named in query.
func mentionedColumn(query string, meta *classify.Metadata, c classify.Category) string {
	if meta == nil {
		return ""
	}
	lower := normalizeName(query)
	for _, col := range meta.Of(c) {
		if containsName(lower, col) {
			return col
		}
	}
	return ""
}

// containsName matches a column name against normalised query text as a
// whole-word phrase, so "defect_count" matches "defect count".
func containsName(normQuery, col string) bool {
	name := normalizeName(col)
	if name == "" {
		return false
	}
	return strings.Contains(" "+normQuery+" ", " "+name+" ")
}

func normalizeName(s string) string {
	return strings.Join(strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}), " ")
}

type wordSet map[string]bool

func tokenSet(s string) wordSet {
	out := wordSet{}
	for _, w := range strings.Fields(normalizeName(s)) {
		out[w] = true
	}
	return out
}

func (w wordSet) any(words ...string) bool {
	for _, x := range words {
		if w[x] {
			return true
		}
	}
	return false
}
