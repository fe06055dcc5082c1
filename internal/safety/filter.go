// Package safety decides whether a free-text question may reach the analysis
// pipeline. It is a pure function over fixed vocabularies.
package safety

import (
	"regexp"
	"strings"
)

// Verdict is the outcome of a safety check.
type Verdict string

const (
	Allowed           Verdict = "ALLOWED"
	BlockedUnsafe     Verdict = "BLOCKED_UNSAFE"
	BlockedIrrelevant Verdict = "BLOCKED_IRRELEVANT"
)

const (
	allowedMessage = "Query is safe and relevant to manufacturing data analysis."
	unsafeMessage  = "I'm designed specifically for manufacturing data analysis and cannot assist with that type of content. " +
		"Please ask questions about production data, quality metrics, efficiency analysis, or operational insights."
	irrelevantMessage = "I'm a specialized manufacturing data analysis assistant. I can only help with questions about:\n" +
		"- Production data and manufacturing metrics\n" +
		"- Quality analysis and defect tracking\n" +
		"- Efficiency and performance monitoring\n" +
		"- Equipment and operational insights\n" +
		"- Data visualization and trends\n\n" +
		"Please ask a manufacturing or industrial data-related question."
)

// Decision is a verdict plus the message shown to the user. Rule names the
// guard that decided.
type Decision struct {
	Verdict Verdict `json:"verdict"`
	Message string  `json:"message"`
	Rule    string  `json:"rule"`
}

// Allowed reports whether the query may be analysed.
func (d Decision) Allowed() bool { return d.Verdict == Allowed }

type guard struct {
	name  string
	check func(f *Filter, q string) (Decision, bool)
}

// guards run in order; the first match decides.
var guards = []guard{
	{"unsafe", func(f *Filter, q string) (Decision, bool) {
		if f.unsafe.MatchString(q) {
			return Decision{Verdict: BlockedUnsafe, Message: unsafeMessage}, true
		}
		return Decision{}, false
	}},
	{"irrelevant", func(f *Filter, q string) (Decision, bool) {
		if f.irrelevant.MatchString(q) {
			return Decision{Verdict: BlockedIrrelevant, Message: irrelevantMessage}, true
		}
		return Decision{}, false
	}},
	{"keywords", func(f *Filter, q string) (Decision, bool) {
		domain, analysis := f.Score(q)
		if domain+analysis > 0 {
			return Decision{Verdict: Allowed, Message: allowedMessage}, true
		}
		return Decision{}, false
	}},
	{"generic", func(f *Filter, q string) (Decision, bool) {
		lower := strings.ToLower(q)
		for _, re := range f.generic {
			if re.MatchString(lower) {
				return Decision{Verdict: Allowed, Message: allowedMessage}, true
			}
		}
		return Decision{}, false
	}},
}

// Filter holds the compiled vocabularies. It is safe for concurrent use.
type Filter struct {
	unsafe     *regexp.Regexp
	irrelevant *regexp.Regexp
	generic    []*regexp.Regexp
	domain     []string
	analysis   []string
}

// Default is the process-wide filter.
var Default = New()

// New compiles the built-in vocabularies.
func New() *Filter {
	f := &Filter{
		unsafe:     alternation(unsafeTerms),
		irrelevant: alternation(irrelevantTerms),
		domain:     domainKeywords,
		analysis:   analysisKeywords,
	}
	for _, p := range genericPatterns {
		f.generic = append(f.generic, regexp.MustCompile(p))
	}
	return f
}

func alternation(terms []string) *regexp.Regexp {
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = regexp.QuoteMeta(t)
	}
	return regexp.MustCompile(`(?i)\b(` + strings.Join(quoted, "|") + `)\b`)
}

// Check classifies query. Blank queries are irrelevant.
func (f *Filter) Check(query string) Decision {
	if strings.TrimSpace(query) != "" {
		for _, g := range guards {
			if d, ok := g.check(f, query); ok {
				d.Rule = g.name
				return d
			}
		}
	}
	return Decision{Verdict: BlockedIrrelevant, Message: Guidance(), Rule: "fallthrough"}
}

// Score counts domain and analysis keyword hits as case-insensitive
// substrings of query.
func (f *Filter) Score(query string) (domain, analysis int) {
	lower := strings.ToLower(query)
	for _, k := range f.domain {
		if strings.Contains(lower, k) {
			domain++
		}
	}
	for _, k := range f.analysis {
		if strings.Contains(lower, k) {
			analysis++
		}
	}
	return domain, analysis
}

// Guidance is the message for queries with no recognisable analysis intent.
func Guidance() string {
	var b strings.Builder
	b.WriteString("I specialize in manufacturing and industrial data analysis. I can help you with:\n")
	b.WriteString("- Production trends and performance metrics\n")
	b.WriteString("- Quality control and defect analysis\n")
	b.WriteString("- Equipment efficiency and downtime tracking\n")
	b.WriteString("- Charts, trend analysis and comparisons\n\n")
	b.WriteString("Try questions like:\n")
	for _, e := range Examples {
		b.WriteString("- \"" + e + "\"\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
