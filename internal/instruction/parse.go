package instruction

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/KaramelBytes/tabloom/internal/utils"
)

// ErrNoJSON means the text held no JSON object.
var ErrNoJSON = errors.New("no JSON object in response")

// wire mirrors Instruction with lenient field types; models send strings
// where lists are expected, numbers as strings, and nulls everywhere.
type wire struct {
	AnalysisType   string      `json:"analysis_type"`
	Filters        wireFilters `json:"filters"`
	Metrics        *looseList  `json:"metrics"`
	Grouping       string      `json:"grouping"`
	GroupingColumn string      `json:"grouping_column"`
	Calculations   *looseList  `json:"calculations"`
	ChartType      string      `json:"chart_type"`
	Title          string      `json:"title"`
	Message        string      `json:"message"`
	PrimaryMetric  string      `json:"primary_metric"`
	SortOrder      string      `json:"sort_order"`
	TopN           looseInt    `json:"top_n"`
	InsightsFocus  string      `json:"insights_focus"`
}

type wireFilters struct {
	DateRange *struct {
		Start *string `json:"start"`
		End   *string `json:"end"`
	} `json:"date_range"`
	Shifts     looseList `json:"shifts"`
	Shift      looseList `json:"shift"`
	Lines      looseList `json:"lines"`
	Line       looseList `json:"line"`
	Operators  looseList `json:"operators"`
	Operator   looseList `json:"operator"`
	Categories looseList `json:"categories"`
	Category   looseList `json:"category"`
	Groups     looseList `json:"groups"`
	Group      looseList `json:"group"`
}

// looseList accepts a list of scalars, a single scalar, null, or an object
// (ignored).
type looseList []string

func (l *looseList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	switch b[0] {
	case '{':
		return nil
	case '[':
		var raw []any
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
		out := make(looseList, 0, len(raw))
		for _, v := range raw {
			if s, ok := scalar(v); ok {
				out = append(out, s)
			}
		}
		*l = out
		return nil
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	if s, ok := scalar(v); ok {
		*l = looseList{s}
	}
	return nil
}

func scalar(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(x), true
	}
	return "", false
}

// looseInt accepts a number, a numeric string, or null.
type looseInt int

func (n *looseInt) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case float64:
		*n = looseInt(x)
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(x)); err == nil {
			*n = looseInt(i)
		}
	}
	return nil
}

// Parse extracts the first '{' to last '}' span of text, decodes it and
// normalises the result.
func Parse(text string) (Instruction, error) {
	obj, ok := utils.JSONObject(text)
	if !ok {
		return Instruction{}, ErrNoJSON
	}
	var w wire
	if err := json.Unmarshal([]byte(obj), &w); err != nil {
		return Instruction{}, fmt.Errorf("decode instruction: %w", err)
	}
	in := Instruction{
		AnalysisType:  Kind(w.AnalysisType),
		Grouping:      w.Grouping,
		ChartType:     ChartKind(w.ChartType),
		Title:         w.Title,
		Message:       w.Message,
		PrimaryMetric: w.PrimaryMetric,
		SortOrder:     w.SortOrder,
		TopN:          int(w.TopN),
		InsightsFocus: w.InsightsFocus,
		Filters: Filters{
			Shifts:     append(w.Filters.Shifts, w.Filters.Shift...),
			Lines:      append(w.Filters.Lines, w.Filters.Line...),
			Operators:  append(w.Filters.Operators, w.Filters.Operator...),
			Categories: append(w.Filters.Categories, w.Filters.Category...),
			Groups:     append(w.Filters.Groups, w.Filters.Group...),
		},
	}
	if in.Grouping == "" {
		in.Grouping = w.GroupingColumn
	}
	if w.Metrics != nil {
		in.Metrics = append([]string{}, (*w.Metrics)...)
	}
	if w.Calculations != nil {
		in.Calculations = []Op{}
		for _, c := range *w.Calculations {
			in.Calculations = append(in.Calculations, Op(c))
		}
	}
	if dr := w.Filters.DateRange; dr != nil {
		in.Filters.DateRange = &DateRange{}
		if dr.Start != nil {
			in.Filters.DateRange.Start = *dr.Start
		}
		if dr.End != nil {
			in.Filters.DateRange.End = *dr.End
		}
	}
	return Normalize(in), nil
}
