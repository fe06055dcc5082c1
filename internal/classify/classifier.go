package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/KaramelBytes/tabloom/internal/ai"
	"github.com/KaramelBytes/tabloom/internal/dataset"
	"github.com/KaramelBytes/tabloom/internal/logging"
	"github.com/KaramelBytes/tabloom/internal/utils"
)

// DefaultTimeout bounds a model classification call.
const DefaultTimeout = 20 * time.Second

// Source tells where a mapping came from.
type Source string

const (
	SourceRules Source = "rules"
	SourceModel Source = "model"
)

// ErrIncompleteMapping is returned when a model mapping misses a column or
// uses an unknown category.
var ErrIncompleteMapping = errors.New("incomplete column mapping")

// Config configures a Classifier. A nil Runtime means rules only.
type Config struct {
	Runtime   ai.Runtime
	Model     string
	Timeout   time.Duration
	MaxTokens int
	Logger    log.Logger
}

// Classifier maps columns to categories, asking the runtime first when one
// is configured and falling back to Rules on any failure.
type Classifier struct {
	cfg    Config
	logger log.Logger
}

// Result is a classified dataset.
type Result struct {
	Data   *dataset.Dataset
	Meta   *Metadata
	Source Source
}

func New(cfg Config) *Classifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	return &Classifier{cfg: cfg, logger: logging.OrNop(cfg.Logger)}
}

// Classify returns the coerced dataset and its metadata. It only fails for a
// dataset without columns.
func (c *Classifier) Classify(ctx context.Context, ds *dataset.Dataset) (*Result, error) {
	if ds == nil || len(ds.Columns) == 0 {
		return nil, dataset.ErrNoHeader
	}
	meta, src := Rules(ds), SourceRules
	if c.cfg.Runtime != nil {
		m, err := c.fromModel(ctx, ds)
		if err != nil {
			level.Warn(c.logger).Log("msg", "model classification failed; using rules", "dataset", ds.Name, "reason", ai.Reason(err), "err", err)
		} else {
			meta, src = m, SourceModel
		}
	}
	level.Debug(c.logger).Log("msg", "classified columns", "dataset", ds.Name, "columns", len(ds.Columns), "source", src)
	return &Result{Data: Coerce(ds, meta), Meta: meta, Source: src}, nil
}

func (c *Classifier) fromModel(ctx context.Context, ds *dataset.Dataset) (*Metadata, error) {
	prompt, err := Prompt(ds)
	if err != nil {
		return nil, err
	}
	text, err := ai.Complete(ctx, c.cfg.Runtime, ai.Prompt{
		Model:     c.cfg.Model,
		System:    systemPrompt,
		User:      prompt,
		MaxTokens: c.cfg.MaxTokens,
		JSON:      true,
		Timeout:   c.cfg.Timeout,
	})
	if err != nil {
		return nil, err
	}
	return ParseMapping(text, ds.Columns)
}

const systemPrompt = `You label the columns of a tabular dataset with their business meaning.
Available semantic types:
- date: dates and timestamps
- numeric_measure: quantities, amounts, counts (production, sales, revenue)
- quality_measure: quality metrics (defects, errors, failures)
- efficiency_measure: efficiency or performance metrics (percentages, rates)
- time_measure: durations (downtime, cycle time)
- categorical: categories, groups, classifications
- identifier: IDs, names, codes
- other: anything else
Respond with only a JSON object mapping every column name to one type.`

type columnInfo struct {
	Name     string   `json:"name"`
	DataType string   `json:"data_type"`
	Samples  []string `json:"sample_values"`
	Nulls    int      `json:"null_count"`
	Distinct int      `json:"unique_values"`
}

// Prompt describes each column with its inferred type, up to five samples,
// null and distinct counts.
func Prompt(ds *dataset.Dataset) (string, error) {
	infos := make([]columnInfo, 0, len(ds.Columns))
	for _, col := range ds.Columns {
		vals := ds.Column(col)
		info := columnInfo{Name: col, DataType: kindOf(vals), Nulls: dataset.Nulls(vals), Distinct: dataset.Distinct(vals), Samples: []string{}}
		for _, v := range vals {
			if v == nil {
				continue
			}
			info.Samples = append(info.Samples, dataset.Format(v))
			if len(info.Samples) == 5 {
				break
			}
		}
		infos = append(infos, info)
	}
	b, err := utils.PrettyJSON(infos)
	if err != nil {
		return "", err
	}
	return "Column information:\n" + string(b), nil
}

func kindOf(vals []dataset.Value) string {
	kind := ""
	for _, v := range vals {
		var k string
		switch v.(type) {
		case nil:
			continue
		case float64:
			k = "number"
		case string:
			k = "text"
		case bool:
			k = "boolean"
		case time.Time:
			k = "datetime"
		}
		if kind == "" {
			kind = k
		} else if kind != k {
			return "mixed"
		}
	}
	if kind == "" {
		return "empty"
	}
	return kind
}

// ParseMapping reads a {column: category} object from free text. Every
// column must map to a known literal; keys naming other columns are ignored.
func ParseMapping(text string, columns []string) (*Metadata, error) {
	obj, ok := utils.JSONObject(text)
	if !ok {
		return nil, fmt.Errorf("%w: no JSON object in response", ErrIncompleteMapping)
	}
	var raw map[string]string
	if err := json.Unmarshal([]byte(obj), &raw); err != nil {
		return nil, fmt.Errorf("decode mapping: %w", err)
	}
	cats := make(map[string]Category, len(columns))
	var missing, invalid []string
	for _, col := range columns {
		s, ok := raw[col]
		if !ok {
			missing = append(missing, col)
			continue
		}
		c, ok := ParseCategory(s)
		if !ok {
			invalid = append(invalid, col+"="+s)
			continue
		}
		cats[col] = c
	}
	if len(missing) > 0 || len(invalid) > 0 {
		return nil, fmt.Errorf("%w: missing [%s] invalid [%s]", ErrIncompleteMapping, strings.Join(missing, ", "), strings.Join(invalid, ", "))
	}
	return NewMetadata(columns, cats)
}
