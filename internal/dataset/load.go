package dataset

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Supported reports whether the file extension is a loadable tabular format.
func Supported(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".tsv", ".txt", ".xlsx":
		return true
	}
	return false
}

// Load reads a CSV/TSV/XLSX file into a typed Dataset.
func Load(path string, opt Options) (*Dataset, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	return Decode(filepath.Base(path), b, opt)
}

// Decode parses raw file content; name selects the format by extension.
func Decode(name string, b []byte, opt Options) (*Dataset, error) {
	if strings.EqualFold(filepath.Ext(name), ".xlsx") {
		return ReadXLSX(name, b, opt)
	}
	if opt.Delimiter == 0 {
		opt.Delimiter = sniffDelimiter(name, b)
	}
	return ReadCSV(name, bytes.NewReader(b), opt)
}

// ReadCSV reads delimited text with a header row.
func ReadCSV(name string, r io.Reader, opt Options) (*Dataset, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.LazyQuotes = true
	if opt.Delimiter != 0 {
		cr.Comma = opt.Delimiter
	}
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrNoHeader
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	var records [][]string
	for {
		rec, err := cr.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("read row %d: %w", len(records)+1, err)
		}
		if opt.MaxRows > 0 && len(records) >= opt.MaxRows {
			break
		}
		if blankRecord(rec) {
			continue
		}
		records = append(records, rec)
	}
	return FromRecords(name, header, records, opt)
}

// FromRecords builds a Dataset from a raw header and string records, inferring
// a per-column type: all-numeric columns become float64, true/false columns
// become bool, everything else stays string. Null tokens become nil.
func FromRecords(name string, header []string, records [][]string, opt Options) (*Dataset, error) {
	cols := normalizeHeader(header)
	if len(cols) == 0 {
		return nil, ErrNoHeader
	}
	if len(records) == 0 {
		return nil, ErrEmpty
	}
	rows := make([][]Value, len(records))
	for i := range rows {
		rows[i] = make([]Value, len(cols))
	}
	for j := range cols {
		kind := inferKind(records, j, opt)
		for i, rec := range records {
			if j >= len(rec) || IsNullToken(rec[j]) {
				continue
			}
			raw := strings.TrimSpace(rec[j])
			switch kind {
			case kindNumber:
				f, _ := ParseNumber(raw, opt)
				rows[i][j] = f
			case kindBool:
				bv, _ := strconv.ParseBool(strings.ToLower(raw))
				rows[i][j] = bv
			default:
				rows[i][j] = raw
			}
		}
	}
	return New(name, cols, rows)
}

type cellKind int

const (
	kindText cellKind = iota
	kindNumber
	kindBool
)

func inferKind(records [][]string, j int, opt Options) cellKind {
	seen := 0
	num, boolean := true, true
	for _, rec := range records {
		if j >= len(rec) || IsNullToken(rec[j]) {
			continue
		}
		seen++
		raw := strings.TrimSpace(rec[j])
		if num {
			if _, ok := ParseNumber(raw, opt); !ok {
				num = false
			}
		}
		if boolean {
			switch strings.ToLower(raw) {
			case "true", "false":
			default:
				boolean = false
			}
		}
		if !num && !boolean {
			return kindText
		}
	}
	switch {
	case seen == 0:
		return kindText
	case num:
		return kindNumber
	case boolean:
		return kindBool
	}
	return kindText
}

// normalizeHeader trims names, fills blanks and de-duplicates with ".N"
// suffixes. Trailing blank header cells are dropped.
func normalizeHeader(header []string) []string {
	n := len(header)
	for n > 0 && strings.TrimSpace(header[n-1]) == "" {
		n--
	}
	out := make([]string, 0, n)
	used := map[string]bool{}
	for i := 0; i < n; i++ {
		h := strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
		if h == "" {
			h = fmt.Sprintf("Unnamed: %d", i)
		}
		name := h
		for k := 1; used[name]; k++ {
			name = fmt.Sprintf("%s.%d", h, k)
		}
		used[name] = true
		out = append(out, name)
	}
	return out
}

func blankRecord(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// sniffDelimiter picks a delimiter from the extension, falling back to the
// most frequent candidate in the first line.
func sniffDelimiter(name string, b []byte) rune {
	if strings.EqualFold(filepath.Ext(name), ".tsv") {
		return '\t'
	}
	sc := bufio.NewScanner(bytes.NewReader(b))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	if !sc.Scan() {
		return ','
	}
	line := sc.Text()
	best, bestN := ',', 0
	for _, d := range []rune{',', ';', '\t', '|'} {
		if n := strings.Count(line, string(d)); n > bestN {
			best, bestN = d, n
		}
	}
	return best
}
