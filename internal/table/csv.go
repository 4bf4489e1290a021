package table

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

func readCSV(data []byte) (*Table, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv results: %w", err)
	}
	t := &Table{}
	if len(records) == 0 {
		return t, nil
	}
	for _, name := range records[0] {
		t.Columns = append(t.Columns, Column{Name: strings.TrimSpace(name)})
	}
	body := records[1:]
	for i := range t.Columns {
		t.Columns[i].Datatype = inferColumn(body, i)
	}
	for _, rec := range body {
		row := make([]any, len(t.Columns))
		for i, c := range t.Columns {
			if i < len(rec) {
				row[i] = convertTyped(c.Datatype, rec[i])
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// inferColumn picks the narrowest VOTable datatype that parses every
// non-empty value of column i.
func inferColumn(records [][]string, i int) string {
	isLong, isDouble, isBool, seen := true, true, true, false
	for _, rec := range records {
		if i >= len(rec) {
			continue
		}
		s := strings.TrimSpace(rec[i])
		if s == "" {
			continue
		}
		seen = true
		if _, err := strconv.ParseInt(s, 10, 64); err != nil {
			isLong = false
		}
		if _, err := strconv.ParseFloat(s, 64); err != nil {
			isDouble = false
		}
		if _, err := strconv.ParseBool(s); err != nil || isNumeric(s) {
			isBool = false
		}
	}
	switch {
	case !seen:
		return "char"
	case isLong:
		return "long"
	case isDouble:
		return "double"
	case isBool:
		return "boolean"
	}
	return "char"
}

func isNumeric(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

func convertTyped(datatype, raw string) any {
	if datatype == "char" || datatype == "string" {
		return raw
	}
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	switch datatype {
	case "long":
		if v, err := strconv.ParseInt(s, 10, 64); err == nil {
			return v
		}
	case "double":
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			return v
		}
	case "boolean":
		if v, err := strconv.ParseBool(s); err == nil {
			return v
		}
	}
	return raw
}

type ecsvHeader struct {
	Delimiter string           `yaml:"delimiter"`
	Datatype  []ecsvColumnSpec `yaml:"datatype"`
	Meta      map[string]any   `yaml:"meta"`
	Schema    string           `yaml:"schema"`
}

type ecsvColumnSpec struct {
	Name        string `yaml:"name"`
	Datatype    string `yaml:"datatype"`
	Subtype     string `yaml:"subtype,omitempty"`
	Unit        string `yaml:"unit,omitempty"`
	Description string `yaml:"description,omitempty"`
}

// ecsvTypes maps ECSV datatypes to VOTable ones.
var ecsvTypes = map[string]string{
	"bool":     "boolean",
	"int8":     "long",
	"int16":    "long",
	"int32":    "long",
	"int64":    "long",
	"uint8":    "long",
	"uint16":   "long",
	"uint32":   "long",
	"uint64":   "long",
	"float16":  "double",
	"float32":  "double",
	"float64":  "double",
	"float128": "double",
	"string":   "char",
}

func readECSV(data []byte) (*Table, error) {
	var headerLines []string
	var body bytes.Buffer
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	first := true
	for sc.Scan() {
		line := sc.Text()
		if first {
			first = false
			if !strings.HasPrefix(line, "# %ECSV") {
				return nil, fmt.Errorf("parse ecsv results: missing %%ECSV marker")
			}
			continue
		}
		if strings.HasPrefix(line, "#") {
			h := strings.TrimPrefix(strings.TrimPrefix(line, "#"), " ")
			if strings.TrimSpace(h) == "---" {
				continue
			}
			headerLines = append(headerLines, h)
			continue
		}
		body.WriteString(line)
		body.WriteByte('\n')
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("parse ecsv results: %w", err)
	}

	var header ecsvHeader
	if err := yaml.Unmarshal([]byte(strings.Join(headerLines, "\n")), &header); err != nil {
		return nil, fmt.Errorf("parse ecsv header: %w", err)
	}
	delim := ' '
	if header.Delimiter != "" {
		delim = []rune(header.Delimiter)[0]
	}

	r := csv.NewReader(&body)
	r.Comma = delim
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse ecsv results: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("parse ecsv results: missing column names")
	}

	specs := make(map[string]ecsvColumnSpec, len(header.Datatype))
	for _, s := range header.Datatype {
		specs[s.Name] = s
	}
	t := &Table{}
	for _, name := range records[0] {
		spec := specs[name]
		dt, ok := ecsvTypes[spec.Datatype]
		if !ok {
			dt = "char"
		}
		t.Columns = append(t.Columns, Column{
			Name:        name,
			Datatype:    dt,
			Unit:        spec.Unit,
			Description: spec.Description,
		})
	}
	for _, rec := range records[1:] {
		row := make([]any, len(t.Columns))
		for i, c := range t.Columns {
			if i < len(rec) {
				row[i] = convertTyped(c.Datatype, rec[i])
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// WriteCSV encodes t with a header row. Nil cells are written empty.
func WriteCSV(w io.Writer, t *Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.ColumnNames()); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	for _, row := range t.Rows {
		rec := make([]string, len(t.Columns))
		for i := range rec {
			if i < len(row) {
				rec[i] = formatCell(row[i])
			}
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write csv: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
