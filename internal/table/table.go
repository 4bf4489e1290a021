// Package table holds query results in memory and converts them from and to
// the formats TAP services return.
package table

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
)

// Result formats understood by Read.
const (
	FormatVOTable      = "votable"
	FormatVOTablePlain = "votable_plain"
	FormatFITS         = "fits"
	FormatCSV          = "csv"
	FormatECSV         = "ecsv"
	FormatJSON         = "json"
)

// Column describes one column of a result table.
type Column struct {
	Name        string
	ID          string
	Datatype    string
	ArraySize   string
	Unit        string
	UCD         string
	Description string
}

// Table is a decoded result table. Cell values are nil, bool, int64,
// float64, complex128, string or []any for array columns.
type Table struct {
	Name    string
	Columns []Column
	Rows    [][]any
}

// ReadOptions controls how columns are named.
type ReadOptions struct {
	// UseNamesOverIDs names VOTable columns by their name attribute instead
	// of their ID. Duplicate names get a numeric suffix.
	UseNamesOverIDs bool
}

// NumRows returns the number of rows.
func (t *Table) NumRows() int { return len(t.Rows) }

// ColumnNames returns the column names in order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// ColumnIndex returns the position of the named column or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c.Name == name {
			return i
		}
	}
	for i, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return i
		}
	}
	return -1
}

// Value returns the cell at row for the named column.
func (t *Table) Value(row int, column string) (any, bool) {
	idx := t.ColumnIndex(column)
	if idx < 0 || row < 0 || row >= len(t.Rows) || idx >= len(t.Rows[row]) {
		return nil, false
	}
	return t.Rows[row][idx], true
}

func (t *Table) String() string {
	return fmt.Sprintf("<Table name=%q length=%d columns=%d>", t.Name, len(t.Rows), len(t.Columns))
}

// Read decodes a result document in the given format. Gzip and zip
// payloads are detected from their magic bytes and unpacked first.
func Read(r io.Reader, format string, opts ReadOptions) (*Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read results: %w", err)
	}
	data, err = Decompress(data)
	if err != nil {
		return nil, err
	}
	switch NormalizeFormat(format) {
	case FormatVOTable, FormatVOTablePlain:
		return readVOTable(data, opts)
	case FormatCSV:
		return readCSV(data)
	case FormatECSV:
		return readECSV(data)
	case FormatJSON:
		return readJSON(data)
	case FormatFITS:
		return readFITS(data)
	default:
		return nil, fmt.Errorf("unsupported result format %q", format)
	}
}

// NormalizeFormat lowercases a format name and maps aliases.
func NormalizeFormat(format string) string {
	f := strings.ToLower(strings.TrimSpace(format))
	switch f {
	case "", "vot", "xml":
		return FormatVOTable
	case "fit":
		return FormatFITS
	}
	return f
}

// Compression names the container of data: "gzip", "zip" or "".
func Compression(data []byte) string {
	switch {
	case len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b:
		return "gzip"
	case len(data) >= 4 && bytes.Equal(data[:4], []byte("PK\x03\x04")):
		return "zip"
	}
	return ""
}

// Decompress unpacks gzip or zip payloads. A zip archive must contain at
// least one file; the first one is returned.
func Decompress(data []byte) ([]byte, error) {
	switch Compression(data) {
	case "gzip":
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("open gzip results: %w", err)
		}
		defer zr.Close()
		out, err := io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("read gzip results: %w", err)
		}
		return out, nil
	case "zip":
		zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			return nil, fmt.Errorf("open zip results: %w", err)
		}
		for _, f := range zr.File {
			if f.FileInfo().IsDir() {
				continue
			}
			rc, err := f.Open()
			if err != nil {
				return nil, fmt.Errorf("open %s in zip results: %w", f.Name, err)
			}
			out, err := io.ReadAll(rc)
			_ = rc.Close()
			if err != nil {
				return nil, fmt.Errorf("read %s in zip results: %w", f.Name, err)
			}
			return out, nil
		}
		return nil, fmt.Errorf("zip results contain no file")
	}
	return data, nil
}

// uniqueNames appends _1, _2, ... to repeated names.
func uniqueNames(names []string) []string {
	seen := make(map[string]int, len(names))
	out := make([]string, len(names))
	for i, n := range names {
		if c, ok := seen[n]; ok {
			c++
			for {
				candidate := n + "_" + strconv.Itoa(c)
				if _, taken := seen[candidate]; !taken {
					seen[n] = c
					seen[candidate] = 0
					out[i] = candidate
					break
				}
				c++
			}
			continue
		}
		seen[n] = 0
		out[i] = n
	}
	return out
}
