package table

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"tapkit/internal/domain"
)

type voDocument struct {
	Resources []voResource `xml:"RESOURCE"`
}

type voResource struct {
	Tables    []voTable    `xml:"TABLE"`
	Resources []voResource `xml:"RESOURCE"`
}

type voTable struct {
	Name   string    `xml:"name,attr"`
	Fields []voField `xml:"FIELD"`
	Data   voData    `xml:"DATA"`
}

type voField struct {
	Name        string    `xml:"name,attr"`
	ID          string    `xml:"ID,attr,omitempty"`
	Datatype    string    `xml:"datatype,attr"`
	ArraySize   string    `xml:"arraysize,attr,omitempty"`
	Unit        string    `xml:"unit,attr,omitempty"`
	UCD         string    `xml:"ucd,attr,omitempty"`
	Description string    `xml:"DESCRIPTION,omitempty"`
	Values      *voValues `xml:"VALUES,omitempty"`
}

type voValues struct {
	Null string `xml:"null,attr,omitempty"`
}

type voData struct {
	Rows    []voRow   `xml:"TABLEDATA>TR"`
	Binary  *voStream `xml:"BINARY>STREAM"`
	Binary2 *voStream `xml:"BINARY2>STREAM"`
}

type voRow struct {
	Cells []string `xml:"TD"`
}

type voStream struct {
	Encoding string `xml:"encoding,attr"`
	Value    string `xml:",chardata"`
}

func readVOTable(data []byte, opts ReadOptions) (*Table, error) {
	var doc voDocument
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.CharsetReader = func(_ string, input io.Reader) (io.Reader, error) { return input, nil }
	if err := dec.Decode(&doc); err != nil {
		return nil, domain.ErrProtocol("parse votable: %v", err)
	}
	vt, ok := firstTable(doc.Resources)
	if !ok {
		return nil, domain.ErrProtocol("parse votable: no TABLE element")
	}

	t := &Table{Name: vt.Name}
	names := make([]string, len(vt.Fields))
	for i, f := range vt.Fields {
		names[i] = f.ID
		if opts.UseNamesOverIDs || names[i] == "" {
			names[i] = f.Name
		}
	}
	if opts.UseNamesOverIDs {
		names = uniqueNames(names)
	}
	for i, f := range vt.Fields {
		t.Columns = append(t.Columns, Column{
			Name:        names[i],
			ID:          f.ID,
			Datatype:    f.Datatype,
			ArraySize:   f.ArraySize,
			Unit:        f.Unit,
			UCD:         f.UCD,
			Description: strings.TrimSpace(f.Description),
		})
	}

	switch {
	case vt.Data.Binary2 != nil:
		rows, err := decodeBinary(vt.Fields, vt.Data.Binary2, true)
		if err != nil {
			return nil, err
		}
		t.Rows = rows
	case vt.Data.Binary != nil:
		rows, err := decodeBinary(vt.Fields, vt.Data.Binary, false)
		if err != nil {
			return nil, err
		}
		t.Rows = rows
	default:
		for _, r := range vt.Data.Rows {
			row := make([]any, len(vt.Fields))
			for i, f := range vt.Fields {
				if i < len(r.Cells) {
					row[i] = parseCell(f, r.Cells[i])
				}
			}
			t.Rows = append(t.Rows, row)
		}
	}
	return t, nil
}

func firstTable(resources []voResource) (voTable, bool) {
	for _, r := range resources {
		if len(r.Tables) > 0 {
			return r.Tables[0], true
		}
		if t, ok := firstTable(r.Resources); ok {
			return t, true
		}
	}
	return voTable{}, false
}

func isCharType(datatype string) bool {
	return datatype == "char" || datatype == "unicodeChar"
}

func isArray(f voField) bool {
	return f.ArraySize != "" && f.ArraySize != "1" && !isCharType(f.Datatype)
}

// parseCell converts a TABLEDATA cell according to the field datatype.
func parseCell(f voField, raw string) any {
	if isCharType(f.Datatype) {
		return raw
	}
	s := strings.TrimSpace(raw)
	if s == "" || (f.Values != nil && f.Values.Null != "" && s == f.Values.Null) {
		return nil
	}
	if isArray(f) {
		parts := strings.Fields(s)
		out := make([]any, len(parts))
		for i, p := range parts {
			out[i] = parseScalar(f.Datatype, p)
		}
		return out
	}
	return parseScalar(f.Datatype, s)
}

func parseScalar(datatype, s string) any {
	switch datatype {
	case "boolean":
		switch strings.ToLower(s) {
		case "t", "true", "1":
			return true
		case "f", "false", "0":
			return false
		}
		return nil
	case "bit", "unsignedByte", "short", "int", "long":
		if v, err := strconv.ParseInt(s, 10, 64); err == nil {
			return v
		}
		return nil
	case "float", "double":
		if strings.EqualFold(s, "nan") {
			return math.NaN()
		}
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			return v
		}
		return nil
	case "floatComplex", "doubleComplex":
		parts := strings.Fields(s)
		if len(parts) != 2 {
			return nil
		}
		re, err1 := strconv.ParseFloat(parts[0], 64)
		im, err2 := strconv.ParseFloat(parts[1], 64)
		if err1 != nil || err2 != nil {
			return nil
		}
		return complex(re, im)
	}
	return s
}

type voOutDocument struct {
	XMLName  xml.Name      `xml:"http://www.ivoa.net/xml/VOTable/v1.3 VOTABLE"`
	Version  string        `xml:"version,attr"`
	Resource voOutResource `xml:"RESOURCE"`
}

type voOutResource struct {
	Type  string     `xml:"type,attr"`
	Table voOutTable `xml:"TABLE"`
}

type voOutTable struct {
	Name   string    `xml:"name,attr,omitempty"`
	Fields []voField `xml:"FIELD"`
	Rows   []voRow   `xml:"DATA>TABLEDATA>TR"`
}

// WriteVOTable encodes t as a TABLEDATA VOTable. Columns without a datatype
// get one inferred from their first non-nil value.
func WriteVOTable(w io.Writer, t *Table) error {
	out := voOutDocument{
		Version: "1.4",
		Resource: voOutResource{
			Type:  "results",
			Table: voOutTable{Name: t.Name},
		},
	}
	for i, c := range t.Columns {
		f := voField{
			Name:        c.Name,
			ID:          c.ID,
			Datatype:    c.Datatype,
			ArraySize:   c.ArraySize,
			Unit:        c.Unit,
			UCD:         c.UCD,
			Description: c.Description,
		}
		if f.Datatype == "" {
			f.Datatype, f.ArraySize = inferDatatype(t, i)
		}
		out.Resource.Table.Fields = append(out.Resource.Table.Fields, f)
	}
	for _, row := range t.Rows {
		cells := make([]string, len(t.Columns))
		for i := range t.Columns {
			if i < len(row) {
				cells[i] = formatCell(row[i])
			}
		}
		out.Resource.Table.Rows = append(out.Resource.Table.Rows, voRow{Cells: cells})
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return fmt.Errorf("write votable: %w", err)
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", " ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("write votable: %w", err)
	}
	return enc.Flush()
}

func inferDatatype(t *Table, col int) (string, string) {
	for _, row := range t.Rows {
		if col >= len(row) || row[col] == nil {
			continue
		}
		switch row[col].(type) {
		case bool:
			return "boolean", ""
		case int, int8, int16, int32, int64, uint8, uint16, uint32:
			return "long", ""
		case float32, float64:
			return "double", ""
		default:
			return "char", "*"
		}
	}
	return "char", "*"
}

func formatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		if x {
			return "T"
		}
		return "F"
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case complex128:
		return strconv.FormatFloat(real(x), 'g', -1, 64) + " " + strconv.FormatFloat(imag(x), 'g', -1, 64)
	case []any:
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = formatCell(e)
		}
		return strings.Join(parts, " ")
	}
	return fmt.Sprint(v)
}
