// Package tapxml decodes the XML metadata documents served by TAP and TAP+
// services. Elements are matched by local name so namespace prefixes do not
// matter.
package tapxml

import (
	"encoding/xml"
	"io"
	"strconv"
	"strings"

	"tapkit/internal/domain"
)

type xmlTableset struct {
	Schemas []xmlSchema `xml:"schema"`
	Tables  []xmlTable  `xml:"table"`
}

type xmlSchema struct {
	Name        string     `xml:"name"`
	Description string     `xml:"description"`
	Tables      []xmlTable `xml:"table"`
}

type xmlTable struct {
	SizeBytes   string      `xml:"size_bytes,attr"`
	Name        string      `xml:"name"`
	Description string      `xml:"description"`
	Columns     []xmlColumn `xml:"column"`
}

type xmlColumn struct {
	Flags       string      `xml:"flags,attr"`
	Name        string      `xml:"name"`
	Description string      `xml:"description"`
	Unit        string      `xml:"unit"`
	UCD         string      `xml:"ucd"`
	UType       string      `xml:"utype"`
	DataType    xmlDataType `xml:"dataType"`
	Flag        []string    `xml:"flag"`
}

type xmlDataType struct {
	Value     string `xml:",chardata"`
	ArraySize string `xml:"arraysize,attr"`
}

// ParseTables decodes a VOSI tableset into table metadata, in document order.
func ParseTables(r io.Reader) ([]*domain.TableMeta, error) {
	var doc xmlTableset
	if err := decode(r, &doc); err != nil {
		return nil, domain.ErrProtocol("parse tables: %v", err)
	}
	var out []*domain.TableMeta
	for _, s := range doc.Schemas {
		for _, t := range s.Tables {
			out = append(out, convertTable(strings.TrimSpace(s.Name), t))
		}
	}
	for _, t := range doc.Tables {
		out = append(out, convertTable("", t))
	}
	return out, nil
}

func convertTable(schema string, t xmlTable) *domain.TableMeta {
	meta := &domain.TableMeta{
		Schema:      schema,
		Name:        strings.TrimSpace(t.Name),
		Description: strings.TrimSpace(t.Description),
	}
	if t.SizeBytes != "" {
		meta.SizeBytes, _ = strconv.ParseInt(strings.TrimSpace(t.SizeBytes), 10, 64)
	}
	for _, c := range t.Columns {
		meta.Columns = append(meta.Columns, convertColumn(c))
	}
	return meta
}

func convertColumn(c xmlColumn) domain.ColumnMeta {
	col := domain.ColumnMeta{
		Name:        strings.TrimSpace(c.Name),
		Description: strings.TrimSpace(c.Description),
		Unit:        strings.TrimSpace(c.Unit),
		UCD:         strings.TrimSpace(c.UCD),
		UType:       strings.TrimSpace(c.UType),
		DataType:    strings.TrimSpace(c.DataType.Value),
		ArraySize:   c.DataType.ArraySize,
	}
	if f, err := strconv.Atoi(strings.TrimSpace(c.Flags)); err == nil {
		col.Flags = f
		col.Role, col.Indexed = domain.DecodeFlags(f)
	}
	for _, flag := range c.Flag {
		switch strings.ToLower(strings.TrimSpace(flag)) {
		case "indexed":
			col.Indexed = true
		case "primary":
			col.Primary = true
		}
	}
	return col
}

func decode(r io.Reader, v any) error {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = func(_ string, input io.Reader) (io.Reader, error) {
		return input, nil
	}
	return dec.Decode(v)
}
