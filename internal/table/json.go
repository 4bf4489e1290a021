package table

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type jsonDocument struct {
	Metadata []jsonColumn `json:"metadata"`
	Data     [][]any      `json:"data"`
}

type jsonColumn struct {
	Name        string `json:"name"`
	Datatype    string `json:"datatype"`
	ArraySize   string `json:"arraysize"`
	Unit        string `json:"unit"`
	UCD         string `json:"ucd"`
	Description string `json:"description"`
}

func readJSON(data []byte) (*Table, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc jsonDocument
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse json results: %w", err)
	}
	t := &Table{}
	for _, m := range doc.Metadata {
		t.Columns = append(t.Columns, Column{
			Name:        m.Name,
			Datatype:    m.Datatype,
			ArraySize:   m.ArraySize,
			Unit:        m.Unit,
			UCD:         m.UCD,
			Description: m.Description,
		})
	}
	for _, rec := range doc.Data {
		row := make([]any, len(t.Columns))
		for i := range t.Columns {
			if i < len(rec) {
				row[i] = jsonValue(rec[i])
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// jsonValue turns json.Number into int64 or float64 and recurses into arrays.
func jsonValue(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = jsonValue(e)
		}
		return out
	}
	return v
}
