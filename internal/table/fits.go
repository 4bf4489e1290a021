package table

import (
	"bytes"
	"fmt"
	"reflect"

	"github.com/astrogo/fitsio"
)

// readFITS decodes the first ASCII or binary table extension.
func readFITS(data []byte) (*Table, error) {
	f, err := fitsio.Open(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open fits results: %w", err)
	}
	defer f.Close()

	for _, hdu := range f.HDUs() {
		if hdu.Type() != fitsio.BINARY_TBL && hdu.Type() != fitsio.ASCII_TBL {
			continue
		}
		tbl, ok := hdu.(*fitsio.Table)
		if !ok {
			continue
		}
		return convertFITS(hdu.Name(), tbl)
	}
	return nil, fmt.Errorf("fits results contain no table extension")
}

func convertFITS(name string, tbl *fitsio.Table) (*Table, error) {
	cols := tbl.Cols()
	t := &Table{Name: name}
	for _, c := range cols {
		t.Columns = append(t.Columns, Column{
			Name:     c.Name,
			Datatype: fitsDatatype(c.Type()),
			Unit:     c.Unit,
		})
	}

	rows, err := tbl.Read(0, tbl.NumRows())
	if err != nil {
		return nil, fmt.Errorf("read fits rows: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		ptrs := make([]any, len(cols))
		for i := range cols {
			ptrs[i] = reflect.New(cols[i].Type()).Interface()
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan fits row: %w", err)
		}
		row := make([]any, len(cols))
		for i, p := range ptrs {
			row[i] = normalizeValue(reflect.ValueOf(p).Elem())
		}
		t.Rows = append(t.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read fits rows: %w", err)
	}
	return t, nil
}

func fitsDatatype(rt reflect.Type) string {
	if rt.Kind() == reflect.Slice || rt.Kind() == reflect.Array {
		if rt.Elem().Kind() == reflect.Uint8 && rt.Kind() == reflect.Slice {
			return "unsignedByte"
		}
		return fitsDatatype(rt.Elem())
	}
	switch rt.Kind() {
	case reflect.Bool:
		return "boolean"
	case reflect.Int8, reflect.Uint8:
		return "unsignedByte"
	case reflect.Int16, reflect.Uint16:
		return "short"
	case reflect.Int32, reflect.Uint32:
		return "int"
	case reflect.Int, reflect.Int64, reflect.Uint64:
		return "long"
	case reflect.Float32:
		return "float"
	case reflect.Float64:
		return "double"
	case reflect.Complex64:
		return "floatComplex"
	case reflect.Complex128:
		return "doubleComplex"
	}
	return "char"
}

// normalizeValue maps Go scalar kinds onto the cell types of Table.
func normalizeValue(v reflect.Value) any {
	switch v.Kind() {
	case reflect.Bool:
		return v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(v.Uint())
	case reflect.Float32, reflect.Float64:
		return v.Float()
	case reflect.Complex64, reflect.Complex128:
		return v.Complex()
	case reflect.String:
		return trimChars(v.String())
	case reflect.Slice, reflect.Array:
		out := make([]any, v.Len())
		for i := range out {
			out[i] = normalizeValue(v.Index(i))
		}
		return out
	}
	return v.Interface()
}
