package table

import (
	"encoding/base64"
	"encoding/binary"
	"math"
	"strconv"
	"strings"
	"unicode/utf16"

	"tapkit/internal/domain"
)

var elementSize = map[string]int{
	"boolean":       1,
	"unsignedByte":  1,
	"short":         2,
	"int":           4,
	"long":          8,
	"char":          1,
	"unicodeChar":   2,
	"float":         4,
	"double":        8,
	"floatComplex":  8,
	"doubleComplex": 16,
}

// decodeBinary decodes a base64 BINARY or BINARY2 stream. BINARY2 rows
// start with a null bitmask, most significant bit first.
func decodeBinary(fields []voField, stream *voStream, withMask bool) ([][]any, error) {
	if enc := strings.TrimSpace(stream.Encoding); enc != "" && enc != "base64" {
		return nil, domain.ErrProtocol("parse votable: unsupported stream encoding %q", enc)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(stream.Value), ""))
	if err != nil {
		return nil, domain.ErrProtocol("parse votable: decode stream: %v", err)
	}

	r := &binReader{buf: raw}
	maskLen := (len(fields) + 7) / 8
	var rows [][]any
	for r.remaining() > 0 {
		var mask []byte
		if withMask {
			if mask, err = r.next(maskLen); err != nil {
				return nil, err
			}
		}
		row := make([]any, len(fields))
		for i, f := range fields {
			v, err := r.field(f)
			if err != nil {
				return nil, err
			}
			if withMask && mask[i/8]&(0x80>>(uint(i)%8)) != 0 {
				continue
			}
			row[i] = v
		}
		rows = append(rows, row)
	}
	return rows, nil
}

type binReader struct {
	buf []byte
	pos int
}

func (r *binReader) remaining() int { return len(r.buf) - r.pos }

func (r *binReader) next(n int) ([]byte, error) {
	if n < 0 || r.remaining() < n {
		return nil, domain.ErrProtocol("parse votable: truncated binary stream")
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// field reads one cell. Variable-length arrays carry a 4-byte count prefix.
func (r *binReader) field(f voField) (any, error) {
	count, variable := arrayCount(f.ArraySize)
	if variable {
		b, err := r.next(4)
		if err != nil {
			return nil, err
		}
		count *= int(binary.BigEndian.Uint32(b))
	}

	if f.Datatype == "bit" {
		b, err := r.next((count + 7) / 8)
		if err != nil {
			return nil, err
		}
		if f.ArraySize == "" {
			return int64(b[0] >> 7), nil
		}
		out := make([]any, count)
		for i := range out {
			out[i] = int64((b[i/8] >> (7 - uint(i)%8)) & 1)
		}
		return out, nil
	}

	size, ok := elementSize[f.Datatype]
	if !ok {
		return nil, domain.ErrProtocol("parse votable: unsupported datatype %q", f.Datatype)
	}
	b, err := r.next(size * count)
	if err != nil {
		return nil, err
	}

	switch f.Datatype {
	case "char":
		return trimChars(string(b)), nil
	case "unicodeChar":
		units := make([]uint16, count)
		for i := range units {
			units[i] = binary.BigEndian.Uint16(b[2*i:])
		}
		return trimChars(string(utf16.Decode(units))), nil
	}

	if f.ArraySize == "" {
		return scalar(f, b), nil
	}
	out := make([]any, count)
	for i := range out {
		out[i] = scalar(f, b[i*size:(i+1)*size])
	}
	return out, nil
}

func scalar(f voField, b []byte) any {
	var v any
	switch f.Datatype {
	case "boolean":
		switch b[0] {
		case 'T', 't', '1':
			return true
		case 'F', 'f', '0':
			return false
		}
		return nil
	case "unsignedByte":
		v = int64(b[0])
	case "short":
		v = int64(int16(binary.BigEndian.Uint16(b)))
	case "int":
		v = int64(int32(binary.BigEndian.Uint32(b)))
	case "long":
		v = int64(binary.BigEndian.Uint64(b))
	case "float":
		return float64(math.Float32frombits(binary.BigEndian.Uint32(b)))
	case "double":
		return math.Float64frombits(binary.BigEndian.Uint64(b))
	case "floatComplex":
		return complex(float64(math.Float32frombits(binary.BigEndian.Uint32(b))),
			float64(math.Float32frombits(binary.BigEndian.Uint32(b[4:]))))
	case "doubleComplex":
		return complex(math.Float64frombits(binary.BigEndian.Uint64(b)),
			math.Float64frombits(binary.BigEndian.Uint64(b[8:])))
	}
	if f.Values != nil && f.Values.Null != "" {
		if null, err := strconv.ParseInt(f.Values.Null, 0, 64); err == nil && v == null {
			return nil
		}
	}
	return v
}

// arrayCount returns the fixed element count of an arraysize attribute and
// whether a count prefix follows. "10x*" means ten times the prefix.
func arrayCount(arraysize string) (int, bool) {
	if arraysize == "" {
		return 1, false
	}
	count := 1
	variable := false
	for _, dim := range strings.Split(arraysize, "x") {
		if strings.HasSuffix(dim, "*") {
			variable = true
			continue
		}
		if n, err := strconv.Atoi(dim); err == nil {
			count *= n
		}
	}
	return count, variable
}

func trimChars(s string) string {
	if i := strings.IndexByte(s, 0); i >= 0 {
		s = s[:i]
	}
	return strings.TrimRight(s, " ")
}
