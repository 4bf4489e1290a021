package tap

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"tapkit/internal/domain"
	"tapkit/internal/table"
)

type resourceKind int

const (
	resourceFile resourceKind = iota + 1
	resourceBytes
	resourceTable
	resourceURL
)

// Resource is a table sent to the service: a file, raw VOTable bytes, an
// in-memory table or, for user table uploads only, a URL.
type Resource struct {
	kind   resourceKind
	path   string
	name   string
	data   []byte
	table  *table.Table
	url    string
	format string
}

// FromFile uploads the file at path.
func FromFile(path string) *Resource {
	return &Resource{kind: resourceFile, path: path}
}

// FromBytes uploads data under the given file name.
func FromBytes(name string, data []byte) *Resource {
	return &Resource{kind: resourceBytes, name: name, data: data}
}

// FromTable uploads an in-memory table encoded as VOTable.
func FromTable(t *table.Table) *Resource {
	return &Resource{kind: resourceTable, table: t}
}

// FromURL lets the service fetch the table from rawURL itself.
func FromURL(rawURL string) *Resource {
	return &Resource{kind: resourceURL, url: rawURL}
}

// WithFormat sets the format of a file resource. Files in a format other
// than VOTable are converted before they are sent.
func (r *Resource) WithFormat(format string) *Resource {
	r.format = format
	return r
}

func (r *Resource) isURL() bool { return r != nil && r.kind == resourceURL }

func (r *Resource) String() string {
	switch r.kind {
	case resourceFile:
		return r.path
	case resourceBytes:
		return r.name
	case resourceTable:
		return "in-memory table"
	case resourceURL:
		return r.url
	}
	return "unknown resource"
}

// votable returns the file name and VOTable content to send.
func (r *Resource) votable() (string, []byte, error) {
	switch r.kind {
	case resourceFile:
		data, err := os.ReadFile(r.path)
		if err != nil {
			return "", nil, fmt.Errorf("read upload resource: %w", err)
		}
		format := table.NormalizeFormat(r.format)
		if format == table.FormatVOTable || format == table.FormatVOTablePlain {
			return filepath.Base(r.path), data, nil
		}
		t, err := table.Read(bytes.NewReader(data), format, table.ReadOptions{})
		if err != nil {
			return "", nil, fmt.Errorf("convert %s to votable: %w", r.path, err)
		}
		return writeTemporaryVOTable(t)
	case resourceBytes:
		name := r.name
		if name == "" {
			name = "upload.vot"
		}
		return name, r.data, nil
	case resourceTable:
		if r.table == nil {
			return "", nil, domain.ErrValidation("upload table is nil")
		}
		return writeTemporaryVOTable(r.table)
	case resourceURL:
		return "", nil, domain.ErrValidation("a URL cannot be sent as a file")
	}
	return "", nil, domain.ErrValidation("empty upload resource")
}

// writeTemporaryVOTable encodes t to a temporary file and reads it back. The
// file is removed before returning.
func writeTemporaryVOTable(t *table.Table) (string, []byte, error) {
	path := filepath.Join(os.TempDir(), "tapkit-"+uuid.NewString()+".vot")
	defer os.Remove(path)

	f, err := os.Create(path)
	if err != nil {
		return "", nil, fmt.Errorf("create temporary votable: %w", err)
	}
	if err := table.WriteVOTable(f, t); err != nil {
		_ = f.Close()
		return "", nil, err
	}
	if err := f.Close(); err != nil {
		return "", nil, fmt.Errorf("write temporary votable: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("read temporary votable: %w", err)
	}
	name := t.Name
	if name == "" || strings.ContainsAny(name, `/\`) {
		name = "table"
	}
	return name + ".vot", data, nil
}
