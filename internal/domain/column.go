package domain

import (
	"fmt"
	"strings"
)

// ColumnRole is the semantic role a TAP+ service assigns to a column.
type ColumnRole int

// Column roles. The numeric values are the wire bit patterns.
const (
	RoleNone ColumnRole = 0
	RoleRa   ColumnRole = 1
	RoleDec  ColumnRole = 2
	RoleFlux ColumnRole = 4
	RoleMag  ColumnRole = 8
	RolePK   ColumnRole = 16
)

// FlagIndexed is the modifier bit added to a role when the column is indexed.
const FlagIndexed = 32

var roleNames = map[ColumnRole]string{
	RoleRa:   "Ra",
	RoleDec:  "Dec",
	RoleFlux: "Flux",
	RoleMag:  "Mag",
	RolePK:   "PK",
}

// String returns the wire name of the role, "None" for RoleNone.
func (r ColumnRole) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return "None"
}

// RequiresIndex reports whether the service keeps an index on columns with this role.
func (r ColumnRole) RequiresIndex() bool {
	return r == RoleRa || r == RoleDec || r == RolePK
}

// Flags encodes the role and the indexed modifier into the wire bit pattern.
func (r ColumnRole) Flags(indexed bool) int {
	f := int(r)
	if indexed {
		f |= FlagIndexed
	}
	return f
}

// DecodeFlags splits a wire flags value into its role and indexed modifier.
// Unrecognized patterns decode to RoleNone without the modifier.
func DecodeFlags(flags int) (ColumnRole, bool) {
	indexed := flags&FlagIndexed != 0
	role := ColumnRole(flags &^ FlagIndexed)
	if role == RoleNone {
		return RoleNone, indexed
	}
	if _, ok := roleNames[role]; !ok {
		return RoleNone, false
	}
	return role, indexed
}

// ParseRole parses a role name as accepted by table updates. The empty string
// and "None" both mean RoleNone.
func ParseRole(s string) (ColumnRole, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "none") {
		return RoleNone, nil
	}
	for role, name := range roleNames {
		if strings.EqualFold(name, s) {
			return role, nil
		}
	}
	return RoleNone, ErrValidation("invalid column flag %q: must be one of Ra, Dec, Flux, Mag, PK", s)
}

// ColumnMeta describes one column of a TAP table.
type ColumnMeta struct {
	Name        string
	Description string
	Unit        string
	UCD         string
	UType       string
	DataType    string
	ArraySize   string
	Flags       int
	Role        ColumnRole
	Indexed     bool
	Primary     bool
}

// TableMeta describes a TAP table.
type TableMeta struct {
	Schema      string
	Name        string
	Description string
	SizeBytes   int64
	Columns     []ColumnMeta
}

// QualifiedName returns "schema.table", or the bare name when the table name
// is already qualified or there is no schema.
func (t *TableMeta) QualifiedName() string {
	if t.Schema == "" || strings.Contains(t.Name, ".") {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

// Column returns the column with the given name.
func (t *TableMeta) Column(name string) (*ColumnMeta, bool) {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i], true
		}
	}
	return nil, false
}

func (t *TableMeta) String() string {
	return fmt.Sprintf("%s (%d columns)", t.QualifiedName(), len(t.Columns))
}
