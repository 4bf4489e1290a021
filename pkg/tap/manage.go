package tap

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"tapkit/internal/conn"
	"tapkit/internal/domain"
	"tapkit/internal/job"
	"tapkit/internal/params"
	"tapkit/internal/table"
)

// Column fields UpdateUserTable can change.
const (
	FieldUType   = "utype"
	FieldUCD     = "ucd"
	FieldFlags   = "flags"
	FieldIndexed = "indexed"
)

// ColumnChange sets Field of Column to Value. Flags take a role name (Ra,
// Dec, Flux, Mag, PK, or empty/None) and indexed takes a boolean.
type ColumnChange struct {
	Column string
	Field  string
	Value  string
}

func (c ColumnChange) validate() error {
	if c.Column == "" {
		return domain.ErrValidation("column name of a change cannot be empty")
	}
	switch c.Field {
	case FieldUType, FieldUCD:
	case FieldFlags:
		if _, err := domain.ParseRole(c.Value); err != nil {
			return err
		}
	case FieldIndexed:
		if _, err := strconv.ParseBool(c.Value); err != nil {
			return domain.ErrValidation("indexed value of column %s must be a boolean, got %q", c.Column, c.Value)
		}
	default:
		return domain.ErrValidation("field of a change must be utype, ucd, flags or indexed, got %q", c.Field)
	}
	return nil
}

// UploadTable creates the user table tableName from resource. A file in a
// format other than VOTable is converted first. When the service runs the
// upload as a job, that job is returned in phase EXECUTING; otherwise the
// result is nil.
func (p *Plus) UploadTable(ctx context.Context, resource *Resource, tableName, description string) (*job.Job, error) {
	if resource == nil {
		return nil, domain.ErrValidation("missing mandatory argument upload resource")
	}
	if tableName == "" {
		return nil, domain.ErrValidation("missing mandatory argument table name")
	}
	if strings.Contains(tableName, ".") {
		return nil, domain.ErrValidation("table name is not allowed to contain a dot: %s", tableName)
	}

	form := params.New().
		Set("TASKID", "-1").
		Set("TABLE_NAME", tableName).
		Set("TABLE_DESC", description)
	var file conn.File
	if resource.isURL() {
		format := resource.format
		if format == "" {
			format = table.FormatVOTable
		}
		form.Set("FORMAT", format).Set("URL", resource.url)
		file = conn.File{Field: "FILE"}
	} else {
		filename, data, err := resource.votable()
		if err != nil {
			return nil, err
		}
		form.Set("FORMAT", table.FormatVOTable)
		file = conn.File{Field: "FILE", Filename: filename, Content: data}
	}
	p.logger.Info("Sending table", "table", tableName, "resource", resource.String())

	resp, err := p.handler.PostMultipart(ctx, conn.Upload, "", form, []conn.File{file})
	if err != nil {
		return nil, err
	}
	switch resp.StatusCode {
	case http.StatusSeeOther, http.StatusFound:
		_ = resp.Body.Close()
		location, _ := conn.FindHeader(resp.Header, "Location")
		o := p.jobOpts
		o.Async = true
		o.Name = "Table upload"
		j := job.New(o)
		if err := j.Apply(job.Submitted{StatusCode: resp.StatusCode, Reason: conn.Reason(resp)}); err != nil {
			return nil, err
		}
		if err := j.Apply(job.Accepted{Location: location, Autorun: true}); err != nil {
			return nil, err
		}
		p.logger.Info("Created upload job", "job_id", j.JobID(), "table", tableName)
		return j, nil
	case http.StatusOK:
		_ = resp.Body.Close()
		p.logger.Info("Uploaded table", "table", tableName)
		return nil, nil
	}
	return nil, conn.ConsumeError(resp)
}

// UploadTableFromJob creates a user table from the results of j. The table
// name defaults to "t<jobid>" and the description to the job query.
func (p *Plus) UploadTableFromJob(ctx context.Context, j *job.Job, tableName, description string) error {
	if j == nil || j.JobID() == "" {
		return domain.ErrValidation("an async job with an id is required")
	}
	if tableName == "" {
		tableName = "t" + j.JobID()
	}
	if description == "" {
		description = j.Query()
	}
	form := params.New().
		Set("TASKID", "-1").
		Set("JOBID", j.JobID()).
		Set("TABLE_NAME", tableName).
		Set("TABLE_DESC", description).
		Set("FORMAT", table.FormatVOTable)
	resp, err := p.handler.PostMultipart(ctx, conn.Upload, "", form, []conn.File{{Field: "FILE"}})
	if err != nil {
		return err
	}
	if conn.CheckStatus(resp, http.StatusOK) {
		return conn.ConsumeError(resp)
	}
	_ = resp.Body.Close()
	p.logger.Info("Created table from job", "table", tableName, "job_id", j.JobID())
	return nil
}

// UploadTableFromJobID loads the job jobID and creates a table from it.
func (p *Plus) UploadTableFromJobID(ctx context.Context, jobID, tableName, description string) error {
	j, err := p.LoadAsyncJob(ctx, jobID, false)
	if err != nil {
		return err
	}
	return p.UploadTableFromJob(ctx, j, tableName, description)
}

// DeleteUserTable removes a user table. force removes it even when it is
// shared.
func (p *Plus) DeleteUserTable(ctx context.Context, tableName string, force bool) error {
	if tableName == "" {
		return domain.ErrValidation("table name cannot be empty")
	}
	form := params.New().
		Set("TABLE_NAME", tableName).
		Set("DELETE", "TRUE").
		Set("FORCE_REMOVAL", strings.ToUpper(strconv.FormatBool(force)))
	if err := p.post(ctx, conn.Upload, "", form); err != nil {
		return err
	}
	p.logger.Info("Table deleted", "table", tableName)
	return nil
}

// RenameTable renames a user table, its columns, or both. newColumnNames
// maps old column names to new ones.
func (p *Plus) RenameTable(ctx context.Context, tableName, newTableName string, newColumnNames map[string]string) error {
	if tableName == "" {
		return domain.ErrValidation("table name is mandatory")
	}
	if newTableName == "" && len(newColumnNames) == 0 {
		return domain.ErrValidation("a new table name or at least one new column name is required")
	}
	if err := p.post(ctx, conn.TableEdit, "", RenameArguments(tableName, newTableName, newColumnNames)); err != nil {
		return err
	}
	p.logger.Info("Table updated", "table", tableName)
	return nil
}

// RenameArguments builds the rename request. An empty newTableName keeps
// the current name; column pairs are sorted by old name.
func RenameArguments(tableName, newTableName string, newColumnNames map[string]string) *params.Builder {
	if newTableName == "" {
		newTableName = tableName
	}
	form := params.New().Set("action", "rename")
	if len(newColumnNames) > 0 {
		olds := make([]string, 0, len(newColumnNames))
		for old := range newColumnNames {
			olds = append(olds, old)
		}
		sort.Strings(olds)
		pairs := make([]string, len(olds))
		for i, old := range olds {
			pairs[i] = old + ":" + newColumnNames[old]
		}
		form.Set("new_column_names", strings.Join(pairs, ","))
	}
	return form.Set("new_table_name", newTableName).Set("table_name", tableName)
}

// UpdateUserTable changes column metadata of a user table. Every column
// must exist, and Ra and Dec flags must be set together.
func (p *Plus) UpdateUserTable(ctx context.Context, tableName string, changes []ColumnChange) error {
	if tableName == "" {
		return domain.ErrValidation("table name cannot be empty")
	}
	if len(changes) == 0 {
		return domain.ErrValidation("list of changes cannot be empty")
	}
	for _, c := range changes {
		if err := c.validate(); err != nil {
			return err
		}
	}
	hasRa := changesSetRole(changes, domain.RoleRa)
	hasDec := changesSetRole(changes, domain.RoleDec)
	if hasRa != hasDec {
		return domain.ErrValidation("both Ra and Dec must be specified when updating one of them")
	}

	meta, err := p.LoadTable(ctx, tableName)
	if err != nil {
		return err
	}
	if meta == nil {
		return domain.ErrNotFound("table %q not found", tableName)
	}
	if len(meta.Columns) == 0 {
		return domain.ErrValidation("table %s has no columns", tableName)
	}
	for _, c := range changes {
		if _, ok := meta.Column(c.Column); !ok {
			return domain.ErrValidation("column %s was not found in table %s", c.Column, tableName)
		}
	}

	form, err := TableUpdateArguments(tableName, meta.Columns, changes)
	if err != nil {
		return err
	}
	if err := p.post(ctx, conn.TableEdit, "", form); err != nil {
		return err
	}
	p.logger.Info("Table updated", "table", tableName)
	return nil
}

func changesSetRole(changes []ColumnChange, role domain.ColumnRole) bool {
	for _, c := range changes {
		if c.Field != FieldFlags {
			continue
		}
		if r, err := domain.ParseRole(c.Value); err == nil && r == role {
			return true
		}
	}
	return false
}

// TableUpdateArguments builds the edit request for every column of a
// table. Columns without changes keep their current flags, indexed state,
// ucd and utype. Setting a role forces the index on and clearing it forces
// the index off, unless the same column also changes indexed.
func TableUpdateArguments(tableName string, columns []domain.ColumnMeta, changes []ColumnChange) (*params.Builder, error) {
	form := params.New().
		Set("ACTION", "edit").
		Set("NUMTABLES", "1").
		SetInt("TABLE0_NUMCOLS", len(columns)).
		Set("TABLE0", tableName)

	for i, col := range columns {
		role := col.Role
		indexed := col.Indexed || role.RequiresIndex()
		ucd, utype := col.UCD, col.UType

		var newRole *domain.ColumnRole
		var newIndexed *bool
		for _, c := range changes {
			if c.Column != col.Name {
				continue
			}
			switch c.Field {
			case FieldUCD:
				ucd = c.Value
			case FieldUType:
				utype = c.Value
			case FieldFlags:
				r, err := domain.ParseRole(c.Value)
				if err != nil {
					return nil, err
				}
				newRole = &r
			case FieldIndexed:
				b, err := strconv.ParseBool(c.Value)
				if err != nil {
					return nil, domain.ErrValidation("indexed value of column %s must be a boolean, got %q", c.Column, c.Value)
				}
				newIndexed = &b
			}
		}
		if newIndexed != nil {
			indexed = *newIndexed
		}
		if newRole != nil {
			role = *newRole
			if newIndexed == nil {
				indexed = role != domain.RoleNone
			}
		}

		prefix := "TABLE0_COL" + strconv.Itoa(i)
		form.Set(prefix, col.Name).
			Set(prefix+"_UCD", ucd).
			Set(prefix+"_UTYPE", utype).
			Set(prefix+"_INDEXED", wireBool(indexed)).
			Set(prefix+"_FLAGS", role.String())
	}
	return form, nil
}

func wireBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

// SetRaDecColumns marks the Ra and Dec columns of a user table.
func (p *Plus) SetRaDecColumns(ctx context.Context, tableName, raColumn, decColumn string) error {
	switch {
	case tableName == "":
		return domain.ErrValidation("table name cannot be empty")
	case raColumn == "":
		return domain.ErrValidation("ra column name cannot be empty")
	case decColumn == "":
		return domain.ErrValidation("dec column name cannot be empty")
	}
	form := params.New().
		Set("ACTION", "radec").
		Set("TABLE_NAME", tableName).
		Set("RA", raColumn).
		Set("DEC", decColumn)
	if err := p.post(ctx, conn.TableEdit, "", form); err != nil {
		return err
	}
	p.logger.Info("Table updated (ra/dec)", "table", tableName)
	return nil
}
