package tap

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"tapkit/internal/conn"
	"tapkit/internal/domain"
	"tapkit/internal/job"
	"tapkit/internal/params"
	"tapkit/internal/table"
)

// Querier is the standard TAP surface.
type Querier interface {
	LoadTable(ctx context.Context, qualifiedName string) (*domain.TableMeta, error)
	LaunchJob(ctx context.Context, query string, opts LaunchOptions) (*job.Job, error)
	LaunchJobAsync(ctx context.Context, query string, opts AsyncOptions) (*job.Job, error)
	LoadAsyncJob(ctx context.Context, jobID string, loadResults bool) (*job.Job, error)
	LoadAsyncJobByName(ctx context.Context, name string, loadResults bool) (*job.Job, error)
	SearchAsyncJobs(ctx context.Context, filter *job.Filter) ([]*job.Job, error)
	ListAsyncJobs(ctx context.Context) ([]*job.Job, error)
	SaveResults(ctx context.Context, j *job.Job) error
}

// Manager is the TAP+ surface: sessions, user tables and sharing.
type Manager interface {
	Querier

	LoadTables(ctx context.Context, onlyNames, includeShared bool) ([]*domain.TableMeta, error)
	Login(ctx context.Context, user, password string) error
	LoginWithCredentialsFile(ctx context.Context, path string) error
	Logout(ctx context.Context) error
	IsValidUser(ctx context.Context, userID string) (bool, error)
	RemoveJobs(ctx context.Context, jobIDs []string) error

	UploadTable(ctx context.Context, resource *Resource, tableName, description string) (*job.Job, error)
	UploadTableFromJob(ctx context.Context, j *job.Job, tableName, description string) error
	DeleteUserTable(ctx context.Context, tableName string, force bool) error
	RenameTable(ctx context.Context, tableName, newTableName string, newColumnNames map[string]string) error
	UpdateUserTable(ctx context.Context, tableName string, changes []ColumnChange) error
	SetRaDecColumns(ctx context.Context, tableName, raColumn, decColumn string) error

	LoadGroups(ctx context.Context) ([]*domain.Group, error)
	LoadSharedItems(ctx context.Context) ([]*domain.SharedItem, error)
	ShareTable(ctx context.Context, groupName, tableName, description string) error
	ShareTableStop(ctx context.Context, groupName, tableName string) error
	ShareGroupCreate(ctx context.Context, groupName, description string) error
	ShareGroupDelete(ctx context.Context, groupName string) error
	ShareGroupAddUser(ctx context.Context, groupName, userID string) error
	ShareGroupDeleteUser(ctx context.Context, groupName, userID string) error
}

var (
	_ Querier = (*Tap)(nil)
	_ Manager = (*Plus)(nil)
)

// Plus is a TAP+ client. It shares the connection handler of the embedded
// Tap, so a login applies to every later request.
type Plus struct {
	*Tap
	loggedIn bool
}

// NewPlus creates a TAP+ client from cfg.
func NewPlus(cfg Config) (*Plus, error) {
	t, err := New(cfg)
	if err != nil {
		return nil, err
	}
	return &Plus{Tap: t}, nil
}

// LoadTables loads table metadata. onlyNames skips the column details and
// includeShared adds the tables shared with the user.
func (p *Plus) LoadTables(ctx context.Context, onlyNames, includeShared bool) ([]*domain.TableMeta, error) {
	return p.loadTables(ctx, onlyNames, includeShared)
}

// LoadData posts request parameters to the data service. With outputFile
// the response is saved there and nil is returned; otherwise it is decoded
// in the format named by the format parameter (default votable).
func (p *Plus) LoadData(ctx context.Context, request *params.Builder, outputFile string) (*table.Table, error) {
	if request.Len() == 0 {
		return nil, domain.ErrValidation("data request parameters are required")
	}
	p.logger.Debug("retrieving data", "request", request.Encode())
	resp, err := p.handler.PostForm(ctx, conn.Data, "", request)
	if err != nil {
		return nil, err
	}
	if conn.CheckStatus(resp, http.StatusOK) {
		return nil, conn.ConsumeError(resp)
	}
	defer resp.Body.Close()

	if outputFile != "" {
		return nil, conn.DumpToFile(outputFile, resp.Body)
	}
	format, ok := request.Get("format")
	if !ok {
		format, _ = request.Get("FORMAT")
	}
	if format == "" {
		format = table.FormatVOTable
	}
	return table.Read(resp.Body, strings.ToLower(format), p.readOpts)
}

// GetDatalinks retrieves the datalinks of ids. linkingParameter (SOURCE_ID,
// TRANSIT_ID, IMAGE_ID) tells the service what the ids are and may be empty.
func (p *Plus) GetDatalinks(ctx context.Context, ids []string, linkingParameter string) (*table.Table, error) {
	if len(ids) == 0 {
		return nil, domain.ErrValidation("missing mandatory argument ids")
	}
	request := params.New().
		Set("ID", strings.Join(ids, ",")).
		SetIf(linkingParameter != "", "LINKING_PARAMETER", linkingParameter)

	resp, err := p.handler.PostForm(ctx, conn.Datalink, "links", request)
	if err != nil {
		return nil, err
	}
	if conn.CheckStatus(resp, http.StatusOK) {
		return nil, conn.ConsumeError(resp)
	}
	defer resp.Body.Close()
	return table.Read(resp.Body, table.FormatVOTable, p.readOpts)
}

// RemoveJobs deletes the given async jobs. An empty list is a no-op.
func (p *Plus) RemoveJobs(ctx context.Context, jobIDs []string) error {
	if len(jobIDs) == 0 {
		return nil
	}
	if err := p.post(ctx, conn.Tap, "deletejobs", params.New().Set("JOB_IDS", strings.Join(jobIDs, ","))); err != nil {
		return err
	}
	p.logger.Info("Removed jobs", "jobs", jobIDs)
	return nil
}

// IsValidUser reports whether the service knows userID. The users resource
// answers "<id>:<name>" on a single line for known users.
func (p *Plus) IsValidUser(ctx context.Context, userID string) (bool, error) {
	if userID == "" {
		return false, domain.ErrValidation("user id must be specified")
	}
	resp, err := p.handler.Get(ctx, conn.Tap, "users", params.New().Set("USER", userID))
	if err != nil {
		return false, err
	}
	body, err := conn.ReadBody(resp)
	if err != nil {
		return false, err
	}
	if conn.CheckStatus(resp, http.StatusOK) {
		return false, conn.UnexpectedStatus(resp, body)
	}
	user := strings.TrimRight(string(body), "\r\n")
	return strings.HasPrefix(user, userID+":") && !strings.ContainsAny(user, "\r\n"), nil
}

// Login opens a session over HTTPS. The session cookie is attached to every
// later request until Logout.
func (p *Plus) Login(ctx context.Context, user, password string) error {
	if user == "" {
		return domain.ErrValidation("user name is required")
	}
	if password == "" {
		return domain.ErrValidation("password is required")
	}
	p.loggedIn = false
	resp, err := p.handler.PostSecure(ctx, "login", params.New().Set("username", user).Set("password", password))
	if err != nil {
		return err
	}
	if conn.CheckStatus(resp, http.StatusOK) {
		err := conn.ConsumeError(resp)
		p.logger.Info("Login error", "error", err)
		return fmt.Errorf("login: %w", err)
	}
	_ = resp.Body.Close()

	cookie, ok := conn.SessionCookie(resp.Header)
	if !ok {
		return domain.ErrProtocol("login response carried no session cookie")
	}
	p.handler.SetCookie(cookie)
	p.loggedIn = true
	p.logger.Info("OK", "user", user)
	return nil
}

// LoginWithCredentialsFile logs in with the user name on the first line of
// path and the password on the second.
func (p *Plus) LoginWithCredentialsFile(ctx context.Context, path string) error {
	user, password, err := ReadCredentials(path)
	if err != nil {
		return err
	}
	return p.Login(ctx, user, password)
}

// ReadCredentials reads a two line credentials file.
func ReadCredentials(path string) (user, password string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", "", fmt.Errorf("open credentials file: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() && len(lines) < 2 {
		lines = append(lines, strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return "", "", fmt.Errorf("read credentials file: %w", err)
	}
	if len(lines) < 2 || lines[0] == "" || lines[1] == "" {
		return "", "", domain.ErrValidation("credentials file %s must hold a user and a password line", path)
	}
	return lines[0], lines[1], nil
}

// Logout closes the session. The cookie is dropped even when the service
// answers with an error.
func (p *Plus) Logout(ctx context.Context) error {
	resp, err := p.handler.PostSecure(ctx, "logout", nil)
	p.handler.ClearCookie()
	p.loggedIn = false
	if err != nil {
		return err
	}
	if conn.CheckStatus(resp, http.StatusOK) {
		return conn.ConsumeError(resp)
	}
	_ = resp.Body.Close()
	return nil
}

// IsLoggedIn reports whether the last login succeeded and no logout
// followed.
func (p *Plus) IsLoggedIn() bool { return p.loggedIn }

// post sends form to subpath under c and expects 200.
func (p *Plus) post(ctx context.Context, c conn.Context, subpath string, form *params.Builder) error {
	resp, err := p.handler.PostForm(ctx, c, subpath, form)
	if err != nil {
		return err
	}
	if conn.CheckStatus(resp, http.StatusOK) {
		return conn.ConsumeError(resp)
	}
	_ = resp.Body.Close()
	return nil
}
