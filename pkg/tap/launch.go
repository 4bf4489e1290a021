package tap

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"tapkit/internal/adql"
	"tapkit/internal/conn"
	"tapkit/internal/domain"
	"tapkit/internal/job"
	"tapkit/internal/params"
	"tapkit/internal/table"
)

// LaunchOptions configures a query launch.
type LaunchOptions struct {
	Name       string // sent as jobname
	OutputFile string // results file; generated from the job when empty
	Format     string // result format, default votable
	// Dump saves results (or the error document) to the output file instead
	// of decoding them.
	Dump bool

	// Upload is sent as the temporary table UploadTableName, referenced in
	// the query as TAP_UPLOAD.<UploadTableName>.
	Upload          *Resource
	UploadTableName string

	MaxRec            int      // MAXREC; 0 leaves it unset
	CompressedFormats []string // overrides Config.CompressedFormats
}

// AsyncOptions configures an asynchronous launch.
type AsyncOptions struct {
	LaunchOptions
	// Background returns as soon as the job is accepted.
	Background bool
	// NoAutorun submits the job without PHASE=RUN. It stays PENDING until
	// Job.Start is called.
	NoAutorun bool
}

func (o LaunchOptions) format() string {
	if o.Format == "" {
		return table.FormatVOTable
	}
	return o.Format
}

func (o LaunchOptions) validate() error {
	if o.Upload == nil {
		return nil
	}
	if o.UploadTableName == "" {
		return domain.ErrValidation("table name is required when a resource is uploaded")
	}
	if o.Upload.isURL() {
		return domain.ErrValidation("query uploads must be files, bytes or tables")
	}
	return nil
}

func (t *Tap) compressedFor(o LaunchOptions) []string {
	if o.CompressedFormats != nil {
		return o.CompressedFormats
	}
	return t.compressed
}

// LaunchJob runs query synchronously. Queries without TOP are capped at
// 2000 rows unless MaxRec is set. On an error response the failed job is
// returned together with the error.
func (t *Tap) LaunchJob(ctx context.Context, query string, opts LaunchOptions) (*job.Job, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	format := opts.format()
	compressed := t.compressedFor(opts)
	userFile := job.UserOutputFile(opts.OutputFile, format, compressed)
	if opts.MaxRec <= 0 {
		query = adql.SetTop(query, adql.DefaultSyncTop)
	}
	t.logger.Debug("launched query", "query", query, "mode", "sync")

	resp, err := t.submit(ctx, "sync", query, format, opts, false)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusSeeOther {
		location, ok := conn.FindHeader(resp.Header, "Location")
		_ = resp.Body.Close()
		if !ok || location == "" {
			return nil, domain.ErrProtocol("no location found after redirection was received (303)")
		}
		t.logger.Debug("following sync redirect", "location", location)
		if resp, err = t.handler.Get(ctx, conn.Tap, adql.SyncSubcontext(location), nil); err != nil {
			return nil, err
		}
	}

	isError := conn.CheckStatus(resp, http.StatusOK)
	outputFile := job.OutputFileName(job.NameRequest{
		UserFile:   userFile,
		Header:     resp.Header,
		IsError:    isError,
		Format:     format,
		Compressed: compressed,
		Now:        t.now(),
	})
	j := t.newJob(false, query, format, outputFile, opts)
	if err := j.Apply(job.Submitted{StatusCode: resp.StatusCode, Reason: conn.Reason(resp)}); err != nil {
		_ = resp.Body.Close()
		return nil, err
	}
	if isError {
		return j, t.reject(j, resp, outputFile, opts.Dump)
	}
	defer resp.Body.Close()

	if opts.Dump {
		t.logger.Debug("saving results", "file", outputFile)
		if err := conn.DumpToFile(outputFile, resp.Body); err != nil {
			return j, err
		}
		if err := j.Complete(nil); err != nil {
			return j, err
		}
	} else {
		results, err := table.Read(resp.Body, format, t.readOpts)
		if err != nil {
			return j, fmt.Errorf("read sync results: %w", err)
		}
		if err := j.Complete(results); err != nil {
			return j, err
		}
	}
	t.logger.Info("Query finished.")
	return j, nil
}

// LaunchJobAsync submits query asynchronously. Unless Background or
// NoAutorun is set it waits for the job to end and loads (or, with Dump,
// saves) the results.
func (t *Tap) LaunchJobAsync(ctx context.Context, query string, opts AsyncOptions) (*job.Job, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	format := opts.format()
	compressed := t.compressedFor(opts.LaunchOptions)
	userFile := job.UserOutputFile(opts.OutputFile, format, compressed)
	autorun := !opts.NoAutorun
	t.logger.Debug("launched query", "query", query, "mode", "async")

	resp, err := t.submit(ctx, "async", query, format, opts.LaunchOptions, autorun)
	if err != nil {
		return nil, err
	}
	isError := conn.CheckStatus(resp, http.StatusSeeOther)
	var location, jobID string
	if !isError {
		location, _ = conn.FindHeader(resp.Header, "Location")
		if location != "" {
			jobID = adql.JobIDFromLocation(location)
		}
	}
	outputFile := job.OutputFileName(job.NameRequest{
		Async:      true,
		JobID:      jobID,
		UserFile:   userFile,
		Header:     resp.Header,
		IsError:    isError,
		Format:     format,
		Compressed: compressed,
		Now:        t.now(),
	})
	j := t.newJob(true, query, format, outputFile, opts.LaunchOptions)
	if err := j.Apply(job.Submitted{StatusCode: resp.StatusCode, Reason: conn.Reason(resp)}); err != nil {
		_ = resp.Body.Close()
		return nil, err
	}
	if isError {
		return j, t.reject(j, resp, outputFile, opts.Dump)
	}
	_ = resp.Body.Close()

	if err := j.Apply(job.Accepted{Location: location, Autorun: autorun}); err != nil {
		return j, err
	}
	t.logger.Info("Launched async job", "job_id", j.JobID(), "location", location)
	if !autorun || opts.Background {
		return j, nil
	}
	if opts.Dump {
		err = j.Save(ctx)
	} else {
		_, err = j.Results(ctx)
	}
	return j, err
}

// submit posts a query to the sync or async resource.
func (t *Tap) submit(ctx context.Context, subpath, query, format string, opts LaunchOptions, run bool) (*http.Response, error) {
	p := params.New().
		Set("REQUEST", "doQuery").
		Set("LANG", "ADQL").
		Set("FORMAT", format).
		Set("tapclient", t.clientID).
		Set("QUERY", query)
	if opts.Upload != nil {
		p.Set("UPLOAD", opts.UploadTableName+",param:"+opts.UploadTableName)
	}
	if opts.MaxRec > 0 {
		p.SetInt("MAXREC", opts.MaxRec)
	}
	p.SetIf(run, "PHASE", "RUN").
		SetIf(opts.Name != "", "jobname", opts.Name)

	if opts.Upload == nil {
		return t.handler.PostForm(ctx, conn.Tap, subpath, p)
	}
	filename, data, err := opts.Upload.votable()
	if err != nil {
		return nil, err
	}
	t.logger.Debug("uploading table", "table", opts.UploadTableName, "resource", opts.Upload.String())
	return t.handler.PostMultipart(ctx, conn.Tap, subpath, p, []conn.File{
		{Field: opts.UploadTableName, Filename: filename, Content: data},
	})
}

// reject records a failed launch on j, dumping the error document when
// requested, and returns the service error.
func (t *Tap) reject(j *job.Job, resp *http.Response, outputFile string, dump bool) error {
	body, err := conn.ReadBody(resp)
	if err != nil {
		return err
	}
	remote := conn.UnexpectedStatus(resp, body)
	if err := j.Apply(job.Rejected{
		StatusCode: remote.StatusCode,
		Reason:     remote.Reason,
		Message:    remote.Message,
	}); err != nil {
		return err
	}
	if dump {
		t.logger.Debug("saving error", "file", outputFile)
		if err := os.WriteFile(outputFile, body, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", outputFile, err)
		}
	}
	t.logger.Info("Query failed", "status", remote.StatusCode, "reason", remote.Reason)
	return remote
}

func (t *Tap) newJob(async bool, query, format, outputFile string, opts LaunchOptions) *job.Job {
	o := t.jobOpts
	o.Async = async
	o.Query = query
	o.Name = opts.Name
	o.Format = format
	o.OutputFile = outputFile
	o.UserOutputFile = opts.OutputFile
	return job.New(o)
}
