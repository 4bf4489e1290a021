// Package job tracks TAP jobs through their phases and retrieves results.
package job

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"tapkit/internal/adql"
	"tapkit/internal/conn"
	"tapkit/internal/domain"
	"tapkit/internal/observability"
	"tapkit/internal/params"
	"tapkit/internal/table"
	"tapkit/internal/tapxml"
)

// DefaultPollInterval paces status requests while waiting for an async job.
const DefaultPollInterval = 500 * time.Millisecond

// Options configures a new Job.
type Options struct {
	Handler        *conn.Handler
	Async          bool
	Query          string
	Name           string
	Format         string
	OutputFile     string
	UserOutputFile string
	PollInterval   time.Duration
	ReadOptions    table.ReadOptions
	Logger         *slog.Logger
	Tracer         *observability.Tracer
	Metrics        *observability.Metrics
}

// Job is a query submitted to a TAP service. It holds a non-owning
// reference to the connection handler and owns its results.
type Job struct {
	handler  *conn.Handler
	logger   *slog.Logger
	tracer   *observability.Tracer
	metrics  *observability.Metrics
	interval time.Duration
	readOpts table.ReadOptions

	state          State
	async          bool
	query          string
	name           string
	ownerID        string
	outputFile     string
	userOutputFile string
	params         *params.Builder
	creationTime   *time.Time
	startTime      *time.Time
	endTime        *time.Time
	results        *table.Table
}

// New creates a job with no phase.
func New(opts Options) *Job {
	format := opts.Format
	if format == "" {
		format = table.FormatVOTable
	}
	j := &Job{
		handler:        opts.Handler,
		logger:         opts.Logger,
		tracer:         opts.Tracer,
		metrics:        opts.Metrics,
		interval:       opts.PollInterval,
		readOpts:       opts.ReadOptions,
		async:          opts.Async,
		query:          opts.Query,
		name:           opts.Name,
		outputFile:     opts.OutputFile,
		userOutputFile: opts.UserOutputFile,
		params:         params.New().Set("query", opts.Query).Set("format", format),
	}
	if j.logger == nil {
		j.logger = slog.Default()
	}
	if j.tracer == nil {
		j.tracer = observability.NewNoopTracer()
	}
	if j.interval <= 0 {
		j.interval = DefaultPollInterval
	}
	return j
}

// FromDescription creates an async job from a UWS description.
func FromDescription(d *domain.JobDescription, opts Options) (*Job, error) {
	opts.Async = true
	if q, ok := d.Param("query"); ok && opts.Query == "" {
		opts.Query = q
	}
	if f, ok := d.Param("format"); ok && opts.Format == "" {
		opts.Format = f
	}
	if opts.Name == "" {
		opts.Name = d.RunID
	}
	j := New(opts)
	for _, p := range d.Parameters {
		j.params.Set(strings.ToLower(p.ID), p.Value)
	}
	j.state.JobID = d.JobID
	if j.handler != nil && d.JobID != "" {
		j.state.Location = j.handler.URL(conn.Tap, "async/"+d.JobID)
	}
	if err := j.observe(d); err != nil {
		return nil, err
	}
	return j, nil
}

// Apply feeds an event through the state machine.
func (j *Job) Apply(e Event) error {
	s, err := Next(j.state, e)
	if err != nil {
		return err
	}
	j.state = s
	return nil
}

// Complete attaches results and marks the job completed.
func (j *Job) Complete(results *table.Table) error {
	if err := j.Apply(Completed{}); err != nil {
		return err
	}
	if results != nil {
		j.results = results
	}
	return nil
}

// observe copies a description into the job. Job list entries may omit the
// phase, which then stays unchanged.
func (j *Job) observe(d *domain.JobDescription) error {
	if d.Phase != "" {
		if err := j.Apply(Observed{Phase: string(d.Phase)}); err != nil {
			return err
		}
	}
	if d.OwnerID != "" {
		j.ownerID = d.OwnerID
	}
	if d.RunID != "" {
		j.name = d.RunID
	}
	if d.CreationTime != nil {
		j.creationTime = d.CreationTime
	}
	j.startTime = d.StartTime
	j.endTime = d.EndTime
	if d.ErrorMessage != "" {
		j.state.ErrorMessage = d.ErrorMessage
	}
	return nil
}

// JobID returns the server-assigned id, empty for synchronous jobs.
func (j *Job) JobID() string { return j.state.JobID }

// Phase returns the last known phase.
func (j *Job) Phase() domain.Phase { return j.state.Phase }

// State returns a copy of the job state.
func (j *Job) State() State { return j.state }

// Query returns the query as sent.
func (j *Job) Query() string { return j.query }

// Name returns the user-given run id.
func (j *Job) Name() string { return j.name }

// OwnerID returns the owner reported by the service.
func (j *Job) OwnerID() string { return j.ownerID }

// IsAsync reports whether the job runs asynchronously.
func (j *Job) IsAsync() bool { return j.async }

// Failed reports whether the service rejected or failed the job.
func (j *Job) Failed() bool { return j.state.Failed }

// ResponseStatus returns the status code of the launch response.
func (j *Job) ResponseStatus() int { return j.state.StatusCode }

// ResponseReason returns the reason phrase of the launch response.
func (j *Job) ResponseReason() string { return j.state.Reason }

// RemoteLocation returns the job URL of an async job.
func (j *Job) RemoteLocation() string { return j.state.Location }

// ErrorMessage returns the failure message, if any.
func (j *Job) ErrorMessage() string { return j.state.ErrorMessage }

// OutputFile returns the file results are saved to.
func (j *Job) OutputFile() string { return j.outputFile }

// UserOutputFile returns the output file as given by the caller.
func (j *Job) UserOutputFile() string { return j.userOutputFile }

// OutputFormat returns the requested result format.
func (j *Job) OutputFormat() string {
	f, _ := j.params.Get("format")
	return f
}

// Parameters returns a copy of the job parameters.
func (j *Job) Parameters() *params.Builder { return j.params.Clone() }

// CreationTime returns when the service created the job.
func (j *Job) CreationTime() *time.Time { return j.creationTime }

// StartTime returns when the job started executing.
func (j *Job) StartTime() *time.Time { return j.startTime }

// EndTime returns when the job finished.
func (j *Job) EndTime() *time.Time { return j.endTime }

// HasResults reports whether results are loaded in memory.
func (j *Job) HasResults() bool { return j.results != nil }

func (j *Job) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Jobid: %s\n", orNone(j.state.JobID))
	fmt.Fprintf(&b, "Phase: %s\n", orNone(string(j.state.Phase)))
	fmt.Fprintf(&b, "Owner: %s\n", orNone(j.ownerID))
	fmt.Fprintf(&b, "Output file: %s\n", orNone(j.outputFile))
	fmt.Fprintf(&b, "Results: %s\n", orNone(j.resultsSummary()))
	fmt.Fprintf(&b, "Query: %s", j.query)
	return b.String()
}

func (j *Job) resultsSummary() string {
	if j.results == nil {
		return ""
	}
	return j.results.String()
}

func orNone(s string) string {
	if s == "" {
		return "None"
	}
	return s
}

// Results returns the job results, fetching them once for async jobs.
// Later calls return the cached table without a request.
func (j *Job) Results(ctx context.Context) (*table.Table, error) {
	if j.results != nil {
		return j.results, nil
	}
	if !j.async {
		if j.state.Failed {
			return nil, j.failure()
		}
		return nil, domain.ErrValidation("results of this synchronous job were saved to %s", j.outputFile)
	}
	return j.LoadResults(ctx)
}

// LoadResults fetches the results of an async job, waiting for it to end,
// and replaces any cached table.
func (j *Job) LoadResults(ctx context.Context) (*table.Table, error) {
	if !j.async {
		return nil, domain.ErrValidation("only asynchronous jobs can be reloaded")
	}
	resp, err := j.fetchResults(ctx)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	results, err := table.Read(resp.Body, j.OutputFormat(), j.readOpts)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", j.state.JobID, err)
	}
	if err := j.Complete(results); err != nil {
		return nil, err
	}
	j.logger.Info("Query finished", "job_id", j.state.JobID, "rows", results.NumRows())
	return results, nil
}

// Save writes the results to the job output file. Async results are
// streamed from the service untouched; in-memory results are encoded.
func (j *Job) Save(ctx context.Context) error {
	if j.outputFile == "" {
		return domain.ErrValidation("job has no output file")
	}
	if !j.async {
		if j.results == nil {
			return domain.ErrValidation("job has no results to save")
		}
		return j.writeResults()
	}
	resp, err := j.fetchResults(ctx)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := conn.DumpToFile(j.outputFile, resp.Body); err != nil {
		return err
	}
	if err := j.Apply(Completed{}); err != nil {
		return err
	}
	j.logger.Info("Saved job results", "job_id", j.state.JobID, "file", j.outputFile)
	return nil
}

func (j *Job) writeResults() error {
	var buf bytes.Buffer
	var err error
	switch table.NormalizeFormat(j.OutputFormat()) {
	case table.FormatVOTable, table.FormatVOTablePlain:
		err = table.WriteVOTable(&buf, j.results)
	case table.FormatCSV:
		err = table.WriteCSV(&buf, j.results)
	default:
		return domain.ErrValidation("cannot save in-memory results as %s", j.OutputFormat())
	}
	if err != nil {
		return err
	}
	if err := os.WriteFile(j.outputFile, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", j.outputFile, err)
	}
	return nil
}

// fetchResults waits for the job to end and opens the result stream. The
// caller closes the body.
func (j *Job) fetchResults(ctx context.Context) (*http.Response, error) {
	phase, err := j.WaitForEnd(ctx)
	if err != nil {
		return nil, err
	}
	switch phase {
	case domain.PhaseError:
		return nil, j.errorSummary(ctx)
	case domain.PhaseAborted:
		return nil, domain.ErrRemote(0, "", fmt.Sprintf("job %s aborted", j.state.JobID))
	}
	resp, err := j.handler.Get(ctx, conn.Tap, "async/"+j.state.JobID+"/results/result", nil)
	if err != nil {
		return nil, err
	}
	if conn.CheckStatus(resp, http.StatusOK) {
		return nil, conn.ConsumeError(resp)
	}
	return resp, nil
}

// WaitForEnd polls the job description until the phase is terminal. Polls
// are paced by a rate limiter; ctx cancels the wait.
func (j *Job) WaitForEnd(ctx context.Context) (domain.Phase, error) {
	if !j.async || j.state.Phase.Terminal() {
		return j.state.Phase, nil
	}
	if j.state.JobID == "" {
		return j.state.Phase, domain.ErrValidation("job has no id")
	}
	limiter := rate.NewLimiter(rate.Every(j.interval), 1)
	for !j.state.Phase.Terminal() {
		if err := limiter.Wait(ctx); err != nil {
			return j.state.Phase, fmt.Errorf("wait for job %s: %w", j.state.JobID, err)
		}
		if err := j.poll(ctx); err != nil {
			return j.state.Phase, err
		}
	}
	return j.state.Phase, nil
}

func (j *Job) poll(ctx context.Context) error {
	ctx, span := j.tracer.StartPoll(ctx, j.state.JobID)
	defer span.End()

	d, err := j.describe(ctx)
	if err == nil && d.Phase == "" {
		err = domain.ErrProtocol("job %s: description has no phase", j.state.JobID)
	}
	if err != nil {
		observability.RecordError(span, err)
		return err
	}
	if err := j.observe(d); err != nil {
		observability.RecordError(span, err)
		return err
	}
	observability.SetPhase(span, string(j.state.Phase))
	j.metrics.ObservePoll(string(j.state.Phase))
	j.logger.Debug("job phase", "job_id", j.state.JobID, "phase", j.state.Phase)
	return nil
}

func (j *Job) describe(ctx context.Context) (*domain.JobDescription, error) {
	resp, err := j.handler.Get(ctx, conn.Tap, "async/"+j.state.JobID, nil)
	if err != nil {
		return nil, err
	}
	if conn.CheckStatus(resp, http.StatusOK) {
		return nil, conn.ConsumeError(resp)
	}
	defer resp.Body.Close()
	return tapxml.ParseJob(resp.Body)
}

// errorSummary returns the failure of an ERROR job, reading the error
// resource when the description carried no message.
func (j *Job) errorSummary(ctx context.Context) error {
	if j.state.ErrorMessage == "" && j.handler != nil {
		resp, err := j.handler.Get(ctx, conn.Tap, "async/"+j.state.JobID+"/error", nil)
		if err != nil {
			return err
		}
		body, err := conn.ReadBody(resp)
		if err != nil {
			return err
		}
		if conn.CheckStatus(resp, http.StatusOK) {
			return conn.UnexpectedStatus(resp, body)
		}
		j.state.ErrorMessage = adql.ErrorMessage(string(body))
	}
	return j.failure()
}

func (j *Job) failure() error {
	msg := j.state.ErrorMessage
	if msg == "" {
		msg = "unknown error"
	}
	if j.async {
		return domain.ErrRemote(0, "", fmt.Sprintf("job %s failed: %s", j.state.JobID, msg))
	}
	return domain.ErrRemote(j.state.StatusCode, j.state.Reason, msg)
}

// Start asks the service to run a pending job.
func (j *Job) Start(ctx context.Context) error {
	if err := j.checkAsync(); err != nil {
		return err
	}
	if j.state.Phase != domain.PhasePending && j.state.Phase != domain.PhaseHeld {
		return domain.ErrValidation("job %s is already in phase %s", j.state.JobID, j.state.Phase)
	}
	if err := j.postPhase(ctx, "RUN"); err != nil {
		return err
	}
	return j.Apply(Started{})
}

// Abort asks the service to abort the job. The phase changes only once a
// later poll observes it.
func (j *Job) Abort(ctx context.Context) error {
	if err := j.checkAsync(); err != nil {
		return err
	}
	return j.postPhase(ctx, "ABORT")
}

func (j *Job) checkAsync() error {
	if !j.async || j.state.JobID == "" {
		return domain.ErrValidation("only asynchronous jobs with an id can change phase")
	}
	return nil
}

func (j *Job) postPhase(ctx context.Context, phase string) error {
	resp, err := j.handler.PostForm(ctx, conn.Tap, "async/"+j.state.JobID+"/phase", params.New().Set("PHASE", phase))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusSeeOther {
		return conn.ConsumeError(resp)
	}
	_ = resp.Body.Close()
	return nil
}
