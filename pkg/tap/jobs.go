package tap

import (
	"context"
	"net/http"

	"tapkit/internal/conn"
	"tapkit/internal/domain"
	"tapkit/internal/job"
	"tapkit/internal/params"
	"tapkit/internal/tapxml"
)

// LoadAsyncJob loads an async job by id. Its output file is named
// async_<jobid>. With loadResults it blocks until the job ends and fetches
// its results; the job is returned even when that fails.
func (t *Tap) LoadAsyncJob(ctx context.Context, jobID string, loadResults bool) (*job.Job, error) {
	if jobID == "" {
		return nil, domain.ErrValidation("job id is required")
	}
	resp, err := t.handler.Get(ctx, conn.Tap, "async/"+jobID, nil)
	if err != nil {
		return nil, err
	}
	if conn.CheckStatus(resp, http.StatusOK) {
		return nil, conn.ConsumeError(resp)
	}
	defer resp.Body.Close()

	d, err := tapxml.ParseJob(resp.Body)
	if err != nil {
		return nil, err
	}
	o := t.jobOpts
	format, _ := d.Param("format")
	o.OutputFile = job.OutputFileName(job.NameRequest{
		Async:      true,
		JobID:      d.JobID,
		Format:     format,
		Compressed: t.compressed,
		Now:        t.now(),
	})
	j, err := job.FromDescription(d, o)
	if err != nil {
		return nil, err
	}
	if loadResults {
		if _, err := j.Results(ctx); err != nil {
			return j, err
		}
	}
	return j, nil
}

// LoadAsyncJobByName loads the first async job whose name matches. It
// returns nil when no job has that name.
func (t *Tap) LoadAsyncJobByName(ctx context.Context, name string, loadResults bool) (*job.Job, error) {
	if name == "" {
		return nil, domain.ErrValidation("job name is required")
	}
	f := job.NewFilter()
	if err := f.Set(job.FilterName, name); err != nil {
		return nil, err
	}
	jobs, err := t.SearchAsyncJobs(ctx, f)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		t.logger.Info("No job found", "name", name)
		return nil, nil
	}
	return t.LoadAsyncJob(ctx, jobs[0].JobID(), loadResults)
}

// SearchAsyncJobs lists the async jobs matching filter. A nil filter
// matches every job.
func (t *Tap) SearchAsyncJobs(ctx context.Context, filter *job.Filter) ([]*job.Job, error) {
	return t.listJobs(ctx, "jobs/async", filter.Params())
}

// ListAsyncJobs lists every async job of the current user.
func (t *Tap) ListAsyncJobs(ctx context.Context) ([]*job.Job, error) {
	return t.listJobs(ctx, "async", nil)
}

func (t *Tap) listJobs(ctx context.Context, subpath string, query *params.Builder) ([]*job.Job, error) {
	resp, err := t.handler.Get(ctx, conn.Tap, subpath, query)
	if err != nil {
		return nil, err
	}
	if conn.CheckStatus(resp, http.StatusOK) {
		return nil, conn.ConsumeError(resp)
	}
	defer resp.Body.Close()

	descriptions, err := tapxml.ParseJobList(resp.Body)
	if err != nil {
		return nil, err
	}
	jobs := make([]*job.Job, 0, len(descriptions))
	for _, d := range descriptions {
		j, err := job.FromDescription(d, t.jobOpts)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// SaveResults saves the results of j to its output file.
func (t *Tap) SaveResults(ctx context.Context, j *job.Job) error {
	if j == nil {
		return domain.ErrValidation("job is required")
	}
	return j.Save(ctx)
}
