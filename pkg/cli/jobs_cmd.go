package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"tapkit/internal/job"
)

func newJobsCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Manage asynchronous jobs",
	}

	cmd.AddCommand(newJobsListCmd(s))
	cmd.AddCommand(newJobsGetCmd(s))
	cmd.AddCommand(newJobsSaveCmd(s))
	cmd.AddCommand(newJobsPhaseCmd(s, "start", "Run a pending job", (*job.Job).Start))
	cmd.AddCommand(newJobsPhaseCmd(s, "abort", "Abort a job", (*job.Job).Abort))
	cmd.AddCommand(newJobsRemoveCmd(s))
	return cmd
}

func newJobsListCmd(s *session) *cobra.Command {
	var (
		name, startDate, endDate, order string
		limit, offset                   int
		metadataOnly                    bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List asynchronous jobs, optionally filtered",
		Example: `  # The ten most recent jobs
  tap jobs list --limit 10 --order start_time`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := s.plus()
			if err != nil {
				return err
			}
			values := map[string]string{}
			set := func(flag, key, value string) {
				if cmd.Flags().Changed(flag) {
					values[key] = value
				}
			}
			set("name", job.FilterName, name)
			set("start-date", job.FilterStartDate, startDate)
			set("end-date", job.FilterEndDate, endDate)
			set("order", job.FilterOrder, order)
			set("limit", job.FilterLimit, strconv.Itoa(limit))
			set("offset", job.FilterOffset, strconv.Itoa(offset))
			set("metadata-only", job.FilterMetadataOnly, strconv.FormatBool(metadataOnly))

			var jobs []*job.Job
			if len(values) == 0 {
				jobs, err = client.ListAsyncJobs(cmd.Context())
			} else {
				var filter *job.Filter
				if filter, err = job.ParseFilter(values); err != nil {
					return err
				}
				jobs, err = client.SearchAsyncJobs(cmd.Context(), filter)
			}
			if err != nil {
				return err
			}
			return printJobs(cmd, jobs)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Job name")
	cmd.Flags().StringVar(&startDate, "start-date", "", "Earliest start date")
	cmd.Flags().StringVar(&endDate, "end-date", "", "Latest end date")
	cmd.Flags().StringVar(&order, "order", "", "Sort field")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of jobs")
	cmd.Flags().IntVar(&offset, "offset", 0, "Number of jobs to skip")
	cmd.Flags().BoolVar(&metadataOnly, "metadata-only", false, "Return job metadata only")
	return cmd
}

func newJobsGetCmd(s *session) *cobra.Command {
	var results bool

	cmd := &cobra.Command{
		Use:   "get <job-id>",
		Short: "Show an asynchronous job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := s.plus()
			if err != nil {
				return err
			}
			j, err := client.LoadAsyncJob(cmd.Context(), args[0], results)
			if err != nil {
				return err
			}
			return printJobOutcome(cmd, j)
		},
	}

	cmd.Flags().BoolVar(&results, "results", false, "Wait for the job and print its results")
	return cmd
}

func newJobsSaveCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "save <job-id>",
		Short: "Save the results of a job to async_<job-id>.<ext>",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := s.plus()
			if err != nil {
				return err
			}
			j, err := client.LoadAsyncJob(cmd.Context(), args[0], false)
			if err != nil {
				return err
			}
			if err := client.SaveResults(cmd.Context(), j); err != nil {
				return err
			}
			return printStatus(cmd, fmt.Sprintf("Saved results of job %s to %s", j.JobID(), j.OutputFile()),
				map[string]string{"job_id": j.JobID(), "file": j.OutputFile()})
		},
	}
}

func newJobsPhaseCmd(s *session, use, short string, change func(*job.Job, context.Context) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <job-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := s.plus()
			if err != nil {
				return err
			}
			j, err := client.LoadAsyncJob(cmd.Context(), args[0], false)
			if err != nil {
				return err
			}
			if err := change(j, cmd.Context()); err != nil {
				return err
			}
			return printJob(cmd, j)
		},
	}
}

func newJobsRemoveCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <job-id>...",
		Short: "Delete asynchronous jobs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := s.plus()
			if err != nil {
				return err
			}
			if err := client.RemoveJobs(cmd.Context(), args); err != nil {
				return err
			}
			return printStatus(cmd, fmt.Sprintf("Removed %d job(s)", len(args)), map[string]string{"removed": strconv.Itoa(len(args))})
		},
	}
}
