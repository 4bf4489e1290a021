package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"tapkit/internal/job"
	"tapkit/pkg/tap"
)

// resultFlags are shared by every command that produces a result file.
type resultFlags struct {
	format     string
	outputFile string
	dump       bool
}

func (f *resultFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.format, "format", "votable", "Result format (votable, votable_plain, fits, csv, ecsv, json)")
	fs.StringVar(&f.outputFile, "output-file", "", "Results file (generated from the job when empty)")
	fs.BoolVar(&f.dump, "dump", false, "Save the results to the output file instead of printing them")
}

func newQueryCmd(s *session) *cobra.Command {
	var (
		result      resultFlags
		file        string
		async       bool
		background  bool
		noAutorun   bool
		name        string
		maxRec      int
		upload      string
		uploadTable string
	)

	cmd := &cobra.Command{
		Use:   "query [adql]",
		Short: "Run an ADQL query",
		Long: `Run an ADQL query synchronously, or asynchronously with --async.
Synchronous queries without TOP are limited to 2000 rows unless --max-rec is set.`,
		Example: `  # Synchronous query printed as a table
  tap query "SELECT TOP 5 source_id, ra, dec FROM gaiadr3.gaia_source"

  # Asynchronous query saved to a CSV file
  tap query --async --dump --format csv --output-file stars.csv "SELECT * FROM gaiadr3.gaia_source WHERE phot_g_mean_mag < 6"

  # Query against an uploaded table
  tap query --upload ids.vot --upload-table ids "SELECT * FROM TAP_UPLOAD.ids"`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query, err := queryText(args, file)
			if err != nil {
				return err
			}
			client, err := s.plus()
			if err != nil {
				return err
			}

			opts := tap.LaunchOptions{
				Name:            name,
				OutputFile:      result.outputFile,
				Format:          result.format,
				Dump:            result.dump,
				MaxRec:          maxRec,
				UploadTableName: uploadTable,
			}
			if upload != "" {
				opts.Upload = tap.FromFile(upload).WithFormat(uploadFormat(upload))
			}

			var j *job.Job
			if async {
				j, err = client.LaunchJobAsync(cmd.Context(), query, tap.AsyncOptions{
					LaunchOptions: opts,
					Background:    background,
					NoAutorun:     noAutorun,
				})
			} else {
				j, err = client.LaunchJob(cmd.Context(), query, opts)
			}
			if err != nil {
				return err
			}
			return printJobOutcome(cmd, j)
		},
	}

	result.register(cmd.Flags())
	cmd.Flags().StringVarP(&file, "file", "f", "", "Read the query from a file")
	cmd.Flags().BoolVar(&async, "async", false, "Run the query as an asynchronous job")
	cmd.Flags().BoolVar(&background, "background", false, "Return as soon as the async job is accepted")
	cmd.Flags().BoolVar(&noAutorun, "no-autorun", false, "Leave the async job PENDING until 'jobs start'")
	cmd.Flags().StringVar(&name, "name", "", "Job name")
	cmd.Flags().IntVar(&maxRec, "max-rec", 0, "Maximum number of rows (MAXREC)")
	cmd.Flags().StringVar(&upload, "upload", "", "Table file sent with the query")
	cmd.Flags().StringVar(&uploadTable, "upload-table", "", "Name of the uploaded table, used as TAP_UPLOAD.<name>")
	return cmd
}

func queryText(args []string, file string) (string, error) {
	switch {
	case len(args) == 1 && file != "":
		return "", fmt.Errorf("give the query as an argument or with --file, not both")
	case len(args) == 1:
		return args[0], nil
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read query file: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	return "", fmt.Errorf("a query is required")
}

// uploadFormat guesses a table format from a file extension.
func uploadFormat(path string) string {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".csv"):
		return "csv"
	case strings.HasSuffix(lower, ".ecsv"):
		return "ecsv"
	case strings.HasSuffix(lower, ".fits"), strings.HasSuffix(lower, ".fit"):
		return "fits"
	case strings.HasSuffix(lower, ".json"):
		return "json"
	}
	return "votable"
}

// printJobOutcome prints results when they were loaded, and the job summary
// otherwise.
func printJobOutcome(cmd *cobra.Command, j *job.Job) error {
	if j.HasResults() {
		results, err := j.Results(cmd.Context())
		if err != nil {
			return err
		}
		return printResults(cmd, results)
	}
	return printJob(cmd, j)
}

type jobView struct {
	JobID      string `json:"job_id,omitempty"`
	Name       string `json:"name,omitempty"`
	Phase      string `json:"phase"`
	Async      bool   `json:"async"`
	OwnerID    string `json:"owner_id,omitempty"`
	Query      string `json:"query,omitempty"`
	OutputFile string `json:"output_file,omitempty"`
	Error      string `json:"error,omitempty"`
}

func viewJob(j *job.Job) jobView {
	return jobView{
		JobID:      j.JobID(),
		Name:       j.Name(),
		Phase:      string(j.Phase()),
		Async:      j.IsAsync(),
		OwnerID:    j.OwnerID(),
		Query:      j.Query(),
		OutputFile: j.OutputFile(),
		Error:      j.ErrorMessage(),
	}
}

func printJob(cmd *cobra.Command, j *job.Job) error {
	if getOutputFormat(cmd) == "json" {
		return printJSON(cmd.OutOrStdout(), viewJob(j))
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), j.String())
	return nil
}

func printJobs(cmd *cobra.Command, jobs []*job.Job) error {
	views := make([]jobView, len(jobs))
	for i, j := range jobs {
		views[i] = viewJob(j)
	}
	if getOutputFormat(cmd) == "json" {
		return printJSON(cmd.OutOrStdout(), views)
	}
	rows := make([][]string, len(views))
	for i, v := range views {
		rows[i] = []string{v.JobID, v.Phase, v.Name}
	}
	return printTable(cmd.OutOrStdout(), []string{"job id", "phase", "name"}, rows)
}
