package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"tapkit/pkg/tap"
)

func newUserTableCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "user-table",
		Aliases: []string{"ut"},
		Short:   "Manage the user's private tables (requires login)",
	}

	cmd.AddCommand(newUserTableUploadCmd(s))
	cmd.AddCommand(newUserTableFromJobCmd(s))
	cmd.AddCommand(newUserTableDeleteCmd(s))
	cmd.AddCommand(newUserTableRenameCmd(s))
	cmd.AddCommand(newUserTableUpdateCmd(s))
	cmd.AddCommand(newUserTableRaDecCmd(s))
	return cmd
}

func newUserTableUploadCmd(s *session) *cobra.Command {
	var file, url, format, description string

	cmd := &cobra.Command{
		Use:   "upload <table-name>",
		Short: "Create a user table from a file or URL",
		Example: `  tap user-table upload stars --file stars.csv --description "bright stars"
  tap user-table upload remote --url https://example.org/t.vot`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resource *tap.Resource
			switch {
			case file != "" && url != "":
				return fmt.Errorf("--file and --url are mutually exclusive")
			case file != "":
				if format == "" {
					format = uploadFormat(file)
				}
				resource = tap.FromFile(file).WithFormat(format)
			case url != "":
				resource = tap.FromURL(url).WithFormat(format)
			default:
				return fmt.Errorf("--file or --url is required")
			}
			client, err := s.plus()
			if err != nil {
				return err
			}
			j, err := client.UploadTable(cmd.Context(), resource, args[0], description)
			if err != nil {
				return err
			}
			if j != nil {
				return printJob(cmd, j)
			}
			return printStatus(cmd, fmt.Sprintf("Uploaded table %s", args[0]), map[string]string{"table": args[0]})
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "Table file")
	cmd.Flags().StringVar(&url, "url", "", "URL the service fetches the table from")
	cmd.Flags().StringVar(&format, "format", "", "Table format (guessed from the file extension)")
	cmd.Flags().StringVar(&description, "description", "", "Table description")
	return cmd
}

func newUserTableFromJobCmd(s *session) *cobra.Command {
	var name, description string

	cmd := &cobra.Command{
		Use:   "from-job <job-id>",
		Short: "Create a user table from the results of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := s.plus()
			if err != nil {
				return err
			}
			if err := client.UploadTableFromJobID(cmd.Context(), args[0], name, description); err != nil {
				return err
			}
			table := name
			if table == "" {
				table = "t" + args[0]
			}
			return printStatus(cmd, fmt.Sprintf("Created table %s from job %s", table, args[0]),
				map[string]string{"table": table, "job_id": args[0]})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Table name (default t<job-id>)")
	cmd.Flags().StringVar(&description, "description", "", "Table description (default the job query)")
	return cmd
}

func newUserTableDeleteCmd(s *session) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "delete <table-name>",
		Short: "Delete a user table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := s.plus()
			if err != nil {
				return err
			}
			if err := client.DeleteUserTable(cmd.Context(), args[0], force); err != nil {
				return err
			}
			return printStatus(cmd, fmt.Sprintf("Deleted table %s", args[0]), map[string]string{"table": args[0]})
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Delete the table even when it is shared")
	return cmd
}

func newUserTableRenameCmd(s *session) *cobra.Command {
	var (
		newName string
		columns []string
	)

	cmd := &cobra.Command{
		Use:     "rename <table-name>",
		Short:   "Rename a user table or its columns",
		Example: `  tap user-table rename user_jdoe.stars --new-name user_jdoe.bright --column ra=alpha --column dec=delta`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			renames, err := parsePairs(columns, "=", "--column")
			if err != nil {
				return err
			}
			client, err := s.plus()
			if err != nil {
				return err
			}
			if err := client.RenameTable(cmd.Context(), args[0], newName, renames); err != nil {
				return err
			}
			return printStatus(cmd, fmt.Sprintf("Updated table %s", args[0]), map[string]string{"table": args[0]})
		},
	}

	cmd.Flags().StringVar(&newName, "new-name", "", "New table name")
	cmd.Flags().StringArrayVar(&columns, "column", nil, "Column rename as old=new (repeatable)")
	return cmd
}

func newUserTableUpdateCmd(s *session) *cobra.Command {
	var changes []string

	cmd := &cobra.Command{
		Use:   "update <table-name>",
		Short: "Change column metadata of a user table",
		Long: `Change column metadata. Each --change is column:field:value where field is
utype, ucd, flags (Ra, Dec, Flux, Mag, PK or None) or indexed (true or false).
Ra and Dec must be changed together.`,
		Example: `  tap user-table update user_jdoe.stars --change alpha:flags:Ra --change delta:flags:Dec`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed := make([]tap.ColumnChange, 0, len(changes))
			for _, c := range changes {
				parts := strings.SplitN(c, ":", 3)
				if len(parts) != 3 {
					return fmt.Errorf("invalid --change %q: want column:field:value", c)
				}
				parsed = append(parsed, tap.ColumnChange{Column: parts[0], Field: strings.ToLower(parts[1]), Value: parts[2]})
			}
			client, err := s.plus()
			if err != nil {
				return err
			}
			if err := client.UpdateUserTable(cmd.Context(), args[0], parsed); err != nil {
				return err
			}
			return printStatus(cmd, fmt.Sprintf("Updated table %s", args[0]), map[string]string{"table": args[0]})
		},
	}

	cmd.Flags().StringArrayVar(&changes, "change", nil, "Column change as column:field:value (repeatable)")
	_ = cmd.MarkFlagRequired("change")
	return cmd
}

func newUserTableRaDecCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "radec <table-name> <ra-column> <dec-column>",
		Short: "Mark the Ra and Dec columns of a user table",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := s.plus()
			if err != nil {
				return err
			}
			if err := client.SetRaDecColumns(cmd.Context(), args[0], args[1], args[2]); err != nil {
				return err
			}
			return printStatus(cmd, fmt.Sprintf("Updated table %s", args[0]), map[string]string{"table": args[0]})
		},
	}
}

// parsePairs splits key<sep>value flag values into a map.
func parsePairs(values []string, sep, flag string) (map[string]string, error) {
	out := make(map[string]string, len(values))
	for _, v := range values {
		k, val, ok := strings.Cut(v, sep)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid %s %q: want key%svalue", flag, v, sep)
		}
		out[k] = val
	}
	return out, nil
}
