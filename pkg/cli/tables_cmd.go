package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"tapkit/internal/domain"
)

func newTablesCmd(s *session) *cobra.Command {
	var onlyNames, shared bool

	cmd := &cobra.Command{
		Use:   "tables",
		Short: "List the tables published by the service",
		Example: `  # Names only, including the tables shared with you
  tap tables --only-names --shared`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := s.plus()
			if err != nil {
				return err
			}
			tables, err := client.LoadTables(cmd.Context(), onlyNames, shared)
			if err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return printJSON(cmd.OutOrStdout(), tables)
			}
			rows := make([][]string, len(tables))
			for i, t := range tables {
				rows[i] = []string{t.QualifiedName(), strconv.Itoa(len(t.Columns)), t.Description}
			}
			return printTable(cmd.OutOrStdout(), []string{"name", "columns", "description"}, rows)
		},
	}

	cmd.Flags().BoolVar(&onlyNames, "only-names", false, "Skip column metadata")
	cmd.Flags().BoolVar(&shared, "shared", false, "Include tables shared with the user")
	return cmd
}

func newTableCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "table <schema.table>",
		Short: "Describe the columns of one table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := s.plus()
			if err != nil {
				return err
			}
			t, err := client.LoadTable(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if t == nil {
				return domain.ErrNotFound("table %q not found", args[0])
			}
			if getOutputFormat(cmd) == "json" {
				return printJSON(cmd.OutOrStdout(), t)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\n\n", t.QualifiedName())
			rows := make([][]string, len(t.Columns))
			for i, c := range t.Columns {
				rows[i] = []string{c.Name, c.DataType, c.Unit, c.UCD, c.Role.String(), strconv.FormatBool(c.Indexed)}
			}
			return printTable(cmd.OutOrStdout(), []string{"column", "type", "unit", "ucd", "flags", "indexed"}, rows)
		},
	}
}
