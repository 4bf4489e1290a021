package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"tapkit/internal/table"
)

// getOutputFormat returns the effective output format from the root command's persistent flags.
func getOutputFormat(cmd *cobra.Command) string {
	v, _ := cmd.Root().PersistentFlags().GetString("output")
	return v
}

func validateOutputFormat(output string) error {
	if output != "" && output != "table" && output != "json" {
		return fmt.Errorf("unsupported output format %q: use 'table' or 'json'", output)
	}
	return nil
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printTable writes aligned columns with an upper-cased header row.
func printTable(w io.Writer, headers []string, rows [][]string) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	upper := make([]string, len(headers))
	for i, h := range headers {
		upper[i] = strings.ToUpper(h)
	}
	_, _ = fmt.Fprintln(tw, strings.Join(upper, "\t"))
	for _, r := range rows {
		_, _ = fmt.Fprintln(tw, strings.Join(r, "\t"))
	}
	return tw.Flush()
}

// printResults writes a result table in the selected output format. JSON
// output is a list of objects keyed by column name.
func printResults(cmd *cobra.Command, t *table.Table) error {
	w := cmd.OutOrStdout()
	if t == nil {
		return nil
	}
	names := t.ColumnNames()
	if getOutputFormat(cmd) == "json" {
		records := make([]map[string]any, len(t.Rows))
		for i, row := range t.Rows {
			rec := make(map[string]any, len(names))
			for j, name := range names {
				if j < len(row) {
					rec[name] = row[j]
				}
			}
			records[i] = rec
		}
		return printJSON(w, records)
	}
	rows := make([][]string, len(t.Rows))
	for i, row := range t.Rows {
		cells := make([]string, len(row))
		for j, v := range row {
			cells[j] = formatValue(v)
		}
		rows[i] = cells
	}
	return printTable(w, names, rows)
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case []any:
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = formatValue(e)
		}
		return "[" + strings.Join(parts, " ") + "]"
	}
	return fmt.Sprint(v)
}

// printStatus writes a one-line confirmation, or a status object in JSON mode.
func printStatus(cmd *cobra.Command, message string, fields map[string]string) error {
	if getOutputFormat(cmd) == "json" {
		obj := map[string]string{"status": "ok"}
		for k, v := range fields {
			obj[k] = v
		}
		return printJSON(cmd.OutOrStdout(), obj)
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), message)
	return nil
}
