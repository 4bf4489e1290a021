package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"tapkit/internal/params"
)

func newDataCmd(s *session) *cobra.Command {
	var (
		values     []string
		outputFile string
	)

	cmd := &cobra.Command{
		Use:   "data",
		Short: "Retrieve data products from the data service",
		Example: `  tap data --param ID=4295806720 --param RETRIEVAL_TYPE=EPOCH_PHOTOMETRY --param FORMAT=votable \
    --output-file epoch.vot`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pairs, err := parsePairs(values, "=", "--param")
			if err != nil {
				return err
			}
			keys := make([]string, 0, len(pairs))
			for k := range pairs {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			request := params.New()
			for _, k := range keys {
				request.Set(k, pairs[k])
			}

			client, err := s.plus()
			if err != nil {
				return err
			}
			result, err := client.LoadData(cmd.Context(), request, outputFile)
			if err != nil {
				return err
			}
			if outputFile != "" {
				return printStatus(cmd, fmt.Sprintf("Saved data to %s", outputFile), map[string]string{"file": outputFile})
			}
			return printResults(cmd, result)
		},
	}

	cmd.Flags().StringArrayVar(&values, "param", nil, "Request parameter as KEY=VALUE (repeatable)")
	cmd.Flags().StringVar(&outputFile, "output-file", "", "Save the response to this file")
	_ = cmd.MarkFlagRequired("param")
	return cmd
}

func newDatalinkCmd(s *session) *cobra.Command {
	var linkingParameter string

	cmd := &cobra.Command{
		Use:   "datalink <id>...",
		Short: "List the datalinks of source ids",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := s.plus()
			if err != nil {
				return err
			}
			links, err := client.GetDatalinks(cmd.Context(), args, linkingParameter)
			if err != nil {
				return err
			}
			return printResults(cmd, links)
		},
	}

	cmd.Flags().StringVar(&linkingParameter, "linking-parameter", "", "What the ids are: SOURCE_ID, TRANSIT_ID or IMAGE_ID")
	return cmd
}
