package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func filesCmd(load loadFunc) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "files",
		Short: "Print the upload index as JSON, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			index, closeIndex, err := cfg.BuildReadOnlyIndex(cmd.Context())
			if err != nil {
				return err
			}
			defer closeIndex()

			records, err := index.List(cmd.Context())
			if err != nil {
				return fmt.Errorf("listing index: %w", err)
			}
			if limit > 0 && len(records) > limit {
				records = records[:limit]
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(records)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Print at most n records (0 prints all)")

	return cmd
}
