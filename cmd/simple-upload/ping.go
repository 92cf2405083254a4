package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tendant/simple-upload/pkg/simpleupload/keepalive"
)

func pingCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "ping <url>",
		Short: "Send one keep-alive request and report the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			start := time.Now()
			if err := keepalive.Ping(cmd.Context(), nil, args[0], timeout); err != nil {
				return fmt.Errorf("ping %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "OK %s (%s)\n", args[0], time.Since(start).Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 10*time.Second, "Request timeout")

	return cmd
}
