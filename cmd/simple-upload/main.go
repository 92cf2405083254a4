package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tendant/simple-upload/pkg/simpleupload/config"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:   "simple-upload",
		Short: "Document upload service",
		Long: `simple-upload accepts document uploads over HTTP, stores them in a
pluggable blob store and keeps an append-only index of every upload.

Configuration is read from an optional config file and then from
environment variables:

` + config.Usage(),
		Version:       version + " (" + commit + ")",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to a YAML, JSON or TOML config file")

	load := func(opts ...config.Option) (*config.ServerConfig, error) {
		return config.Load(append([]config.Option{config.WithFile(configFile), config.WithEnv()}, opts...)...)
	}

	rootCmd.AddCommand(
		serveCmd(load),
		filesCmd(load),
		pingCmd(),
		tokenCmd(load),
	)

	return rootCmd
}

// loadFunc loads the configuration with extra options applied last.
type loadFunc func(opts ...config.Option) (*config.ServerConfig, error)
