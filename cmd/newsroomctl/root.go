package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// rootOptions holds the global flags.
type rootOptions struct {
	server  string
	token   string
	format  string
	timeout time.Duration
}

func (o *rootOptions) client() *apiClient {
	return newAPIClient(o.server, o.token, o.timeout)
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "newsroomctl",
		Short:         "Operate the newsroom story pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.format != "text" && opts.format != "json" {
				return fmt.Errorf("invalid format %q: must be text or json", opts.format)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	server := os.Getenv("NEWSROOM_SERVER")
	if server == "" {
		server = "http://localhost:8080"
	}
	rootCmd.PersistentFlags().StringVar(&opts.server, "server", server, "Newsroom API base URL")
	rootCmd.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("NEWSROOM_API_TOKEN"), "API bearer token")
	rootCmd.PersistentFlags().StringVar(&opts.format, "format", "text", "Output format (text|json)")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "Request timeout")

	rootCmd.AddCommand(newPitchCommand(opts))
	rootCmd.AddCommand(newApprovalCommand(opts, true))
	rootCmd.AddCommand(newApprovalCommand(opts, false))
	rootCmd.AddCommand(newRetryCommand(opts))
	rootCmd.AddCommand(newStatusCommand(opts))
	rootCmd.AddCommand(newListCommand(opts))

	return rootCmd
}
