package pikctl

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags shared by every subcommand.
type RootOptions struct {
	APIURL string
}

func defaultAPIURL() string {
	if v := os.Getenv("PIK_API_URL"); v != "" {
		return v
	}
	return "http://localhost:8080"
}

// NewRootCommand builds the pikctl command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "pikctl",
		Short:         "Operator CLI for the Persistent Identity Kernel",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.APIURL, "api-url", defaultAPIURL(),
		"base URL of the kernel HTTP API (env PIK_API_URL)")

	cmd.AddCommand(newSourcesCommand(opts))
	cmd.AddCommand(newConfigCommand(opts))
	cmd.AddCommand(newUsersCommand(opts))
	cmd.AddCommand(newImpersonateCommand(opts))

	return cmd
}

// printJSON pretty-prints an API data document to stdout.
func printJSON(data json.RawMessage) error {
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// Execute runs the CLI, printing the failure to stderr on error.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
