package pikctl

import (
	"github.com/spf13/cobra"
)

func newSourcesCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Manage upstream sources and their API keys",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := NewClient(opts.APIURL).Get("/api/sources")
			if err != nil {
				return err
			}
			return printJSON(data)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "create <source-id> <display-name>",
		Short: "Register a source and print its one-time API key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := NewClient(opts.APIURL).Post("/api/sources", map[string]string{
				"source_id":   args[0],
				"source_name": args[1],
			})
			if err != nil {
				return err
			}
			return printJSON(data)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "rotate <source-id>",
		Short: "Rotate a source's API key and print the replacement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := NewClient(opts.APIURL).Post("/api/sources/"+args[0]+"/rotate-key", nil)
			if err != nil {
				return err
			}
			return printJSON(data)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status <source-id> <active|suspended|deactivated>",
		Short: "Transition a source's status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := NewClient(opts.APIURL).Post("/api/sources/"+args[0]+"/status", map[string]string{
				"status": args[1],
			})
			if err != nil {
				return err
			}
			return printJSON(data)
		},
	})

	return cmd
}
