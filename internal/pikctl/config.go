package pikctl

import (
	"github.com/spf13/cobra"
)

func newConfigCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Read and tune the kernel's runtime configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Print all config keys with parsed values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := NewClient(opts.APIURL).Get("/api/config")
			if err != nil {
				return err
			}
			return printJSON(data)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Update one config key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := NewClient(opts.APIURL).Post("/api/config", map[string]string{
				"config_key":   args[0],
				"config_value": args[1],
			})
			if err != nil {
				return err
			}
			return printJSON(data)
		},
	})

	return cmd
}
