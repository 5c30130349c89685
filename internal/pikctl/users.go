package pikctl

import (
	"github.com/spf13/cobra"
)

func newUsersCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Inspect and enroll identities",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List identities with progression and link counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := NewClient(opts.APIURL).Get("/api/users")
			if err != nil {
				return err
			}
			return printJSON(data)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <root-id>",
		Short: "Print the full detail projection of one identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := NewClient(opts.APIURL).Get("/api/users/" + args[0])
			if err != nil {
				return err
			}
			return printJSON(data)
		},
	})

	var (
		heroName   string
		alignment  string
		origin     string
		enrolledBy string
		sourceID   string
	)
	enroll := &cobra.Command{
		Use:   "enroll",
		Short: "Enroll an identity without a passkey ceremony",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{
				"hero_name":      heroName,
				"fate_alignment": alignment,
				"enrolled_by":    enrolledBy,
			}
			if origin != "" {
				body["origin"] = origin
			}
			if sourceID != "" {
				body["source_id"] = sourceID
			}
			data, err := NewClient(opts.APIURL).Post("/api/users/enroll", body)
			if err != nil {
				return err
			}
			return printJSON(data)
		},
	}
	enroll.Flags().StringVar(&heroName, "hero-name", "", "hero name (required)")
	enroll.Flags().StringVar(&alignment, "alignment", "", "fate alignment (required)")
	enroll.Flags().StringVar(&origin, "origin", "", "optional origin")
	enroll.Flags().StringVar(&enrolledBy, "enrolled-by", "operator", "who performs the enrollment")
	enroll.Flags().StringVar(&sourceID, "source-id", "", "grant a consent link to this source")
	_ = enroll.MarkFlagRequired("hero-name")
	_ = enroll.MarkFlagRequired("alignment")
	cmd.AddCommand(enroll)

	var (
		cacheType string
		rarity    string
		trigger   string
	)
	grantCache := &cobra.Command{
		Use:   "grant-cache <root-id>",
		Short: "Grant a sealed fate cache, optionally forcing the rarity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{"cache_type": cacheType}
			if rarity != "" {
				body["rarity"] = rarity
			}
			if trigger != "" {
				body["trigger"] = trigger
			}
			data, err := NewClient(opts.APIURL).Post("/api/users/"+args[0]+"/caches", body)
			if err != nil {
				return err
			}
			return printJSON(data)
		},
	}
	grantCache.Flags().StringVar(&cacheType, "cache-type", "", "level_up, boss_kill or milestone (required)")
	grantCache.Flags().StringVar(&rarity, "rarity", "", "force a rarity instead of rolling")
	grantCache.Flags().StringVar(&trigger, "trigger", "", "trigger label (default operator_grant)")
	_ = grantCache.MarkFlagRequired("cache-type")
	cmd.AddCommand(grantCache)

	return cmd
}

func newImpersonateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "impersonate <root-id>",
		Short: "Mint a session token for an identity without a ceremony",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := NewClient(opts.APIURL).Post("/api/auth/impersonate/"+args[0], nil)
			if err != nil {
				return err
			}
			return printJSON(data)
		},
	}
}
