package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ai4hf/passport/internal/roles"
)

func newRolesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roles",
		Short: "Encode and decode role sets",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "encode <role>...",
		Short: "Print the canonical encoding of a set of roles",
		Long: `Print the canonical encoding of a set of roles.

Arguments may themselves be comma separated. Duplicates collapse.

Example:
  passportctl roles encode STUDY_OWNER DATA_SCIENTIST,STUDY_OWNER`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := roles.Decode(strings.Join(args, roles.Delimiter))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), roles.Encode(set))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "decode <encoded>",
		Short: "List the roles of an encoded role set, one per line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := roles.Decode(args[0])
			if err != nil {
				return err
			}
			for _, r := range set.Roles() {
				fmt.Fprintln(cmd.OutOrStdout(), r)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List every known role",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			for _, r := range roles.All() {
				fmt.Fprintln(cmd.OutOrStdout(), r)
			}
		},
	})
	return cmd
}
