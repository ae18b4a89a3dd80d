package main

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

func passportArg(arg string) (string, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id < 1 {
		return "", fmt.Errorf("invalid passport id %q", arg)
	}
	return strconv.FormatInt(id, 10), nil
}

func newShowCmd(g *globals) *cobra.Command {
	var document bool
	cmd := &cobra.Command{
		Use:   "show <passport-id>",
		Short: "Show a passport",
		Long: `Show a passport.

With --document only the decoded detail document is printed.

Examples:
  passportctl show 12
  passportctl show 12 --document -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := passportArg(args[0])
			if err != nil {
				return err
			}
			var query url.Values
			if document {
				query = url.Values{"view": {"document"}}
			}
			v, err := newClient(g).get(cmd.Context(), "/passports/"+id, query)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), g.output, v)
		},
	}
	cmd.Flags().BoolVar(&document, "document", false, "print only the detail document")
	return cmd
}

func newLedgerCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "ledger <passport-id>",
		Short: "Show the audit entries linked to a passport",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := passportArg(args[0])
			if err != nil {
				return err
			}
			v, err := newClient(g).get(cmd.Context(), "/passports/"+id+"/audit-log-book", nil)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), g.output, v)
		},
	}
}
