package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type globals struct {
	server  string
	token   string
	output  string
	timeout time.Duration
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:   "passportctl",
		Short: "Inspect ML passports and their audit ledgers",
		Long: `passportctl talks to a passport server to show passports and their
ledger books, verifies signed passport documents offline and encodes or
decodes role sets.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&g.server, "server", envOr("PASSPORT_SERVER", "http://localhost:8080"), "passport server base URL")
	flags.StringVar(&g.token, "token", os.Getenv("PASSPORT_TOKEN"), "bearer token")
	flags.StringVarP(&g.output, "output", "o", "yaml", "output format: yaml or json")
	flags.DurationVar(&g.timeout, "timeout", 30*time.Second, "request timeout")

	root.AddCommand(
		newShowCmd(g),
		newLedgerCmd(g),
		newVerifyCmd(),
		newRolesCmd(),
		newTokenCmd(),
		newKeygenCmd(),
	)
	return root
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// render writes v in the selected format. v is usually a generic value
// decoded from a JSON response so both formats carry the same field names.
func render(w io.Writer, format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml", "":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q (want yaml or json)", format)
	}
}
