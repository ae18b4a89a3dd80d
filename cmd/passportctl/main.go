// Command passportctl inspects passports and audit ledgers on a running
// server, verifies signed passport documents and works with role sets.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
