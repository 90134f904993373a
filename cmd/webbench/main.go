// Command webbench drives a concurrent HTTP/HTTPS benchmark run against a
// target URL for a bounded duration, reporting aggregate completions,
// bytes received, and failures (spec.md §1).
package main

import (
	"fmt"
	"os"
)

// version is the value printed by -V/--version (spec.md §6).
const version = "2.0"

func main() {
	rewriteHelpAlias(os.Args[1:])

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// rewriteHelpAlias rewrites a bare "-?" argument to "--help" in place, since
// pflag/cobra shorthand flags must be single ASCII letters or digits and
// can't represent "?" alongside the existing "-h" alias (spec.md §6:
// "-h -? | --help").
func rewriteHelpAlias(args []string) {
	for i, a := range args {
		if a == "-?" {
			args[i] = "--help"
		}
	}
}
