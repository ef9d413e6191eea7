// Command atlasctl is a thin CLI demo of the governance core: load one or
// more atlas manifests, submit a single CARP resolve request, optionally
// execute the actions it allows, then print the chain-verification report
// and replay diff for the session it created.
//
// Grounded on core/cmd/helm/main.go's hand-rolled subcommand dispatch
// (args[1] switch, no third-party CLI framework) and
// core/cmd/helm/verify_cmd.go's flag.NewFlagSet-per-subcommand layout.
package main

import (
	"fmt"
	"io"
	"os"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint, separated from main for testability.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stdout)
		return 2
	}

	switch args[1] {
	case "run":
		return runRunCmd(args[2:], stdout, stderr)
	case "validate":
		return runValidateCmd(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "atlasctl - governance core CLI demo")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "usage: atlasctl <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "commands:")
	fmt.Fprintln(w, "  validate   parse and validate one atlas manifest file")
	fmt.Fprintln(w, "  run        load manifests, resolve one request, verify and replay the trace")
	fmt.Fprintln(w, "  help       show this help")
}
