// Command steward runs the unattended governance agent: it pulls
// pending proposals, decides them, submits votes, and attests every
// submission on the ledger.
package main

import (
	"fmt"
	"io"
	"os"
)

const version = "1.0.0"

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the command dispatcher, split out for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return runRunCmd(nil, stdout, stderr)
	}

	switch args[1] {
	case "run":
		return runRunCmd(args[2:], stdout, stderr)
	case "export":
		return runExportCmd(args[2:], stdout, stderr)
	case "doctor":
		return runDoctorCmd(stdout)
	case "version", "--version":
		_, _ = fmt.Fprintf(stdout, "steward %s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "steward %s — unattended governance agent\n", version)
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  steward <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "COMMANDS:")
	fmt.Fprintln(w, "  run      Run the agent (default; --once, --dry-run, --source-keys)")
	fmt.Fprintln(w, "  export   Dump run checkpoints as JSON (--source-keys, --out)")
	fmt.Fprintln(w, "  doctor   Check configuration and dependencies")
	fmt.Fprintln(w, "  version  Show version information")
	fmt.Fprintln(w, "  help     Show this help")
	fmt.Fprintln(w, "")
}
