// Command overlayd runs one process of a hierarchical query overlay:
// a leader, a team leader, or a worker, as assigned by a topology
// file. Subcommand dispatch follows the teacher's cmd/snellerd layout
// (daemon/worker split in main.go), adapted to this daemon's own
// serve/peer-discover split.
package main

import (
	"fmt"
	"os"
	"strings"
)

func main() {
	args := os.Args[1:]
	useSubCommand := len(args) > 0 && !strings.HasPrefix(args[0], "-")
	if !useSubCommand {
		fmt.Fprintln(os.Stderr, "usage: overlayd <serve|peer-discover> [flags]")
		os.Exit(1)
	}

	subCommand := args[0]
	args = args[1:]
	switch subCommand {
	case "serve":
		runServe(args)
	case "peer-discover":
		runPeerDiscover(args)
	default:
		fmt.Fprintf(os.Stderr, "invalid sub-command %q\n", subCommand)
		os.Exit(1)
	}
}
