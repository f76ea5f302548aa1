/*
main.go - Application entry point

PURPOSE:
  Runs the points ledger server for one user session, or a standalone twin
  of the remote ledger service for local development.

COMMANDS:
  serve      Engine + presentation API + background reconciler
  twin       In-memory remote ledger and catalog service
  reconcile  One reconciliation pass, prints the resulting snapshot

CONFIGURATION:
  --config points.yaml, then POINTS_* environment variables, then flags.
  See config/config.go.

EXAMPLES:
  # Everything in-process, twin included
  ./server serve

  # Against a separately running twin, with a persistent cache
  ./server twin --addr :9090 --seed-user fan-42 --seed-balance 3500
  ./server serve --remote http://localhost:9090 --user fan-42 --db ./points.db

SEE ALSO:
  - api/server.go: Router configuration
  - points/engine.go: The session engine
*/
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
