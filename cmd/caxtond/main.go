// Command caxtond is Caxton's single-process server: it hosts sandboxed
// WASM agents, routes capability-addressed messages between them, and
// backs their associative memory with an embedded store.
//
// Usage:
//
//	caxtond serve                       # start the server
//	caxtond serve --config caxton.yaml  # use a specific config file
//	caxtond version                     # print version information
//	caxtond health                      # query a running server's /health
//	caxtond migrate up                  # apply pending storage migrations
//	caxtond migrate status              # show migration status
package main

import (
	"fmt"
	"os"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "migrate":
		runMigrate(os.Args[2:])
	case "version":
		printVersion()
	case "health":
		runHealthCheck(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printVersion() {
	fmt.Printf("caxtond %s (build %s, commit %s)\n", Version, BuildTime, GitCommit)
}

func printUsage() {
	fmt.Println(`caxtond - Caxton agent runtime

Usage:
  caxtond <command> [options]

Commands:
  serve     Start the server (sandbox host, router, memory, accountant)
  migrate   Manage the embedded store's schema migrations
  version   Print version information
  health    Query a running server's health endpoint
  help      Show this help message

Run 'caxtond migrate help' for migration subcommands.`)
}
