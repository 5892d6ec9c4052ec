// Package main is the entry point for the imapfs CLI.
//
// Usage:
//
//	imapfs [flags] <command> [args]
//
// Commands:
//
//	list     - List file versions (ls)
//	get      - Print a file version (cat, fetch, show)
//	put      - Store a new file version (store, write, save)
//	delete   - Delete file versions (rm, del, remove)
//	edit     - Edit a file in an external editor (vi, e)
//	config   - Show or create the configuration
//	version  - Show version information
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/marmos91/imapfs/cmd/imapfs/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := commands.Run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
