// Package main provides the leapclean command.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/leapstack-labs/leapclean/internal/cli"

	// Built-in rules and store adapters register themselves from init().
	_ "github.com/leapstack-labs/leapclean/internal/rules"
	_ "github.com/leapstack-labs/leapclean/pkg/adapters/duckdb"
	_ "github.com/leapstack-labs/leapclean/pkg/adapters/postgres"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cli.ExecuteContext(ctx, os.Args[1:])
	stop()
	if err != nil {
		os.Exit(1)
	}
}
