package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/matgreaves/gantry/httpx"
	"github.com/matgreaves/gantry/services/query"
)

func main() {
	addr := flag.String("addr", ":8000", "listen address")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// Stand-in agent. A real deployment links its own Agent implementation
	// against query.NewHandler.
	agent := query.AgentFunc(func(_ context.Context, prompt string) (string, error) {
		return fmt.Sprintf("no agent is configured; received %d characters", len(prompt)), nil
	})

	if err := httpx.Serve(ctx, *addr, query.NewHandler(agent)); err != nil {
		fmt.Fprintf(os.Stderr, "queryd: %v\n", err)
		os.Exit(1)
	}
}
