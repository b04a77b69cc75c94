package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/matgreaves/gantry/httpx"
	"github.com/matgreaves/gantry/services/chat"
)

func main() {
	addr := flag.String("addr", ":8501", "listen address")
	api := flag.String("api", "", "query backend base URL (default $API_ENDPOINT)")
	flag.Parse()

	if *api == "" {
		*api = os.Getenv("API_ENDPOINT")
	}
	if *api == "" {
		fmt.Fprintln(os.Stderr, "chatd: no backend configured; set -api or API_ENDPOINT")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := httpx.Serve(ctx, *addr, chat.NewHandler(httpx.NewClient(*api))); err != nil {
		fmt.Fprintf(os.Stderr, "chatd: %v\n", err)
		os.Exit(1)
	}
}
