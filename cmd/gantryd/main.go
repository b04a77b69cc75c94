package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/matgreaves/gantry/internal/driver/docker"
	"github.com/matgreaves/gantry/internal/secret"
	"github.com/matgreaves/gantry/internal/server"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:7070", "listen address")
	idle := flag.Duration("idle", 0, "idle shutdown timeout (0 to disable)")
	secretsDir := flag.String("secrets-dir", "", "resolve secrets from <dir>/<name>/<key> files instead of the environment")
	flag.Parse()

	var secrets secret.Store = secret.Env{}
	if *secretsDir != "" {
		secrets = secret.Dir{Root: *secretsDir}
	}

	s := server.NewServer(
		server.NewPortAllocator(),
		docker.New(),
		secrets,
		*idle,
	)

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gantryd: listen: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "gantryd listening on %s\n", ln.Addr())

	httpSrv := &http.Server{Handler: s}

	serveErr := make(chan error, 1)
	go func() { serveErr <- httpSrv.Serve(ln) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-s.ShutdownCh():
		fmt.Fprintln(os.Stderr, "gantryd: idle timeout, shutting down")
	case sig := <-sigCh:
		fmt.Fprintf(os.Stderr, "gantryd: received %s, shutting down\n", sig)
	case err := <-serveErr:
		fmt.Fprintf(os.Stderr, "gantryd: serve error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	httpSrv.Shutdown(ctx)
}
