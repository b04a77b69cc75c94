package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"

	gantry "github.com/matgreaves/gantry/client"
	"github.com/matgreaves/gantry/spec"
	"sigs.k8s.io/yaml"
)

const defaultServer = "http://127.0.0.1:7070"

// serverFlag registers the shared -server flag on fs.
func serverFlag(fs *flag.FlagSet) *string {
	def := defaultServer
	if env := os.Getenv("GANTRYD_ADDR"); env != "" {
		def = env
	}
	return fs.String("server", def, "gantryd base URL")
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

func runUp(args []string) error {
	fs := flag.NewFlagSet("up", flag.ExitOnError)
	server := serverFlag(fs)
	file := fs.String("f", "", "stack spec file (JSON or YAML)")
	noWait := fs.Bool("no-wait", false, "return after the stack is accepted instead of waiting for stack.up")
	fs.Parse(args)

	if *file == "" {
		return fmt.Errorf("-f <stack file> is required")
	}
	raw, err := os.ReadFile(*file)
	if err != nil {
		return err
	}

	// YAML is a superset of JSON here, so both formats decode the same way.
	var st spec.Stack
	if err := yaml.UnmarshalStrict(raw, &st); err != nil {
		return fmt.Errorf("parse %s: %w", *file, err)
	}

	ctx, stop := signalContext()
	defer stop()

	c := gantry.New(*server)
	id, err := c.Apply(ctx, st)
	if err != nil {
		return err
	}
	fmt.Printf("stack %s accepted (instance %s)\n", st.Name, id)

	if *noWait {
		return nil
	}
	if err := c.WaitReady(ctx, id); err != nil {
		return err
	}
	fmt.Printf("stack %s is up\n", st.Name)
	return nil
}

func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	server := serverFlag(fs)
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: gantry status <stack>")
	}

	ctx, stop := signalContext()
	defer stop()

	resolved, err := gantry.New(*server).Status(ctx, fs.Arg(0))
	if err != nil {
		return err
	}

	fmt.Printf("%s (%s)\n", resolved.Name, resolved.ID)
	names := make([]string, 0, len(resolved.Services))
	for name := range resolved.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		svc := resolved.Services[name]
		fmt.Printf("  %-12s %-10s desired=%d\n", name, svc.Status, svc.Desired)
		for _, r := range svc.Replicas {
			fmt.Printf("    %-14s %-10s %s:%d\n", r.ID, r.Status, r.Endpoint.Host, r.Endpoint.Port)
		}
	}
	return nil
}

func runEvents(args []string) error {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	server := serverFlag(fs)
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: gantry events <stack>")
	}

	ctx, stop := signalContext()
	defer stop()

	events, err := gantry.New(*server).Events(ctx, fs.Arg(0), 0)
	if err != nil {
		return err
	}
	for ev := range events {
		line := fmt.Sprintf("%s %s", ev.Timestamp.Format("15:04:05.000"), ev.Type)
		if ev.Service != "" {
			line += " " + ev.Service
		}
		if ev.Replica != "" {
			line += " " + ev.Replica
		}
		if ev.Desired != 0 {
			line += fmt.Sprintf(" desired=%d", ev.Desired)
		}
		if ev.Error != "" {
			line += " error=" + ev.Error
		}
		if ev.Message != "" {
			line += " " + ev.Message
		}
		fmt.Println(line)
	}
	return ctx.Err()
}

func runDown(args []string) error {
	fs := flag.NewFlagSet("down", flag.ExitOnError)
	server := serverFlag(fs)
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: gantry down <stack>")
	}

	ctx, stop := signalContext()
	defer stop()

	if err := gantry.New(*server).Destroy(ctx, fs.Arg(0)); err != nil {
		return err
	}
	fmt.Printf("stack %s destroyed\n", fs.Arg(0))
	return nil
}
