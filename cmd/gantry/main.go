package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "up":
		if err := runUp(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "gantry up: %v\n", err)
			os.Exit(1)
		}
	case "status":
		if err := runStatus(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "gantry status: %v\n", err)
			os.Exit(1)
		}
	case "events":
		if err := runEvents(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "gantry events: %v\n", err)
			os.Exit(1)
		}
	case "down":
		if err := runDown(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "gantry down: %v\n", err)
			os.Exit(1)
		}
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "gantry: unknown command %q\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: gantry <command> [flags]

Commands:
  up     -f <stack.yaml>   Apply a stack spec and wait for it to come up
  status <stack>           Show a stack's services and replicas
  events <stack>           Stream a stack's lifecycle events
  down   <stack>           Tear a stack down

Run 'gantry <command> --help' for command-specific flags. The daemon
address comes from -server or the GANTRYD_ADDR environment variable
(default http://127.0.0.1:7070).
`)
}
