package main

import (
	"fmt"
	"io"
	"os"
)

const usage = `usage: pipectl <command> [flags]

commands:
  serve     run a pipe host and its admin HTTP surface
  notify    dial a host and announce an endpoint closure
  encode    print a closure control message as hex
  decode    validate and print a hex control message
  template  write a host or client config template
`

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "pipectl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stdout, usage)
		return fmt.Errorf("missing command")
	}
	switch args[0] {
	case "serve":
		return runServe(args[1:])
	case "notify":
		return runNotify(args[1:], stdout)
	case "encode":
		return runEncode(args[1:], stdout)
	case "decode":
		return runDecode(args[1:], stdout)
	case "template":
		return runTemplate(args[1:], stdout)
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return nil
	default:
		fmt.Fprint(stdout, usage)
		return fmt.Errorf("unknown command %q", args[0])
	}
}
