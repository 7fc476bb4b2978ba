package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

var (
	Version   = "v1.0.0"
	Commit    = "unknown"
	BuildTime = "unknown"
)

const usage = `Usage: vrnav <command> [flags] [args]

Commands:
  import <archive>                    extract a package into the map store
  list                                list stored maps
  inspect <map-dir | name version>    print a map's locations and transitions
  convert-legacy <legacy.json> <dir>  convert a legacy project into map.info + map.config
  pack <dir> <archive>                build a package archive from a map directory
  push <archive>                      upload a package to a running vrnav-d
  mcp                                 serve the tour tools over MCP on stdio
  version                             print build information
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "vrnav: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(out, usage)
		return errors.New("missing command")
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "import":
		return cmdImport(ctx, rest, out)
	case "list":
		return cmdList(rest, out)
	case "inspect":
		return cmdInspect(rest, out)
	case "convert-legacy":
		return cmdConvertLegacy(rest, out)
	case "pack":
		return cmdPack(rest, out)
	case "push":
		return cmdPush(ctx, rest, out)
	case "mcp":
		return cmdMCP(rest, out)
	case "version":
		fmt.Fprintf(out, "vrnav %s (%s, %s)\n", Version, Commit, BuildTime)
		return nil
	case "help", "-h", "--help":
		fmt.Fprint(out, usage)
		return nil
	default:
		fmt.Fprint(out, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}
