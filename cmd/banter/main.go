package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/banterhq/banter/internal/cli"
	"github.com/banterhq/banter/internal/config"
	"github.com/banterhq/banter/pkg/logger"
)

const version = "banter v0.1.0"

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	args, err := parseFlags(cfg, os.Args[1:])
	if err != nil {
		return err
	}

	if lvl, err := logger.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(lvl)
	}

	if len(args) > 0 {
		switch args[0] {
		case "serve":
			return cli.ServeCommand(cfg)
		case "pair":
			return cli.PairCommand(cfg)
		case "tail":
			return cli.TailCommand(cfg)
		case "help", "--help", "-h":
			printUsage()
			return nil
		case "version", "--version", "-v":
			fmt.Println(version)
			return nil
		default:
			printUsage()
			return fmt.Errorf("unknown command %q", args[0])
		}
	}

	return cli.ServeCommand(cfg)
}

func parseFlags(cfg *config.Config, args []string) ([]string, error) {
	fs := flag.NewFlagSet("banter", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	listen := fs.String("listen", "", "Listen address for the window channel")
	engine := fs.String("engine", "", "Agent engine backend (stream|api|fake)")
	model := fs.String("model", "", "Default model identifier")
	showHelp := fs.Bool("help", false, "Show help")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *showHelp {
		printUsage()
		return nil, nil
	}

	if *listen != "" {
		cfg.ListenAddr = *listen
	}
	if *engine != "" {
		switch *engine {
		case config.EngineStream, config.EngineAPI, config.EngineFake:
			cfg.Engine = *engine
		default:
			return nil, fmt.Errorf("invalid --engine %q (expected stream, api, or fake)", *engine)
		}
	}
	if *model != "" {
		cfg.Model = *model
	}

	return fs.Args(), nil
}

func printUsage() {
	fmt.Println(`banter - local bridge daemon between UI windows and coding agents

Usage:
  banter               Run the daemon (same as banter serve)
  banter serve         Run the daemon
  banter pair          Print a window attach token as QR code and URL
  banter tail          Attach to the daemon and print live events
  banter help          Show this help message
  banter version       Show version information

Environment Variables:
  BANTER_LISTEN_ADDR      Listen address (default: 127.0.0.1:48760)
  BANTER_HOME_DIR         State directory (default: ~/.banter)
  BANTER_ENGINE           Engine backend (stream|api|fake, default: stream)
  BANTER_AGENT_CMD        Agent SDK CLI command for the stream engine
  BANTER_MODEL            Default model identifier
  BANTER_PERMISSION_MODE  Default permission preset
  BANTER_LOG_LEVEL        Log level (trace|debug|info|warn|error)
  ANTHROPIC_API_KEY       API key for the api engine
  DEBUG                   Enable debug logging (true/1)

Flags:
  --listen             Listen address
  --engine             Engine backend (stream|api|fake)
  --model              Default model identifier

Examples:
  # Run the daemon with the fake engine for UI development
  banter --engine fake serve

  # Pair a window
  banter pair`)
}
