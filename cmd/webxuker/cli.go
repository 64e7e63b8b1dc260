package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/alecthomas/kong"
)

// CLI holds the command line flags.
type CLI struct {
	Cfg       string `name:"cfg" required:"" type:"path" help:"Path to the configuration file (JSON or YAML)"`
	DryRun    bool   `name:"dry-run" help:"Render descriptors and log commands without executing them"`
	HistoryDB string `name:"history-db" default:"./data/webxuker.db" help:"SQLite database for deployment history (empty disables)"`
	Docker    bool   `name:"docker" default:"true" negatable:"" help:"Query the Docker daemon for container status"`
	Trace     bool   `name:"trace" help:"Export OpenTelemetry spans to stderr"`
	LogLevel  string `name:"log-level" default:"info" enum:"debug,info,warn,error" help:"Minimum log level"`
}

func parseCLI(args []string) (*CLI, error) {
	var cli CLI
	parser, err := kong.New(&cli,
		kong.Name("webxuker"),
		kong.Description("Deploys docker-compose stages when a webhook is received."),
	)
	if err != nil {
		return nil, err
	}
	if _, err := parser.Parse(args); err != nil {
		return nil, err
	}
	return &cli, nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}
