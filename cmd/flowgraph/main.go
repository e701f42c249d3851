package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/deepnoodle-ai/flowgraph"
	"github.com/deepnoodle-ai/flowgraph/executors"
	"github.com/deepnoodle-ai/flowgraph/internal/xjson"
	"github.com/deepnoodle-ai/flowgraph/metrics"
	"github.com/deepnoodle-ai/flowgraph/tools"
)

// Config holds the settings shared by every command.
type Config struct {
	WorkflowFile string
	WorkflowDir  string
	Inputs       map[string]any
	Store        string
	Target       string
	EngineConfig string
	SourcesDir   string
	WorkDir      string
	Model        string
	Owner        string
	MetricsAddr  string
	EventLogDir  string
	ShowEvents   bool
	Verbose      bool
	JSON         bool
	NoInput      bool

	ExecutionID   string
	CorrelationID string
	Response      string
	Statuses      string
	Limit         int
}

func usage() {
	fmt.Fprintf(os.Stderr, `flowgraph - run agentic workflows defined in YAML

Usage:
  %[1]s run     -file <workflow.yaml> [-input key=value ...]
  %[1]s resume  -id <execution> [-correlation <id> -response <json>]
  %[1]s cancel  -id <execution>
  %[1]s show    -id <execution> [-events]
  %[1]s list    [-status paused,failed] [-limit 20]
  %[1]s validate -file <workflow.yaml>

Executions are persisted with -store (memory, file, badger, sqlite, postgres,
redis) so paused executions can be resumed by a later invocation. Every
command first marks executions interrupted by a crash as failed.

Run '%[1]s <command> -h' for the options of a command.
`, os.Args[0])
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	command := os.Args[1]
	if command == "-h" || command == "--help" || command == "help" {
		usage()
		return
	}
	cfg, err := parseFlags(command, os.Args[2:])
	if err != nil {
		color.Red("Error: %v", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := runCommand(ctx, command, cfg); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func parseFlags(command string, args []string) (*Config, error) {
	cfg := &Config{Inputs: map[string]any{}}
	fs := flag.NewFlagSet(command, flag.ContinueOnError)

	fs.StringVar(&cfg.WorkflowFile, "file", "", "Path to a YAML workflow definition")
	fs.StringVar(&cfg.WorkflowFile, "f", "", "Path to a YAML workflow definition (shorthand)")
	fs.StringVar(&cfg.WorkflowDir, "workflows", "", "Directory of YAML workflow definitions")
	fs.StringVar(&cfg.Store, "store", "file", "Persistence backend: memory, file, badger, sqlite, postgres, redis")
	fs.StringVar(&cfg.Target, "target", "", "Store location: directory, database file, DSN or redis address")
	fs.StringVar(&cfg.EngineConfig, "config", "", "YAML engine configuration file")
	fs.BoolVar(&cfg.Verbose, "verbose", false, "Enable verbose logging")
	fs.BoolVar(&cfg.Verbose, "v", false, "Enable verbose logging (shorthand)")
	fs.BoolVar(&cfg.JSON, "json", false, "Print events and results as JSON")
	fs.StringVar(&cfg.EventLogDir, "event-log", "", "Directory for per-execution event logs (defaults to <data dir>/events)")

	switch command {
	case "run", "resume":
		var inputs stringSlice
		fs.Var(&inputs, "input", "Input in format key=value; values are parsed as JSON when possible")
		fs.Var(&inputs, "i", "Input in format key=value (shorthand)")
		fs.StringVar(&cfg.SourcesDir, "sources", "", "Directory holding knowledge sources as <id>.md or <id>.txt")
		fs.StringVar(&cfg.WorkDir, "workdir", "", "Directory the file tool may access")
		fs.StringVar(&cfg.Model, "model", "", "Model for agent nodes that do not set one")
		fs.StringVar(&cfg.Owner, "owner", "", "Owner recorded on the execution")
		fs.StringVar(&cfg.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
		fs.BoolVar(&cfg.NoInput, "no-input", false, "Do not prompt at human checkpoints; leave the execution paused")
		fs.StringVar(&cfg.ExecutionID, "id", "", "Execution id")
		fs.StringVar(&cfg.CorrelationID, "correlation", "", "Correlation id of the pending checkpoint")
		fs.StringVar(&cfg.Response, "response", "", "Human response as a JSON object")
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		for _, input := range inputs {
			key, value, ok := strings.Cut(input, "=")
			if !ok {
				return nil, fmt.Errorf("invalid input format %q, use key=value", input)
			}
			var parsed any
			if err := xjson.Unmarshal([]byte(value), &parsed); err != nil {
				parsed = value
			}
			cfg.Inputs[key] = parsed
		}
		return cfg, nil
	case "cancel":
		fs.StringVar(&cfg.ExecutionID, "id", "", "Execution id")
	case "show":
		fs.StringVar(&cfg.ExecutionID, "id", "", "Execution id")
		fs.BoolVar(&cfg.ShowEvents, "events", false, "Also print the logged events of the execution")
	case "list":
		fs.StringVar(&cfg.Statuses, "status", "", "Comma separated statuses to include")
		fs.StringVar(&cfg.Owner, "owner", "", "Only executions of this owner")
		fs.IntVar(&cfg.Limit, "limit", 20, "Maximum number of executions to print")
	case "validate":
	default:
		usage()
		return nil, fmt.Errorf("unknown command %q", command)
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return cfg, nil
}

// stringSlice collects a repeated flag.
type stringSlice []string

func (s *stringSlice) String() string {
	return strings.Join(*s, ", ")
}

func (s *stringSlice) Set(value string) error {
	*s = append(*s, value)
	return nil
}

func runCommand(ctx context.Context, command string, cfg *Config) error {
	if command == "validate" {
		return validate(cfg)
	}

	level := slog.LevelWarn
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := flowgraph.NewLogger(level)

	workflows, err := loadWorkflows(cfg)
	if err != nil {
		return err
	}
	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	engineCfg := flowgraph.DefaultEngineConfig()
	if cfg.EngineConfig != "" {
		if engineCfg, err = flowgraph.LoadEngineConfig(cfg.EngineConfig); err != nil {
			return err
		}
	}

	var sinks []flowgraph.EventSink
	var eventLog *flowgraph.EventLog
	if dir := eventLogDir(cfg); dir != "" {
		eventLog = flowgraph.NewEventLog(dir, logger)
		sinks = append(sinks, eventLog)
	}
	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		sinks = append(sinks, metrics.NewSink("flowgraph", reg))
		go serveMetrics(cfg.MetricsAddr, reg, logger)
	}

	registry := tools.NewDefaultRegistry(tools.Options{WorkDir: cfg.WorkDir})
	engine, err := flowgraph.NewEngine(flowgraph.EngineOptions{
		Workflows: workflows,
		Executors: executors.Defaults(executors.Options{LLM: executors.EchoClient{}, Tools: registry}),
		Store:     store,
		Sources:   sourceProvider(cfg.SourcesDir),
		Sinks:     sinks,
		Logger:    logger,
		Config:    engineCfg,
	})
	if err != nil {
		return err
	}
	defer engine.Close()

	interrupted, err := engine.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recover executions: %w", err)
	}
	for _, id := range interrupted {
		color.Yellow("Marked interrupted execution %s as failed", id)
	}

	cli := &app{engine: engine, events: eventLog, cfg: cfg, printer: newPrinter(cfg.JSON, cfg.Verbose)}
	switch command {
	case "run":
		return cli.run(ctx)
	case "resume":
		return cli.resume(ctx)
	case "cancel":
		return cli.cancel(ctx)
	case "show":
		return cli.show(ctx)
	case "list":
		return cli.list(ctx)
	}
	return fmt.Errorf("unknown command %q", command)
}

func validate(cfg *Config) error {
	if cfg.WorkflowFile == "" {
		return errors.New("-file is required")
	}
	wf, err := flowgraph.LoadFile(cfg.WorkflowFile)
	if err != nil {
		var fe *flowgraph.Error
		if errors.As(err, &fe) {
			if problems, ok := fe.Details.([]string); ok {
				color.Red("Workflow %s is invalid:", cfg.WorkflowFile)
				for _, p := range problems {
					fmt.Printf("  - %s\n", p)
				}
				return errors.New("validation failed")
			}
		}
		return err
	}
	color.Green("Workflow %s is valid (%d nodes, %d edges)", wf.ID(), len(wf.Nodes()), len(wf.Edges()))
	return nil
}

func loadWorkflows(cfg *Config) (*flowgraph.WorkflowSet, error) {
	set := flowgraph.NewWorkflowSet()
	if cfg.WorkflowDir != "" {
		loaded, err := flowgraph.LoadDir(cfg.WorkflowDir)
		if err != nil {
			return nil, err
		}
		set = loaded
	}
	if cfg.WorkflowFile != "" {
		wf, err := flowgraph.LoadFile(cfg.WorkflowFile)
		if err != nil {
			return nil, fmt.Errorf("load workflow: %w", err)
		}
		set.Add(wf)
	}
	return set, nil
}

func eventLogDir(cfg *Config) string {
	if cfg.EventLogDir != "" {
		return cfg.EventLogDir
	}
	if cfg.Store == "memory" {
		return ""
	}
	return filepath.Join(defaultDataDir(), "events")
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server stopped", "error", err)
	}
}

func sourceProvider(dir string) flowgraph.SourceProvider {
	if dir == "" {
		return nil
	}
	return flowgraph.SourceProviderFunc(func(ctx context.Context, id string) (string, error) {
		root, err := os.OpenRoot(dir)
		if err != nil {
			return "", err
		}
		defer root.Close()
		for _, ext := range []string{".md", ".txt", ""} {
			data, err := root.ReadFile(id + ext)
			if err == nil {
				return string(data), nil
			}
		}
		return "", flowgraph.Errorf(flowgraph.CodeSourceNotFound, "source %q not found in %s", id, dir)
	})
}
