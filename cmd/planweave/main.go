// planweave executes declarative multi-step workflow plans.
//
// Usage:
//
//	planweave run <plan.yaml>             # execute a plan
//	planweave run --config cfg.yaml --input key=value <plan.yaml>
//	planweave validate <plan.yaml>        # compile a plan without running it
//	planweave version                     # show version information
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/planweave/planweave/agent"
	"github.com/planweave/planweave/config"
	"github.com/planweave/planweave/engine"
	"github.com/planweave/planweave/internal/metrics"
	"github.com/planweave/planweave/internal/telemetry"
	"github.com/planweave/planweave/llm/providers"
	"github.com/planweave/planweave/mcpclient"
	"github.com/planweave/planweave/orchestrator"
	"github.com/planweave/planweave/plan"
	"github.com/planweave/planweave/resultsink"
	"github.com/planweave/planweave/ui"
)

// Build-time injected.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		runPlan(os.Args[2:])
	case "validate":
		runValidate(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// inputFlags collects repeated --input key=value pairs.
type inputFlags map[string]any

func (f inputFlags) String() string { return "" }

func (f inputFlags) Set(value string) error {
	key, val, ok := strings.Cut(value, "=")
	if !ok {
		return fmt.Errorf("input must be key=value, got %q", value)
	}
	f[key] = val
	return nil
}

func runPlan(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	interactive := fs.Bool("interactive", false, "Offer the operator menu on step failure")
	inputs := make(inputFlags)
	fs.Var(inputs, "input", "Initial context entry (key=value, repeatable)")
	fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: planweave run [flags] <plan.yaml>")
		os.Exit(1)
	}

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	logger, err := cfg.Log.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting planweave",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	otelProviders, err := telemetry.Init(cfg.TelemetrySetup(), logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize telemetry: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelProviders.Shutdown(ctx); err != nil {
			logger.Warn("telemetry shutdown", zap.Error(err))
		}
	}()

	p, err := plan.Load(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid plan: %v\n", err)
		os.Exit(1)
	}

	sink, err := resultsink.New(cfg.SinkFactoryConfig())
	if err != nil {
		logger.Warn("result sink unavailable, persistence disabled", zap.Error(err))
		sink = nil
	} else {
		defer sink.Close()
	}

	client := mcpclient.NewClient(cfg.ServerConfig(), logger)
	factory := providers.NewFactory(cfg.ProviderConfig(), logger)
	collector := metrics.NewCollector("planweave", nil, logger)

	var front ui.Interface
	if *interactive || cfg.Engine.Interactive {
		front = ui.NewCLI(os.Stdin, os.Stdout)
	} else {
		front = ui.NewAuto(logger)
	}

	var engineOpts []engine.Option
	if cfg.Engine.EmptyResultSuccess {
		engineOpts = append(engineOpts, engine.WithEmptyResultSuccess())
	}

	runners := map[plan.Kind]engine.Runner{
		plan.KindAgent: agent.NewWorker(client, factory,
			agent.WithWorkerLogger(logger),
			agent.WithWorkerUI(front),
			agent.WithMaxLoops(cfg.Engine.MaxLoops)),
		plan.KindTool: agent.NewToolRunner(client, logger),
	}

	mgr := orchestrator.NewManager(p, client, factory,
		orchestrator.WithLogger(logger),
		orchestrator.WithUI(front),
		orchestrator.WithRunners(runners),
		orchestrator.WithSink(sink),
		orchestrator.WithMetrics(collector),
		orchestrator.WithMaxAttempts(cfg.Engine.MaxAttempts),
		orchestrator.WithEngineOptions(engineOpts...),
	)

	report, err := mgr.Run(context.Background(), inputs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Run failed: %v\n", err)
	}
	if report != nil {
		fmt.Printf("run %s finished: %s (%d steps, %d failed attempts)\n",
			report.RunID, report.Status, len(report.Steps), report.Attempts)
		if report.Status != plan.StateSuccess {
			os.Exit(1)
		}
		return
	}
	os.Exit(1)
}

func runValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: planweave validate <plan.yaml>")
		os.Exit(1)
	}

	p, err := plan.Load(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid plan: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("plan %q: %d steps, initial %q\n", p.Name, len(p.Order()), p.Initial())
	for _, name := range p.Order() {
		step, _ := p.Step(name)
		fmt.Printf("  %-20s %s\n", name, step.Kind())
	}
}

func printVersion() {
	fmt.Printf("planweave %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`planweave - declarative workflow engine

Usage:
  planweave run [flags] <plan.yaml>       Execute a plan
  planweave validate <plan.yaml>          Compile and check a plan
  planweave version                       Show version information

Run flags:
  --config <file>       Config file (YAML); PLANWEAVE_* env vars override
  --interactive         Offer the operator menu on step failure
  --input key=value     Seed the run context (repeatable)`)
}
