package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/kbukum/sdtmforge/bootstrap"
	"github.com/kbukum/sdtmforge/config"
	"github.com/kbukum/sdtmforge/engine"
	"github.com/kbukum/sdtmforge/gate"
	"github.com/kbukum/sdtmforge/version"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		runPipeline(os.Args[2:], false)
	case "resume":
		runPipeline(os.Args[2:], true)
	case "decide":
		runDecide(os.Args[2:])
	case "version":
		fmt.Printf("sdtmforge %s\n", version.GetShortVersion())
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprint(os.Stderr, `usage: sdtmforge <command> [options]

commands:
  run      execute a standardization run
  resume   re-enter a run suspended at its checkpoint
  decide   record a reviewer decision for a file-gated run
  version  print the build version

Configuration is read from sdtmforge.yml, a .env file, and SDTMFORGE_*
environment variables; flags override all three.
`)
}

func runPipeline(args []string, resume bool) {
	name := "run"
	if resume {
		name = "resume"
	}
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	configFile := fs.String("config", "", "config file path")
	envFile := fs.String("env", "", ".env file path")
	source := fs.String("source", "", "extract directory or postgres:// DSN")
	output := fs.String("output", "", "artifact output directory")
	runID := fs.String("run-id", "", "run identifier (default: random)")
	domains := fs.String("domains", "", "comma-separated domain codes (default: all)")
	concurrency := fs.Int("concurrency", 0, "fanned stage parallelism")
	stateDir := fs.String("state-dir", "", "checkpoint state directory")
	_ = fs.Parse(args)

	var opts []config.LoaderOption
	if *configFile != "" {
		opts = append(opts, config.WithConfigFile(*configFile))
	}
	if *envFile != "" {
		opts = append(opts, config.WithEnvFile(*envFile))
	}
	cfg, err := config.Load(opts...)
	if err != nil {
		fatal(err)
	}

	if *source != "" {
		cfg.Source = *source
	}
	if *output != "" {
		cfg.Output = *output
	}
	if *runID != "" {
		cfg.RunID = *runID
	}
	if *domains != "" {
		cfg.Domains = splitCSV(*domains)
	}
	if *concurrency > 0 {
		cfg.Concurrency = *concurrency
	}
	if *stateDir != "" {
		cfg.Checkpoint.StateDir = *stateDir
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.Build(ctx, cfg)
	if err != nil {
		fatal(err)
	}
	defer app.Close(context.Background())

	var res engine.Result
	if resume {
		res, _, err = app.Resume(ctx)
	} else {
		res, _, err = app.Run(ctx)
	}
	if err != nil {
		fatal(err)
	}

	fmt.Printf("run %s: %s (%s)\n", cfg.RunID, res.Terminal, res.Duration.Round(time.Millisecond))
	if res.Err != nil {
		os.Exit(1)
	}
}

func runDecide(args []string) {
	fs := flag.NewFlagSet("decide", flag.ExitOnError)
	stateDir := fs.String("state-dir", "", "checkpoint state directory of the suspended run")
	decision := fs.String("decision", "", "approved or rejected")
	note := fs.String("note", "", "reviewer note")
	_ = fs.Parse(args)

	if *stateDir == "" || *decision == "" {
		fmt.Fprintln(os.Stderr, "usage: sdtmforge decide -state-dir <dir> -decision <approved|rejected> [-note <text>]")
		os.Exit(1)
	}

	d, err := gate.ParseDecision(*decision)
	if err != nil {
		fatal(err)
	}

	path, err := gate.WriteDecisionFile(*stateDir, gate.Decision{Decision: d, Note: *note})
	if err != nil {
		fatal(err)
	}
	fmt.Printf("decision %s written to %s\n", d, path)
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, strings.ToUpper(p))
		}
	}
	return out
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "sdtmforge: %v\n", err)
	os.Exit(1)
}
