package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron"

	"lakehouse/internal/config"
	"lakehouse/internal/metrics"
	"lakehouse/internal/metrics/prompush"
)

// main is the entry point for the lakehouse binary. It loads the config,
// optionally initializes a metrics backend, and runs the pipeline either
// once or on a fixed schedule.
func main() {
	var (
		cfgPath  string
		once     bool
		validate bool
	)

	flag.StringVar(&cfgPath, "config", "configs/lakehouse.json", "config JSON path")
	flag.BoolVar(&once, "once", false, "run a single cycle and exit, ignoring runtime.interval_seconds")
	interval := flag.Int("interval", 0, "override runtime.interval_seconds (0 keeps the config value)")
	flag.BoolVar(&validate, "validate", false, "validate the configuration and exit")
	verbose := flag.Bool("v", false, "enable verbose logs")

	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fatalf("%v", err)
	}
	if *interval > 0 {
		cfg.Runtime.IntervalSeconds = *interval
	}

	issues := config.Validate(cfg)
	hasError := false
	for _, iss := range issues {
		fmt.Fprintf(os.Stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
		if iss.Severity == config.SeverityError {
			hasError = true
		}
	}
	if hasError {
		log.Printf("Configuration is invalid: %v", cfgPath)
		os.Exit(1)
	}
	if validate {
		log.Printf("Configuration is valid: %v", cfgPath)
		os.Exit(0)
	}

	// Metrics backend: config → env → disabled.
	gwURL := cfg.Metrics.PushgatewayURL
	if gwURL == "" {
		gwURL = os.Getenv("PUSHGATEWAY_URL")
	}
	if gwURL != "" {
		b, err := prompush.NewBackend(cfg.Metrics.Job, gwURL)
		if err != nil {
			log.Printf("metrics: failed to init prom push backend: %v; using nop", err)
		} else {
			log.Printf("metrics: url=%v job=%v", gwURL, cfg.Metrics.Job)
			metrics.SetBackend(b)
		}
	} else if *verbose {
		log.Printf("metrics: disabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, cleanup, err := buildPipeline(ctx, cfg)
	if err != nil {
		fatalf("%v", err)
	}
	defer cleanup()

	runOnce := func() {
		rep, err := p.Run(ctx)
		if err != nil {
			log.Printf("run failed: %v", err)
			return
		}
		if *verbose {
			if b, err := json.MarshalIndent(rep, "", "  "); err == nil {
				fmt.Println(string(b))
			}
		}
	}

	if once || cfg.Runtime.IntervalSeconds <= 0 {
		start := time.Now()
		rep, err := p.Run(ctx)
		if err != nil {
			log.Fatalf("%v", err)
		}
		if b, err := json.MarshalIndent(rep, "", "  "); err == nil {
			fmt.Println(string(b))
		}
		if rep.Failed() {
			os.Exit(1)
		}
		if *verbose {
			log.Printf("completed in %s", time.Since(start).Truncate(time.Millisecond))
		}
		return
	}

	// Scheduled mode. SingletonMode keeps a slow run from overlapping the
	// next tick; the first run fires immediately.
	s := gocron.NewScheduler(time.UTC)
	s.SingletonMode()
	if _, err := s.Every(cfg.Runtime.IntervalSeconds).Seconds().StartImmediately().Do(runOnce); err != nil {
		fatalf("schedule: %v", err)
	}
	s.StartAsync()
	log.Printf("scheduled every %ds; waiting for interrupt", cfg.Runtime.IntervalSeconds)

	<-ctx.Done()
	s.Stop()
	log.Printf("shutting down")
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
