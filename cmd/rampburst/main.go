package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/timzifer/rampburst/config"
	"github.com/timzifer/rampburst/internal/logging"
	"github.com/timzifer/rampburst/processor"
	"github.com/timzifer/rampburst/service"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "Path to configuration file (.yaml or .cue)")
	healthcheck := flag.Bool("healthcheck", false, "Run a health check and exit")
	configCheck := flag.Bool("config-check", false, "Validate configuration, print the predicted tick counts and exit")
	flag.Parse()

	if *healthcheck {
		if err := executeHealthCheck(*cfgPath); err != nil {
			fmt.Fprintf(os.Stderr, "health check failed: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	if *configCheck {
		os.Exit(executeConfigCheck(os.Stdout, cfg))
	}

	logger, cleanup, err := logging.Setup(cfg.Logging)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to setup logger")
	}
	defer cleanup()
	log.Logger = logger

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	proc, err := processor.New(ctx,
		processor.WithConfig(cfg),
		processor.WithConfigPath(*cfgPath, nil),
		processor.WithLogger(logger),
		processor.WithSink(service.LogSink{Logger: logging.Component(logger, "samples")}),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create processor")
	}
	defer proc.Close()

	if err := proc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("processor stopped with error")
	}
}

func executeHealthCheck(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	return service.Validate(cfg)
}

func executeConfigCheck(w io.Writer, cfg *config.Config) int {
	if err := service.Validate(cfg); err != nil {
		fmt.Fprintf(w, "configuration invalid: %v\n", err)
		return 1
	}

	widths := cfg.Widths()
	fmt.Fprintf(w, "Sample period: %d raw ticks\n", cfg.SamplePeriod())
	fmt.Fprintf(w, "Register widths: ramp %d, sample %d, cycle %d bits\n", widths.Ramp, widths.Sample, widths.Cycle)
	if len(cfg.Jobs) == 0 {
		fmt.Fprintln(w, "No jobs configured.")
		return 0
	}
	fmt.Fprintln(w)

	for _, job := range cfg.Jobs {
		prog, err := cfg.Program(job)
		if err != nil {
			fmt.Fprintf(w, "configuration invalid: %v\n", err)
			return 1
		}
		fmt.Fprintf(w, "Job %q\n", job.ID)
		if job.Source.File != "" {
			fmt.Fprintf(w, "  Module: %s\n", job.Source.File)
		}
		fmt.Fprintf(w, "  Ramp: %d -> %d (%d values)\n", prog.RampStart, prog.RampEnd, prog.RampSteps())
		fmt.Fprintf(w, "  Durations: pre %d, step %d, post %d\n", prog.PreDuration, prog.StepDuration, prog.PostDuration)
		fmt.Fprintf(w, "  Repetitions: %d\n", prog.Repetitions())
		fmt.Fprintf(w, "  Sample ticks: %d\n", prog.SampleTicks())
		fmt.Fprintf(w, "  Logical ticks: %d\n", prog.LogicalTicks())
		if guard := strings.TrimSpace(job.When); guard != "" {
			fmt.Fprintf(w, "  Guard: %s\n", guard)
		}
		if job.Repeat {
			fmt.Fprintln(w, "  Repeat: yes")
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w, "Configuration check completed successfully.")
	return 0
}
