package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/labstack/gommon/log"

	"popextract/internal/api"
	"popextract/internal/config"
	"popextract/internal/engine"
	"popextract/internal/logging"
	"popextract/internal/models"
	"popextract/internal/output"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, nil)
	stop()
	os.Exit(code)
}

// run is main without the process globals. A nil logOut logs to the terminal.
func run(ctx context.Context, args []string, stdout, logOut io.Writer) int {
	serve := len(args) > 0 && args[0] == "serve"
	if serve {
		args = args[1:]
	}

	errOut := logOut
	if errOut == nil {
		errOut = os.Stderr
	}
	cfg, err := parseConfig(args, errOut)
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(errOut, "popextract:", err)
		}
		return exitUsage
	}

	logger := logging.New("popextract", cfg.LogLevel, logOut)
	if serve {
		err = runServer(ctx, cfg, logger)
	} else {
		err = runExtract(ctx, cfg, logger, stdout)
	}
	if err != nil {
		logger.Errorf("%v", err)
		return exitError
	}
	return exitOK
}

// newFlagSet declares one flag per config option; flagKey maps the names.
func newFlagSet(errOut io.Writer) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet("popextract", flag.ContinueOnError)
	fs.SetOutput(errOut)
	fs.Usage = func() {
		fmt.Fprintln(errOut, "usage: popextract [serve] [flags]")
		fs.PrintDefaults()
	}

	d := config.Defaults()
	cfgPath := fs.String("config", "", "JSON config file")
	fs.String("input", d.Input, "WPP CSV file (Latin-1); - for stdin")
	fs.String("country", d.Country, `country code to extract; "*" for all`)
	fs.Int("min-year", d.MinYear, "first year kept (inclusive)")
	fs.Int("max-year", d.MaxYear, "last year kept (inclusive)")
	fs.String("out", d.OutputDir, "output directory")
	fs.String("template", d.PathTemplate, "artifact path below -out")
	fs.String("age-key", d.AgeKey, "age bucket column: label|start")
	fs.String("grouping", d.Grouping, "country runs: adjacent|grouped")
	fs.Int("workers", d.Workers, "parallel writers in grouped mode")
	fs.String("formats", strings.Join(d.Formats, ","), "comma separated: json,arrow")
	fs.Bool("pretty", d.Pretty, "indent JSON artifacts")
	fs.Bool("manifest", d.Manifest, "write countries/index.json")
	fs.String("log-level", d.LogLevel, "debug|info|warn|error|off")
	fs.String("listen", d.Listen, "serve: listen address")
	fs.Float64("rate", d.RateLimit, "serve: requests per second per client; 0 disables")
	return fs, cfgPath
}

// parseConfig layers defaults, the JSON file, the environment and flags.
func parseConfig(args []string, errOut io.Writer) (config.Config, error) {
	fs, cfgPath := newFlagSet(errOut)
	d := config.Defaults()
	if err := fs.Parse(args); err != nil {
		return d, err
	}
	if fs.NArg() > 0 {
		return d, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	cfg := d
	var err error
	if *cfgPath != "" {
		if cfg, err = config.LoadFile(cfg, *cfgPath); err != nil {
			return cfg, err
		}
	}
	if cfg, err = config.ApplyEnv(cfg, os.LookupEnv); err != nil {
		return cfg, err
	}

	fs.Visit(func(f *flag.Flag) {
		if f.Name == "config" || err != nil {
			return
		}
		if err = cfg.Set(flagKey(f.Name), f.Value.String()); err != nil {
			err = fmt.Errorf("-%s: %w", f.Name, err)
		}
	})
	if err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// flagKey maps a flag name to its config option.
func flagKey(name string) string {
	switch name {
	case "out":
		return "output_dir"
	case "template":
		return "path_template"
	case "rate":
		return "rate_limit"
	}
	return strings.ReplaceAll(name, "-", "_")
}

// extract runs one pass over cfg.Input. extra sinks receive every flush after
// the file writers.
func extract(ctx context.Context, cfg config.Config, logger *log.Logger, extra ...engine.Sink) (engine.Summary, *output.Manifest, error) {
	layout, err := output.NewLayout(cfg.OutputDir, cfg.PathTemplate)
	if err != nil {
		return engine.Summary{}, nil, err
	}
	manifest := output.NewManifest()
	sinks := []engine.Sink{manifest}
	if cfg.Wants("json") {
		sinks = append(sinks, output.NewJSONWriter(layout, cfg.Pretty, manifest, logger))
	}
	if cfg.Wants("arrow") {
		sinks = append(sinks, output.NewArrowWriter(layout, manifest, logger))
	}
	sinks = append(sinks, extra...)

	src, err := engine.Open(cfg.Input)
	if err != nil {
		return engine.Summary{}, nil, err
	}
	defer src.Close()

	sum, err := engine.New(cfg.EngineOptions(), output.Multi(sinks...), logger).Process(ctx, src)
	if err != nil {
		return sum, manifest, err
	}
	if cfg.Manifest && sum.Flushes > 0 {
		if err := manifest.WriteFile(layout.IndexPath()); err != nil {
			return sum, manifest, fmt.Errorf("write manifest: %w", err)
		}
	}
	return sum, manifest, nil
}

func runExtract(ctx context.Context, cfg config.Config, logger *log.Logger, stdout io.Writer) error {
	t0 := time.Now()
	sum, _, err := extract(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if sum.Flushes == 0 {
		logger.Warnf("no rows matched country %q", cfg.Country)
	}

	report := models.RunReport{
		Rows:        sum.Rows,
		Matched:     sum.Matched,
		Accumulated: sum.Accumulated,
		Flushes:     sum.Flushes,
		Countries:   sum.Countries,
		Elapsed:     time.Since(t0).String(),
	}
	if report.Countries == nil {
		report.Countries = []string{}
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// runServer answers immediately and loads the data in the background;
// the API returns 503 until the extraction finishes.
func runServer(ctx context.Context, cfg config.Config, logger *log.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	h := api.NewHandler(nil)
	e := api.NewServer(h, logger, cfg.RateLimit, cfg.OutputDir)

	etlErr := make(chan error, 1)
	go func() {
		logger.Info("BACKGROUND: starting extraction")
		t0 := time.Now()
		mem := output.NewMemory()
		sum, manifest, err := extract(ctx, cfg, logger, mem)
		if err != nil {
			etlErr <- err
			cancel()
			return
		}
		h.SetData(&api.Dataset{Index: manifest.Entries(), Countries: mem.Snapshot()})
		logger.Infof("BACKGROUND: extraction complete in %v (%d countries); API is ready", time.Since(t0), len(sum.Countries))
	}()

	srvErr := make(chan error, 1)
	go func() {
		logger.Infof("listening on %s (data loading in background)", cfg.Listen)
		if err := e.Start(cfg.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
	}()

	select {
	case err := <-srvErr:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return err
	}
	select {
	case err := <-etlErr:
		return fmt.Errorf("extraction: %w", err)
	default:
		return nil
	}
}
