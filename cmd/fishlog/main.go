// Command fishlog is the device-side entry point for recording catches: it
// signs fishers and researchers in, records catches offline, reconciles them
// with the remote collection and prints the history and monthly statistics.
package main

import (
	"context"
	"errors"
	"expvar"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"fishlog/internal/config"
	"fishlog/internal/core"
)

var (
	exitFunc   = os.Exit
	loadConfig = func() (*config.Config, error) { return config.Load() }
	openStores = core.OpenStores
)

// env carries what every subcommand needs.
type env struct {
	app      *core.App
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	stdout   io.Writer
	stderr   io.Writer
}

type command struct {
	summary string
	run     func(ctx context.Context, rt *env, args []string) error
}

var commands = map[string]command{
	"login":         {"sign in by phone number", runLogin},
	"logout":        {"sign out and clear the session", runLogout},
	"whoami":        {"show the signed-in identity and sync status", runWhoami},
	"fishers":       {"list active fishers (researchers)", runFishers},
	"select-fisher": {"act for a fisher (researchers)", runSelectFisher},
	"record":        {"commit a catch record", runRecord},
	"sync":          {"replace the local history with the remote one", runSync},
	"history":       {"list visible catch records", runHistory},
	"stats":         {"show the three most recent months", runStats},
	"species":       {"list fish species", runSpecies},
	"spots":         {"list fishing spots", runSpots},
	"refresh":       {"reload reference lists", runRefresh},
	"agent":         {"run scheduled sync and refresh with /metrics", runAgent},
}

// errUsage marks argument errors; they exit with status 2.
var errUsage = errors.New("usage")

func main() {
	code := cli(os.Args[1:], os.Stdout, os.Stderr)
	exitFunc(code)
}

func cli(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "help" {
		usage(stderr)
		return 2
	}
	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n", args[0])
		usage(stderr)
		return 2
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(stderr, "Configuration failed: %v\n", err)
		return 1
	}
	logger := cfg.NewLogger(stderr)

	ctx := context.Background()
	stores, err := openStores(ctx, cfg.Storage)
	if err != nil {
		fmt.Fprintf(stderr, "Opening storage failed: %v\n", err)
		return 1
	}
	defer func() {
		if err := stores.Close(); err != nil {
			logger.Warn("closing storage", "error", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom, err := core.NewPrometheusMetricsRecorder(registry)
	if err != nil {
		fmt.Fprintf(stderr, "Registering metrics failed: %v\n", err)
		return 1
	}
	var metrics core.MetricsRecorder = prom
	if cfg.ExpvarMetrics {
		metrics = core.MultiMetricsRecorder{prom, core.NewExpvarMetricsRecorder(expvarName())}
	}
	opts := []core.Option{
		core.WithLogger(logger),
		core.WithMetricsRecorder(metrics),
		core.WithDisplayZone(cfg.DisplayZone),
	}
	if cfg.TraceFile != "" {
		f, err := os.OpenFile(cfg.TraceFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(stderr, "Opening trace file failed: %v\n", err)
			return 1
		}
		defer f.Close()
		opts = append(opts, core.WithTracer(core.NewJSONTracer(f)))
	}

	app := core.NewApp(stores.Local, stores.Remote, stores.Photos, opts...)
	defer app.Close()
	app.Start(ctx)

	rt := &env{app: app, cfg: cfg, logger: logger, registry: registry, stdout: stdout, stderr: stderr}
	if err := cmd.run(ctx, rt, args[1:]); err != nil {
		if errors.Is(err, errUsage) || errors.Is(err, flag.ErrHelp) {
			return 2
		}
		fmt.Fprintf(stderr, "fishlog %s: %v\n", args[0], err)
		return 1
	}
	return 0
}

// expvarName is "fishlog" unless that name is already published in this
// process, in which case the recorder picks a unique one.
func expvarName() string {
	if expvar.Get("fishlog") != nil {
		return ""
	}
	return "fishlog"
}

func usage(w io.Writer) {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	var b strings.Builder
	b.WriteString("usage: fishlog <command> [flags]\n\ncommands:\n")
	for _, name := range names {
		fmt.Fprintf(&b, "  %-14s %s\n", name, commands[name].summary)
	}
	fmt.Fprint(w, b.String())
}

// newFlagSet returns a flag set that reports to the command's stderr.
func newFlagSet(rt *env, name string) *flag.FlagSet {
	fs := flag.NewFlagSet("fishlog "+name, flag.ContinueOnError)
	fs.SetOutput(rt.stderr)
	return fs
}

func parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(fs.Output(), "unexpected arguments: %s\n", strings.Join(fs.Args(), " "))
		return errUsage
	}
	return nil
}
