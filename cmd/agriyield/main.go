// Command agriyield manages farmers, land plots and prediction history in the
// configured record store.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"agriyield/internal/config"
	"agriyield/internal/core"
	"agriyield/internal/persistence"
	"agriyield/internal/platform/logger"
	"agriyield/pkg/domain"
)

var (
	exitFunc  = os.Exit
	openStore = persistence.Open
)

const usage = `usage: agriyield <command> [arguments]

commands:
  init                                     seed the store when it is empty
  farmers list [-json]
  farmers add <name>
  farmers delete <id>
  plots list [-farmer id] [-json]
  plots add -farmer id -soil type -ring file
  plots show <id>
  history list [-land id] [-json]
  history record -input file -result file
  history clear
  measure [-payload] <file>                measure a GeoJSON ring
  labels                                   history with farmer and land labels
`

func main() {
	code := cli(os.Args[1:], os.Stdout, os.Stderr)
	exitFunc(code)
}

func cli(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		_, _ = fmt.Fprint(stderr, usage)
		return 2
	}
	name, rest := args[0], args[1:]
	if name == "measure" {
		return report(stderr, runMeasure(rest, stdout))
	}
	if _, ok := commands[name]; !ok {
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n%s", name, usage)
		return 2
	}

	ctx := context.Background()
	a, err := openApp(ctx, stderr)
	if err != nil {
		return report(stderr, err)
	}
	runErr := commands[name](ctx, a, rest, stdout, stderr)
	closeErr := a.Close(ctx)
	if runErr != nil {
		return report(stderr, runErr)
	}
	return report(stderr, closeErr)
}

var errUsage = errors.New("invalid usage")

func report(stderr io.Writer, err error) int {
	if err == nil {
		return 0
	}
	if errors.Is(err, errUsage) {
		_, _ = fmt.Fprintf(stderr, "%v\n%s", err, usage)
		return 2
	}
	_, _ = fmt.Fprintf(stderr, "agriyield: %v\n", err)
	return 1
}

type app struct {
	svc       *core.Service
	log       *logger.Logger
	kv        domain.KeyValueStore
	telemetry *telemetry
	seeded    bool // the default dataset was written while opening
}

func openApp(ctx context.Context, stderr io.Writer) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.Log.Mode, cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	opts := []core.Option{core.WithLogger(log), core.WithLocation(loc)}
	if cfg.SeedFile != "" {
		seed, err := core.LoadSeed(cfg.SeedFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, core.WithSeed(seed))
	}
	tel, err := newTelemetry(cfg, stderr)
	if err != nil {
		return nil, err
	}
	opts = append(opts,
		core.WithMetricsRecorder(core.NewPrometheusMetricsRecorder(tel.registry)),
		core.WithTracer(core.NewOTelTracer(tel.provider)),
	)
	kv, err := openStore(ctx, cfg.Storage)
	if err != nil {
		_ = tel.Close(ctx)
		return nil, fmt.Errorf("open %s store: %w", cfg.Storage.Driver, err)
	}
	log.Debug("store opened", "driver", cfg.Storage.Driver)
	a := &app{
		svc:       core.NewService(kv, opts...),
		log:       log,
		kv:        kv,
		telemetry: tel,
	}
	// A fresh store starts out with the default dataset.
	if a.seeded, err = a.svc.Initialize(ctx); err != nil {
		_ = a.Close(ctx)
		return nil, fmt.Errorf("initialize store: %w", err)
	}
	return a, nil
}

func (a *app) Close(ctx context.Context) error {
	err := errors.Join(a.telemetry.Close(ctx), a.kv.Close())
	a.log.Sync()
	return err
}
