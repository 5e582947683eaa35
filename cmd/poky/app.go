package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/Kishta47/poky-app"
	"github.com/Kishta47/poky-app/internal/config"
	"github.com/Kishta47/poky-app/storage/redis"
	"github.com/Kishta47/poky-app/storage/sqlite"
	"github.com/Kishta47/poky-app/storage/valkey"
)

type globalFlags struct {
	configPath string
	output     string
	logLevel   string
	metrics    bool
}

// app wires configuration, logging, client, store and persistence for one
// command invocation.
type app struct {
	cfg      *config.Config
	log      *logrus.Logger
	registry *prometheus.Registry
	client   *poky.Client
	store    *poky.Store
	catalog  *poky.Catalog
	storage  poky.Storage
	bridge   *poky.Bridge

	out     io.Writer
	format  string
	metrics bool
	persist bool
}

func newApp(ctx context.Context, flags *globalFlags, out io.Writer) (*app, error) {
	format, err := parseFormat(flags.output)
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	if flags.logLevel != "" {
		cfg.LogLevel = flags.logLevel
	}

	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	log.SetLevel(level)
	build := poky.GetVersionInfo()
	log.WithFields(logrus.Fields{"version": build["version"], "commit": build["commit"]}).Debug("starting")
	logger := poky.NewLogrusLogger(log)

	registry := prometheus.NewRegistry()
	metrics := poky.NewMetricsCollectorWithRegistry(registry)

	options := []poky.Option{
		poky.WithBaseURL(cfg.BaseAPIURL),
		poky.WithTimeout(cfg.Timeout),
		poky.WithLogger(logger),
		poky.WithMetricsCollector(metrics),
	}
	if cfg.Debug || level >= logrus.DebugLevel {
		options = append(options, poky.WithDebug())
	}
	if cfg.RateLimit > 0 {
		options = append(options, poky.WithRateLimit(cfg.RateLimit, time.Second/time.Duration(cfg.RateLimit)))
	}

	client := poky.New(options...)
	if !client.IsValid() {
		return nil, client.ValidationError()
	}

	store := poky.NewStore(poky.WithStoreLogger(logger.With("component", "store")), poky.WithStoreMetrics(metrics))

	a := &app{
		cfg:      cfg,
		log:      log,
		registry: registry,
		client:   client,
		store:    store,
		catalog:  poky.NewCatalog(client, store),
		out:      out,
		format:   format,
		metrics:  flags.metrics,
		persist:  true,
	}

	storage, err := openStorage(ctx, cfg, logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	if storage != nil {
		a.storage = storage
		a.bridge = poky.NewBridge(store, storage, poky.WithBridgeLogger(logger))
		n, err := a.bridge.Restore(ctx)
		if err != nil {
			// a broken snapshot only costs a cold cache
			log.WithError(err).Warn("Ignoring unreadable cache snapshot")
		} else {
			log.WithField("entries", n).Debug("Restored cache snapshot")
		}
	}

	return a, nil
}

func openStorage(ctx context.Context, cfg *config.Config, logger poky.Logger) (poky.Storage, error) {
	switch cfg.Storage.Driver {
	case config.DriverSQLite:
		return sqlite.Open(cfg.Storage.Path)
	case config.DriverRedis:
		return redis.New(ctx, redis.Config{
			Addr:     cfg.Storage.Addr,
			DB:       cfg.Storage.DB,
			Password: cfg.Storage.Password,
		}, logger)
	case config.DriverValkey:
		return valkey.New(valkey.Config{
			Address:  cfg.Storage.Addr,
			Password: cfg.Storage.Password,
			DB:       cfg.Storage.DB,
		})
	default:
		return nil, nil
	}
}

// Close persists the store (unless disabled) and releases every resource.
func (a *app) Close(ctx context.Context) error {
	var firstErr error

	if a.bridge != nil && a.persist {
		if n, err := a.bridge.Persist(ctx); err != nil {
			firstErr = err
		} else {
			a.log.WithField("entries", n).Debug("Persisted cache snapshot")
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.store.Close()

	if a.metrics {
		a.printMetrics(os.Stderr)
	}
	return firstErr
}

func (a *app) printMetrics(w io.Writer) {
	families, err := a.registry.Gather()
	if err != nil {
		a.log.WithError(err).Warn("Gathering metrics failed")
		return
	}

	lines := make([]string, 0, len(families))
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			var value float64
			switch {
			case m.GetCounter() != nil:
				value = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				value = m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				value = float64(m.GetHistogram().GetSampleCount())
			default:
				continue
			}
			labels := ""
			for _, lp := range m.GetLabel() {
				labels += fmt.Sprintf(" %s=%s", lp.GetName(), lp.GetValue())
			}
			lines = append(lines, fmt.Sprintf("%s%s %g", mf.GetName(), labels, value))
		}
	}
	sort.Strings(lines)
	for _, line := range lines {
		fmt.Fprintln(w, line)
	}
}

// run builds the app, calls fn and always closes the app.
func run(ctx context.Context, flags *globalFlags, out io.Writer, fn func(a *app) error) (err error) {
	a, err := newApp(ctx, flags, out)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if closeErr := a.Close(closeCtx); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	return fn(a)
}
