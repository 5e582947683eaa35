package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/Kishta47/poky-app"
)

func newWarmCmd(flags *globalFlags) *cobra.Command {
	var (
		pages       int
		limit       int
		interval    time.Duration
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "warm",
		Short: "Keep the first catalog pages cached until interrupted",
		Long: `warm subscribes to the first catalog pages and re-subscribes every
interval, so stale pages are revalidated in the background. Commits are
persisted as they happen. Metrics are served on --metrics-addr when set.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if pages <= 0 {
				return fmt.Errorf("--pages must be positive, got %d", pages)
			}
			if interval <= 0 {
				return fmt.Errorf("--interval must be positive, got %v", interval)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return run(ctx, flags, cmd.OutOrStdout(), func(a *app) error {
				return a.warm(ctx, pages, limit, interval, metricsAddr)
			})
		},
	}

	cmd.Flags().IntVar(&pages, "pages", 3, "number of pages to keep warm")
	cmd.Flags().IntVarP(&limit, "limit", "l", poky.DefaultPageSize, "page size")
	cmd.Flags().DurationVar(&interval, "interval", time.Minute, "how often to re-subscribe")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	return cmd
}

func (a *app) warm(ctx context.Context, pages, limit int, interval time.Duration, metricsAddr string) error {
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.WithError(err).Error("Metrics server stopped")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		a.log.WithField("addr", metricsAddr).Info("Serving metrics")
	}

	watchDone := make(chan error, 1)
	if a.bridge != nil {
		go func() { watchDone <- a.bridge.Watch(ctx, a.cfg.PersistDebounce) }()
	} else {
		watchDone <- nil
	}

	queries, err := a.subscribePages(pages, limit, nil)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			for _, q := range queries {
				q.Close()
			}
			a.log.Info("Stopping warm loop")
			return <-watchDone
		case <-ticker.C:
			queries, err = a.subscribePages(pages, limit, queries)
			if err != nil {
				return err
			}
			stats := a.store.Stats()
			a.log.WithField("entries", stats.Entries).WithField("pending", stats.Pending).Info("Refreshed subscriptions")
		}
	}
}

// subscribePages subscribes to every page before releasing the previous
// subscriptions, so entries are never left unobserved in between.
func (a *app) subscribePages(pages, limit int, previous []*poky.Query[poky.ListResponse]) ([]*poky.Query[poky.ListResponse], error) {
	queries := make([]*poky.Query[poky.ListResponse], 0, pages)
	for i := 0; i < pages; i++ {
		q, err := a.catalog.ListCatalog(poky.ListQuery{Limit: limit, Offset: i * limit})
		if err != nil {
			for _, q := range queries {
				q.Close()
			}
			return previous, err
		}
		queries = append(queries, q)
	}
	for _, q := range previous {
		q.Close()
	}
	return queries, nil
}
