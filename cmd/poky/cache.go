package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Kishta47/poky-app"
)

type cacheStats struct {
	Driver        string       `json:"driver" yaml:"driver"`
	SnapshotBytes int          `json:"snapshotBytes" yaml:"snapshotBytes"`
	Entries       int          `json:"entries" yaml:"entries"`
	Fresh         int          `json:"fresh" yaml:"fresh"`
	Stale         int          `json:"stale" yaml:"stale"`
	Queries       []cacheEntry `json:"queries" yaml:"queries"`
}

type cacheEntry struct {
	Key       string        `json:"key" yaml:"key"`
	Bytes     int           `json:"bytes" yaml:"bytes"`
	FetchedAt time.Time     `json:"fetchedAt" yaml:"fetchedAt"`
	TTL       time.Duration `json:"ttl" yaml:"ttl"`
	Fresh     bool          `json:"fresh" yaml:"fresh"`
}

func newCacheCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the persisted response cache",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show persisted cache entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), flags, cmd.OutOrStdout(), func(a *app) error {
				a.persist = false
				return a.cacheStats(cmd.Context())
			})
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete the persisted cache snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), flags, cmd.OutOrStdout(), func(a *app) error {
				a.persist = false
				if a.bridge == nil {
					fmt.Fprintln(a.out, "Persistence is disabled (storage.driver=none).")
					return nil
				}
				a.store.Reset()
				if err := a.bridge.Purge(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(a.out, "Cache snapshot cleared.")
				return nil
			})
		},
	}

	cmd.AddCommand(statsCmd, clearCmd)
	return cmd
}

func (a *app) cacheStats(ctx context.Context) error {
	stats := cacheStats{Driver: a.cfg.Storage.Driver}

	if a.storage != nil {
		raw, err := a.storage.Get(ctx, poky.PersistKey)
		switch {
		case errors.Is(err, poky.ErrNotFound):
		case err != nil:
			return err
		default:
			stats.SnapshotBytes = len(raw)
		}
	}

	now := time.Now()
	for _, st := range a.store.Snapshot() {
		fresh := now.Sub(st.FetchedAt) < st.TTL
		if fresh {
			stats.Fresh++
		} else {
			stats.Stale++
		}
		stats.Queries = append(stats.Queries, cacheEntry{
			Key:       st.Key,
			Bytes:     len(st.Value),
			FetchedAt: st.FetchedAt,
			TTL:       st.TTL,
			Fresh:     fresh,
		})
	}
	stats.Entries = len(stats.Queries)
	sort.Slice(stats.Queries, func(i, j int) bool { return stats.Queries[i].Key < stats.Queries[j].Key })

	if handled, err := encode(a.out, a.format, stats); handled {
		return err
	}

	fmt.Fprintf(a.out, "Driver:   %s\n", stats.Driver)
	fmt.Fprintf(a.out, "Snapshot: %s\n", humanize.Bytes(uint64(stats.SnapshotBytes)))
	fmt.Fprintf(a.out, "Entries:  %d (%d fresh, %d stale)\n", stats.Entries, stats.Fresh, stats.Stale)
	if stats.Entries == 0 {
		return nil
	}

	fmt.Fprintln(a.out)
	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tSIZE\tFETCHED\tSTATE")
	for _, q := range stats.Queries {
		state := "fresh"
		if !q.Fresh {
			state = "stale"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", q.Key, humanize.Bytes(uint64(q.Bytes)), humanize.Time(q.FetchedAt), state)
	}
	return tw.Flush()
}
