package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Kishta47/poky-app"
)

type listOutput struct {
	Count    int             `json:"count" yaml:"count"`
	Limit    int             `json:"limit" yaml:"limit"`
	Offset   int             `json:"offset" yaml:"offset"`
	Filter   string          `json:"filter,omitempty" yaml:"filter,omitempty"`
	Next     *poky.ListQuery `json:"next,omitempty" yaml:"next,omitempty"`
	Previous *poky.ListQuery `json:"previous,omitempty" yaml:"previous,omitempty"`
	Results  []listRow       `json:"results" yaml:"results"`
}

type listRow struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
	URL  string `json:"url" yaml:"url"`
}

func newListCmd(flags *globalFlags) *cobra.Command {
	var (
		limit  int
		offset int
		page   int
		filter string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List one page of the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := poky.ListQuery{Limit: limit, Offset: offset}
			if page > 0 {
				q.Offset = (page - 1) * q.Limit
			}

			return run(cmd.Context(), flags, cmd.OutOrStdout(), func(a *app) error {
				return a.list(cmd.Context(), q, filter)
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "l", poky.DefaultPageSize, "page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of records to skip")
	cmd.Flags().IntVarP(&page, "page", "p", 0, "1-based page number (overrides --offset)")
	cmd.Flags().StringVarP(&filter, "filter", "f", "", "only show names containing this text")
	return cmd
}

func (a *app) list(ctx context.Context, q poky.ListQuery, filter string) error {
	q, err := q.Normalize()
	if err != nil {
		return err
	}

	query, err := a.catalog.ListCatalog(q)
	if err != nil {
		return err
	}
	defer query.Close()

	res, err := query.Wait(ctx)
	if err != nil {
		return err
	}
	if res.Error != nil {
		return describeError(res.Error)
	}

	items := poky.FilterByName(res.Data.Results, filter)
	out := listOutput{
		Count:   res.Data.Count,
		Limit:   q.Limit,
		Offset:  q.Offset,
		Filter:  filter,
		Results: make([]listRow, 0, len(items)),
	}
	for _, item := range items {
		out.Results = append(out.Results, listRow{ID: item.ID(), Name: item.Name, URL: item.URL})
	}
	if next, ok := res.Data.NextPage(q); ok {
		out.Next = &next
	}
	if prev, ok := res.Data.PreviousPage(q); ok {
		out.Previous = &prev
	}

	if handled, err := encode(a.out, a.format, out); handled {
		return err
	}

	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME")
	for _, row := range out.Results {
		fmt.Fprintf(tw, "%s\t%s\n", row.ID, titleCase(row.Name))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	pages := (out.Count + q.Limit - 1) / q.Limit
	fmt.Fprintf(a.out, "\nPage %d of %d · %s records · fetched %s\n",
		q.Offset/q.Limit+1, pages, humanize.Comma(int64(out.Count)), humanize.Time(fetchedAt(query.FetchedAt())))
	if out.Previous != nil {
		fmt.Fprintf(a.out, "previous: poky list --limit %d --offset %d\n", out.Previous.Limit, out.Previous.Offset)
	}
	if out.Next != nil {
		fmt.Fprintf(a.out, "next:     poky list --limit %d --offset %d\n", out.Next.Limit, out.Next.Offset)
	}
	return nil
}

func fetchedAt(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}

func describeError(err error) error {
	switch {
	case poky.IsNotFound(err):
		return fmt.Errorf("not found: %w", err)
	case poky.IsTransient(err):
		return fmt.Errorf("catalog unavailable, try again: %w", err)
	default:
		return err
	}
}
