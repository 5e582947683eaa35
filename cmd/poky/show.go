package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Kishta47/poky-app"
)

const statBarWidth = 20

func newShowCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show <name|number>",
		Short: "Show a single record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), flags, cmd.OutOrStdout(), func(a *app) error {
				return a.show(cmd.Context(), args[0])
			})
		},
	}
}

func (a *app) show(ctx context.Context, id string) error {
	query, err := a.catalog.GetDetail(id)
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

	d := res.Data
	if handled, err := encode(a.out, a.format, d); handled {
		return err
	}

	fmt.Fprintf(a.out, "#%03d %s\n\n", d.ID, titleCase(d.Name))

	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Types:\t%s\n", strings.Join(d.TypeNames(), ", "))
	fmt.Fprintf(tw, "Height:\t%.1f m\n", d.HeightMeters())
	fmt.Fprintf(tw, "Weight:\t%.1f kg\n", d.WeightKilograms())
	fmt.Fprintf(tw, "Base XP:\t%d\n", d.BaseExperience)
	fmt.Fprintf(tw, "Abilities:\t%s\n", abilityNames(d.Abilities))
	fmt.Fprintf(tw, "Sprite:\t%s\n", d.SpriteURL())
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(d.Stats) > 0 {
		fmt.Fprintln(a.out, "\nStats:")
		tw = tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
		for _, s := range d.Stats {
			fmt.Fprintf(tw, "  %s\t%d\t%s\n", s.Stat.Name, s.BaseStat, bar(s.Percent(), statBarWidth))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	return nil
}

func abilityNames(abilities []poky.AbilitySlot) string {
	names := make([]string, 0, len(abilities))
	for _, a := range abilities {
		name := a.Ability.Name
		if a.IsHidden {
			name += " (hidden)"
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, ", ")
}
