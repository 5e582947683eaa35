package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Kishta47/poky-app"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "poky",
		Short:         "Browse the PokeAPI catalog with a persistent response cache",
		Version:       poky.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true

	pf := root.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "path to a YAML config file")
	pf.StringVarP(&flags.output, "output", "o", formatTable, "output format: table, json or yaml")
	pf.StringVar(&flags.logLevel, "log-level", "", "override log_level (debug, info, warn, error)")
	pf.BoolVar(&flags.metrics, "metrics", false, "print request and cache metrics on exit")

	root.AddCommand(
		newListCmd(flags),
		newShowCmd(flags),
		newCacheCmd(flags),
		newWarmCmd(flags),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), poky.GetVersion())
			return nil
		},
	}
}
