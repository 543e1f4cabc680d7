package main

import (
	"fmt"
	"os"

	"github.com/jhchabran/agora/cmd"
	"github.com/spf13/cobra"
)

// rootOptions holds the flags shared by every command.
type rootOptions struct {
	configPath string
	cfg        *cmd.Config
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "agora",
		Short:         "Votes, reputation and accepted answers for Q&A threads",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(c *cobra.Command, args []string) error {
			opts.cfg = cmd.DefaultConfig()
			if err := opts.cfg.LoadFrom(opts.configPath); err != nil {
				return fmt.Errorf("cannot read configuration: %w", err)
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "config.json", "path to the JSON configuration file")

	root.AddCommand(newServeCommand(opts))
	root.AddCommand(newMigrateCommand(opts))
	root.AddCommand(newSeedCommand(opts))
	root.AddCommand(newVerifyCommand(opts))

	return root
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "agora:", err)
		os.Exit(1)
	}
}
