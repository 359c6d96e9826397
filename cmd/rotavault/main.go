// Command rotavault runs the credential vault daemon and its offline tools.
package main

import (
	"log/slog"
	"os"

	"github.com/awnumar/memguard"
	"github.com/spf13/cobra"

	"github.com/ericfisherdev/rotavault/internal/config"
)

var version = "dev"

func main() {
	err := newRootCommand().Execute()
	memguard.Purge()
	if err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

// cli carries state shared by every subcommand.
type cli struct {
	configPath string
	cfg        *config.Config
}

func newRootCommand() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:           "rotavault",
		Short:         "Credential vault with scheduled password rotation and one-time codes",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(c.configPath)
			if err != nil {
				return err
			}
			c.cfg = cfg
			slog.SetDefault(newLogger(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat))
			return nil
		},
	}

	root.PersistentFlags().StringVar(&c.configPath, "config", "", "YAML config file (default $ROTAVAULT_CONFIG)")

	root.AddCommand(
		newServeCommand(c),
		newCodeCommand(),
		newAccountsCommand(c),
		newKeygenCommand(c),
	)
	return root
}
