package main

import (
	"fmt"

	"github.com/awnumar/memguard"
	"github.com/spf13/cobra"
)

func newKeygenCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Create the vault master key if it does not exist",
		Long: `Create the vault master key at the configured key source. Running it
again is harmless: an existing key is loaded and left untouched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := keySource(c.cfg).Load()
			if err != nil {
				return fmt.Errorf("prepare vault key: %w", err)
			}
			memguard.WipeBytes(key)

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "vault key ready (%s)\n", describeKeySource(c.cfg))
			return err
		},
	}
}
