package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/ericfisherdev/rotavault/internal/application"
	"github.com/ericfisherdev/rotavault/internal/domain/model"
	"github.com/ericfisherdev/rotavault/internal/guard"
)

func newCodeCommand() *cobra.Command {
	var secret, bundlePath string

	cmd := &cobra.Command{
		Use:   "code",
		Short: "Print the current one-time code for a shared secret",
		Long: `Print the current one-time code without touching the database.
Pass the base64 shared secret directly or a secret bundle file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if bundlePath != "" {
				s, err := secretFromBundle(bundlePath)
				if err != nil {
					return err
				}
				secret = s
			}
			if secret == "" {
				return errors.New("one of --secret or --bundle is required")
			}

			gen := guard.NewGenerator(clockwork.NewRealClock())
			code, err := gen.Code(secret)
			if err != nil {
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s (valid for %ds)\n", code, gen.SecondsRemaining())
			return err
		},
	}

	cmd.Flags().StringVar(&secret, "secret", "", "base64 shared secret")
	cmd.Flags().StringVar(&bundlePath, "bundle", "", "path to a secret bundle file")
	cmd.MarkFlagsMutuallyExclusive("secret", "bundle")
	return cmd
}

func secretFromBundle(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read bundle: %w", err)
	}
	if err := application.ValidateSecretBundle(data); err != nil {
		return "", err
	}
	bundle, err := model.ParseSecretBundle(data)
	if err != nil {
		return "", err
	}
	return bundle.SharedSecret, nil
}
