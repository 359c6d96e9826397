package main

import (
	"fmt"

	"github.com/ericfisherdev/rotavault/internal/adapter/driven/vault"
	"github.com/ericfisherdev/rotavault/internal/config"
)

// Keyring entry holding the master key when KEY_SOURCE is keyring.
const (
	keyringService = "rotavault"
	keyringUser    = "vault-master-key"
)

func keySource(cfg *config.Config) vault.KeySource {
	if cfg.KeySource == config.KeySourceKeyring {
		return vault.NewKeyringKeySource(keyringService, keyringUser)
	}
	return vault.NewFileKeySource(cfg.KeyPath)
}

func describeKeySource(cfg *config.Config) string {
	if cfg.KeySource == config.KeySourceKeyring {
		return fmt.Sprintf("keyring %s/%s", keyringService, keyringUser)
	}
	return "file " + cfg.KeyPath
}

func openVault(cfg *config.Config) (*vault.Vault, error) {
	v, err := vault.Open(keySource(cfg))
	if err != nil {
		return nil, fmt.Errorf("open vault (%s): %w", describeKeySource(cfg), err)
	}
	return v, nil
}
