package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"rentchain/crypto"

	"github.com/BurntSushi/toml"
)

// Config is the top-level rentald configuration.
type Config struct {
	ListenAddress      string `toml:"ListenAddress"`
	DataDir            string `toml:"DataDir"`
	NetworkName        string `toml:"NetworkName"`
	SignerKeystorePath string `toml:"SignerKeystorePath"`
	SignerKMSEnv       string `toml:"SignerKMSEnv"`

	// EscrowFeeBps is the protocol fee in basis points applied on payment
	// settlement.
	EscrowFeeBps uint64 `toml:"EscrowFeeBps"`

	// EmergencyUpgrade is the delegate-call target that stays reachable after
	// the transaction guard is retired.
	EmergencyUpgrade string `toml:"EmergencyUpgrade"`

	// Admins and Signers are bech32 addresses granted the admin and payload
	// co-signing roles at boot.
	Admins  []string `toml:"Admins"`
	Signers []string `toml:"Signers"`

	Limits Limits `toml:"Limits"`
}

// Limits seeds the global protocol caps on first boot. Zero values defer to
// the ledger defaults.
type Limits struct {
	MaxRentDuration       uint64 `toml:"MaxRentDuration"`
	MaxOfferItems         uint64 `toml:"MaxOfferItems"`
	MaxConsiderationItems uint64 `toml:"MaxConsiderationItems"`
}

// Load reads the configuration from the given path, creating a default file
// with a fresh signer keystore when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	if cfg.SignerKMSEnv == "" {
		if err := ensureKeystore(path, cfg); err != nil {
			return nil, err
		}
	}

	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "rentchain-local"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the address fields decode to 20-byte protocol addresses.
func (c *Config) Validate() error {
	if c.EscrowFeeBps > 10_000 {
		return fmt.Errorf("config: EscrowFeeBps %d exceeds 10000", c.EscrowFeeBps)
	}
	if trimmed := strings.TrimSpace(c.EmergencyUpgrade); trimmed != "" {
		if _, err := crypto.DecodeAddress(trimmed); err != nil {
			return fmt.Errorf("config: invalid EmergencyUpgrade address: %w", err)
		}
	}
	for _, admin := range c.Admins {
		if _, err := crypto.DecodeAddress(admin); err != nil {
			return fmt.Errorf("config: invalid admin address %q: %w", admin, err)
		}
	}
	for _, signer := range c.Signers {
		if _, err := crypto.DecodeAddress(signer); err != nil {
			return fmt.Errorf("config: invalid signer address %q: %w", signer, err)
		}
	}
	return nil
}

func ensureKeystore(configPath string, cfg *Config) error {
	keystorePath := cfg.SignerKeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}

	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		key, genErr := crypto.GeneratePrivateKey()
		if genErr != nil {
			return genErr
		}
		if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if cfg.SignerKeystorePath != keystorePath {
		cfg.SignerKeystorePath = keystorePath
		return persist(configPath, cfg)
	}

	return nil
}

func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
		return nil, err
	}

	cfg := &Config{
		ListenAddress: ":8080",
		DataDir:       "./rentchain-data",
		NetworkName:   "rentchain-local",
		Admins:        []string{},
		Signers:       []string{key.PubKey().Address().String()},
	}
	cfg.SignerKeystorePath = keystorePath

	if err := persist(path, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "signer.keystore")
}
