// Package config loads the migration settings from a YAML file, a .env file
// and the environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Defaults of `bw serve`.
const (
	DefaultHost = "localhost"
	DefaultPort = 8007
)

// DotEnvFile is read from the working directory when present.
const DotEnvFile = ".env"

// Config holds everything a migration run needs.
type Config struct {
	Host              string   `yaml:"host" env:"BITWARDEN_HOST"`
	Port              int      `yaml:"port" env:"BITWARDEN_PORT"`
	BitwardenPassword string   `yaml:"bitwarden_password" env:"BITWARDEN_PASSWORD"`
	OrganizationID    string   `yaml:"organization_id" env:"BITWARDEN_ORGANIZATION_ID"`
	DefaultGroupIDs   []string `yaml:"default_group_ids" env:"BITWARDEN_DEFAULT_GROUP_IDS" envSeparator:","`

	KeepassFile       string `yaml:"keepass_file" env:"KEEPASS_FILE"`
	KeepassPassphrase string `yaml:"keepass_passphrase" env:"KEEPASS_PASSPHRASE"`
	KeepassKeyFile    string `yaml:"keepass_key_file" env:"KEEPASS_KEY_FILE"`

	// PathRewrites are "pattern:replacement" rules applied in order.
	PathRewrites []string `yaml:"collection_path_rewrites" env:"COLLECTION_PATH_REWRITES" envSeparator:";"`
	DryRun       bool     `yaml:"dry_run" env:"DRY_RUN"`
}

// Default returns the configuration before any source is applied.
func Default() *Config {
	return &Config{
		Host: DefaultHost,
		Port: DefaultPort,
	}
}

// Load builds the configuration. Later sources override earlier ones:
// defaults, the YAML file at configFile (optional), the dotenv file (ignored
// when missing), then the process environment. Command line flags are
// applied by the caller.
func Load(configFile, dotEnvFile string) (*Config, error) {
	cfg := Default()

	if configFile != "" {
		if err := cfg.loadYAML(configFile); err != nil {
			return nil, err
		}
	}

	environment, err := environ(dotEnvFile)
	if err != nil {
		return nil, err
	}
	if err := env.Parse(cfg, env.Options{Environment: environment}); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}

	cfg.DefaultGroupIDs = compact(cfg.DefaultGroupIDs)
	cfg.PathRewrites = compact(cfg.PathRewrites)
	return cfg, nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: %s: %w", path, err)
	}
	return nil
}

// environ merges the dotenv file under the process environment. Empty
// variables count as unset.
func environ(dotEnvFile string) (map[string]string, error) {
	out := make(map[string]string)
	if dotEnvFile != "" {
		values, err := godotenv.Read(dotEnvFile)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: %s: %w", dotEnvFile, err)
		}
		for k, v := range values {
			out[k] = v
		}
	}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok && v != "" {
			out[k] = v
		}
	}
	return out, nil
}

func compact(values []string) []string {
	out := values[:0]
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// BaseURL returns the address of the `bw serve` API.
func (c *Config) BaseURL() string {
	return "http://" + net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// RequiredError reports a mandatory setting that is missing.
type RequiredError struct {
	Flag string
	Env  string
}

func (e *RequiredError) Error() string {
	return fmt.Sprintf("%s is required, either as parameter or as environment variable %s", e.Flag, e.Env)
}

// Required returns the error for a missing flag backed by env.
func Required(flag, env string) error {
	return &RequiredError{Flag: flag, Env: env}
}

// Validate checks the settings needed to run a migration. The KeePass
// passphrase is not checked: it may still be prompted for.
func (c *Config) Validate() error {
	var errs []error
	if c.BitwardenPassword == "" {
		errs = append(errs, Required("bitwarden-password", "BITWARDEN_PASSWORD"))
	}
	if c.OrganizationID == "" {
		errs = append(errs, Required("organization", "BITWARDEN_ORGANIZATION_ID"))
	}
	if c.KeepassFile == "" {
		errs = append(errs, Required("file", "KEEPASS_FILE"))
	}
	if c.Host == "" {
		errs = append(errs, errors.New("host cannot be empty"))
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	return errors.Join(errs...)
}
