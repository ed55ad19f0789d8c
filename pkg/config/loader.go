package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	sshtransport "github.com/openfroyo/pgfroyo/pkg/transports/ssh"
)

const (
	// FileName is the configuration file name without extension.
	FileName = "pgfroyo"
	// EnvPrefix prefixes environment overrides, e.g. PGFROYO_SSH_HOST.
	EnvPrefix = "PGFROYO"
)

// Keys whose defaults are empty and therefore omitted from the defaults
// document; they are bound explicitly so the environment can supply them.
var secretKeys = []string{
	"ssh.password",
	"ssh.private_key_passphrase",
	"ssh.proxy_password",
	"pgconn.password",
}

// LoadResult contains the loaded configuration and where it came from.
type LoadResult struct {
	Config *Config
	// SourcePath is the file that was read, or empty when only defaults and
	// environment were used.
	SourcePath string
}

// SearchPaths returns the directories searched for pgfroyo.yaml, in order.
func SearchPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "pgfroyo"))
	}
	return append(paths, "/etc/pgfroyo")
}

// DefaultPath returns the per-user configuration file path.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(home, ".config", "pgfroyo", FileName+".yaml"), nil
}

// Load reads configuration and returns a validated Config.
// Precedence, highest first: environment, file, built-in defaults.
// When configPath is empty the SearchPaths are tried; finding no file is not
// an error. An explicit configPath must exist.
func Load(configPath string) (*LoadResult, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := setDefaults(v, Defaults()); err != nil {
		return nil, err
	}
	for _, key := range secretKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(FileName)
		for _, p := range SearchPaths() {
			v.AddConfigPath(p)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &LoadResult{Config: &cfg, SourcePath: v.ConfigFileUsed()}, nil
}

// setDefaults registers every leaf of the defaults document, so AutomaticEnv
// can override keys that no file mentions.
func setDefaults(v *viper.Viper, defaults *Config) error {
	data, err := yaml.Marshal(defaults)
	if err != nil {
		return fmt.Errorf("failed to encode defaults: %w", err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return fmt.Errorf("failed to decode defaults: %w", err)
	}
	setLeaves(v, "", tree)
	return nil
}

func setLeaves(v *viper.Viper, prefix string, tree map[string]any) {
	for key, value := range tree {
		if prefix != "" {
			key = prefix + "." + key
		}
		if sub, ok := value.(map[string]any); ok && len(sub) > 0 {
			setLeaves(v, key, sub)
			continue
		}
		v.SetDefault(key, value)
	}
}

// BindFlags applies command-line overrides. Only flags the user set are
// applied; the result is validated again.
func BindFlags(cmd *cobra.Command, cfg *Config) error {
	v := viper.New()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("failed to bind flags: %w", err)
	}

	if v.IsSet("host") {
		cfg.Transport = TransportSSH
		cfg.SSH.Host = v.GetString("host")
	}
	if v.IsSet("ssh-user") {
		cfg.SSH.User = v.GetString("ssh-user")
	}
	if v.IsSet("ssh-port") {
		cfg.SSH.Port = v.GetInt("ssh-port")
	}
	if v.IsSet("identity") {
		cfg.SSH.AuthMethod = sshtransport.AuthMethodKey
		cfg.SSH.PrivateKeyPath = v.GetString("identity")
	}
	if v.IsSet("postgres-user") {
		cfg.PostgresUser = v.GetString("postgres-user")
	}
	if v.IsSet("platform") {
		cfg.Platform = v.GetString("platform")
	}
	if v.IsSet("log-level") {
		cfg.Telemetry.Logging.Level = v.GetString("log-level")
	}
	if v.IsSet("log-format") {
		cfg.Telemetry.Logging.Format = v.GetString("log-format")
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration after flag binding: %w", err)
	}
	return nil
}
