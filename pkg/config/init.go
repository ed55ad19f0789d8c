package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const fileHeader = `# pgfroyo configuration
#
# Precedence (highest first):
#   1. command-line flags (--host, --postgres-user, --log-level, ...)
#   2. environment variables (PGFROYO_<SECTION>_<KEY>, e.g. PGFROYO_SSH_HOST)
#   3. this file
#   4. built-in defaults
#
# Passwords may be left out here and supplied as PGFROYO_SSH_PASSWORD or
# PGFROYO_PGCONN_PASSWORD. A role password of "generate" creates a random one.

`

// Example manifest entries written by WriteDefault.
var exampleDatabases = `
# databases:
#   - database: app
#     owner: app_user
#     encoding: UTF-8
#     template: template0
#   - database: legacy
#     state: absent
#
# roles:
#   - name: app_user
#     login: true
#     password: generate
`

// Marshal renders cfg as a YAML document.
func Marshal(cfg *Config) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteDefault writes the built-in configuration to path, or to DefaultPath
// when path is empty, and returns the path written. An existing file is only
// replaced when force is set.
func WriteDefault(path string, force bool) (string, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return "", err
		}
		path = p
	}

	if _, err := os.Stat(path); err == nil && !force {
		return "", fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	body, err := Marshal(Defaults())
	if err != nil {
		return "", err
	}

	content := append([]byte(fileHeader), body...)
	content = append(content, exampleDatabases...)

	if err := os.WriteFile(path, content, 0o600); err != nil {
		return "", fmt.Errorf("failed to write config file: %w", err)
	}
	return path, nil
}
