// Package config loads and validates pgfroyo configuration.
//
// Configuration is read with viper from pgfroyo.yaml, searched in the
// current directory, ~/.config/pgfroyo and /etc/pgfroyo. Every key can be
// overridden from the environment with the PGFROYO_ prefix, nested keys
// joined by underscores:
//
//	PGFROYO_TRANSPORT=ssh
//	PGFROYO_SSH_HOST=db1.example.com
//	PGFROYO_TELEMETRY_LOGGING_LEVEL=debug
//
// The databases and roles lists form the manifest converged by
// "pgfroyo apply". Entries are validated with the same rules the lifecycle
// operations use, so a bad name is rejected before anything runs.
//
// WriteDefault renders the built-in defaults with yaml.v3 for
// "pgfroyo config init".
package config
