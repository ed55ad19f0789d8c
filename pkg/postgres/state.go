package postgres

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"path"

	"github.com/openfroyo/pgfroyo/pkg/fsys"
)

// Marker files read from the data directory.
const (
	VersionMarker  = "PG_VERSION"
	RecoveryMarker = "recovery.conf"
)

// Initialized reports whether the cluster's data directory has been initialized.
func Initialized(ctx context.Context, fs fsys.Checker, rc ResolvedContext) (bool, error) {
	return fs.Exists(ctx, path.Join(rc.DataDir, VersionMarker))
}

// Follower reports whether the cluster is configured as a standby.
func Follower(ctx context.Context, fs fsys.Checker, rc ResolvedContext) (bool, error) {
	return fs.Exists(ctx, path.Join(rc.DataDir, RecoveryMarker))
}

// GeneratePassword is the password value that requests a random password.
const GeneratePassword = "generate"

// ResolvePassword returns password, or a fresh random one when it is "generate".
// The second result reports whether a password was generated.
func ResolvePassword(password string) (string, bool, error) {
	if password != GeneratePassword {
		return password, false, nil
	}
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", false, fmt.Errorf("failed to generate password: %w", err)
	}
	return hex.EncodeToString(buf), true, nil
}
