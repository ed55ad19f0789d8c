package postgres

import "fmt"

// Paths are the data and configuration directories of an installation.
// On debian they differ; on the rhel family they are the same directory.
type Paths struct {
	DataDir string `json:"data_dir"`
	ConfDir string `json:"conf_dir"`
}

// ResolvePaths returns the directories for a (version, source, platform) triple.
func ResolvePaths(version ResolvedVersion, source PackageSource, platform PlatformFamily) (Paths, error) {
	switch {
	case platform.RHELFamily() && source == SourceRepo:
		dir := fmt.Sprintf("/var/lib/pgsql/%d/data", version.Major)
		return Paths{DataDir: dir, ConfDir: dir}, nil
	case platform.RHELFamily() && source == SourceOS:
		return Paths{DataDir: "/var/lib/pgsql/data", ConfDir: "/var/lib/pgsql/data"}, nil
	case platform == PlatformDebian:
		return Paths{
			DataDir: fmt.Sprintf("/var/lib/postgresql/%d/main", version.Major),
			ConfDir: fmt.Sprintf("/etc/postgresql/%d/main", version.Major),
		}, nil
	default:
		return Paths{}, NewUnsupportedPlatformError(platform, source)
	}
}

// ServiceName returns the init system unit name for the installation.
func ServiceName(version ResolvedVersion, source PackageSource, platform PlatformFamily) string {
	if platform.RHELFamily() && source == SourceRepo {
		return fmt.Sprintf("postgresql-%d", version.Major)
	}
	return "postgresql"
}
