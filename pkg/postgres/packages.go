package postgres

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// PackageNames returns the OS packages needed for role on the given platform.
// version is the requested release line ("14", "9.6") and is required for repo packages.
// An unknown (platform, source) combination yields nil and an unsupported-platform error.
func PackageNames(role PackageRole, version string, source PackageSource, platform PlatformFamily) ([]string, error) {
	if role != RoleServer && role != RoleClient {
		return nil, NewInvalidSpecError(fmt.Sprintf("unknown package role %q", role), nil)
	}
	if source == SourceRepo {
		if err := ValidateVersion(version); err != nil {
			return nil, err
		}
	}

	compact := strings.ReplaceAll(version, ".", "")
	var table map[PackageSource]map[PackageRole][]string

	switch {
	case platform.RHELFamily():
		table = map[PackageSource]map[PackageRole][]string{
			SourceOS: {
				RoleServer: {"postgresql-contrib", "postgresql-server"},
				RoleClient: {"postgresql"},
			},
			SourceRepo: {
				RoleServer: {"postgresql" + compact + "-contrib", "postgresql" + compact + "-server"},
				RoleClient: {"postgresql" + compact},
			},
		}
	case platform == PlatformDebian:
		table = map[PackageSource]map[PackageRole][]string{
			SourceOS: {
				RoleServer: {"postgresql", "postgresql-common"},
				RoleClient: {"postgresql-client"},
			},
			SourceRepo: {
				RoleServer: {"postgresql-" + version, "postgresql-common"},
				RoleClient: {"postgresql-client-" + version},
			},
		}
	}

	names, ok := table[source][role]
	if !ok {
		return nil, NewUnsupportedPlatformError(platform, source)
	}
	return append([]string(nil), names...), nil
}

// ValidateVersion checks that version looks like a PostgreSQL release line.
func ValidateVersion(version string) error {
	if version == "" {
		return NewInvalidSpecError("a PostgreSQL version is required for repo packages", nil)
	}
	if _, err := semver.NewVersion(version); err != nil {
		return NewInvalidSpecError(fmt.Sprintf("invalid PostgreSQL version %q", version), err)
	}
	return nil
}

// DNFModulePlatform reports whether the distro ships a postgresql dnf module
// that must be disabled before PGDG packages can be installed.
func DNFModulePlatform(platform PlatformFamily, platformVersion string) bool {
	if platform == PlatformFedora {
		return true
	}
	if platform != PlatformRHEL {
		return false
	}
	major, _, _ := strings.Cut(platformVersion, ".")
	n, err := strconv.Atoi(major)
	return err == nil && n == 8
}

// YumRepoURL builds the PGDG yum repository URL for a release line.
// platformName is the distribution id (fedora, amazon, centos, ...).
func YumRepoURL(baseURL, version string, platform PlatformFamily, platformName string) string {
	return fmt.Sprintf("%s/%s/%s/%s", strings.TrimSuffix(baseURL, "/"), version,
		yumRepoFamilyDir(platform), yumRepoPlatformDir(platformName))
}

// YumCommonRepoURL is the PGDG repository holding version independent packages.
func YumCommonRepoURL(platform PlatformFamily, platformName string) string {
	return fmt.Sprintf("https://download.postgresql.org/pub/repos/yum/common/%s/%s",
		yumRepoFamilyDir(platform), yumRepoPlatformDir(platformName))
}

// YumReleasever returns the releasever used in repo URLs; Amazon Linux uses the RHEL 7 packages.
func YumReleasever(platformName string) string {
	if platformName == "amazon" {
		return "7"
	}
	return "$releasever"
}

func yumRepoFamilyDir(platform PlatformFamily) string {
	if platform == PlatformFedora {
		return "fedora"
	}
	return "redhat"
}

func yumRepoPlatformDir(platformName string) string {
	name := "rhel"
	if platformName == "fedora" {
		name = "fedora"
	}
	return fmt.Sprintf("%s-%s-$basearch", name, YumReleasever(platformName))
}
