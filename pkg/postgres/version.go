package postgres

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// VendorMarker identifies packages built by the PGDG release channel.
const VendorMarker = "PGDG"

var (
	basePackagePattern   = regexp.MustCompile(`^postgresql-?(\d+)?$`)
	serverPackagePattern = regexp.MustCompile(`^postgresql-?(\d+)?-server$`)
	leadingDigits        = regexp.MustCompile(`^\d+`)
	epochPrefix          = regexp.MustCompile(`^\d+:`)
)

// ResolveVersionSource derives the installed major version and package source
// from a package inventory. Base package names (postgresql, postgresql14) are
// preferred; server package names are used only when no base package exists.
func ResolveVersionSource(inventory map[string]Package) (ResolvedVersion, PackageSource, error) {
	candidates := matchPackages(inventory, basePackagePattern)
	if len(candidates) == 0 {
		candidates = matchPackages(inventory, serverPackagePattern)
	}
	if len(candidates) == 0 {
		return ResolvedVersion{}, "", NewResolutionError("no installed PostgreSQL package found", nil)
	}

	var (
		version ResolvedVersion
		source  PackageSource
	)
	for i, name := range candidates {
		pkg := inventory[name]
		v, err := parseMajor(pkg.Version)
		if err != nil {
			return ResolvedVersion{}, "", NewResolutionError(fmt.Sprintf("unable to parse version of package %s", name), err)
		}
		s := packageSource(pkg)
		if i == 0 {
			version, source = v, s
			continue
		}
		if v != version || s != source {
			return ResolvedVersion{}, "", NewResolutionError(
				fmt.Sprintf("ambiguous PostgreSQL packages %s: versions or sources differ", strings.Join(candidates, ", ")), nil)
		}
	}
	return version, source, nil
}

func matchPackages(inventory map[string]Package, pattern *regexp.Regexp) []string {
	var names []string
	for name := range inventory {
		if pattern.MatchString(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func parseMajor(version string) (ResolvedVersion, error) {
	v := epochPrefix.ReplaceAllString(strings.TrimSpace(version), "")
	digits := leadingDigits.FindString(v)
	if digits == "" {
		return ResolvedVersion{}, fmt.Errorf("version %q has no leading digits", version)
	}
	major, err := strconv.Atoi(digits)
	if err != nil {
		return ResolvedVersion{}, fmt.Errorf("version %q: %w", version, err)
	}
	return ResolvedVersion{Major: major}, nil
}

// packageSource checks the release for the vendor marker, falling back to the
// lowercase marker in the version string when no release is reported.
func packageSource(pkg Package) PackageSource {
	if pkg.Release != "" {
		if strings.Contains(pkg.Release, VendorMarker) {
			return SourceRepo
		}
		return SourceOS
	}
	if strings.Contains(pkg.Version, strings.ToLower(VendorMarker)) {
		return SourceRepo
	}
	return SourceOS
}
