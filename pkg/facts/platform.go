// Package facts collects the host facts pgfroyo resolves against: the
// platform family from /etc/os-release and the installed PostgreSQL packages.
package facts

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/openfroyo/pgfroyo/pkg/execx"
	"github.com/openfroyo/pgfroyo/pkg/postgres"
)

// OSReleasePath is where the distribution identification is read from.
const OSReleasePath = "/etc/os-release"

// Platform holds the OS facts of a host.
type Platform struct {
	Family     postgres.PlatformFamily `json:"family"`
	Name       string                  `json:"name"`
	Version    string                  `json:"version"`
	PrettyName string                  `json:"pretty_name,omitempty"`
}

var familyByID = map[string]postgres.PlatformFamily{
	"rhel":       postgres.PlatformRHEL,
	"centos":     postgres.PlatformRHEL,
	"rocky":      postgres.PlatformRHEL,
	"almalinux":  postgres.PlatformRHEL,
	"ol":         postgres.PlatformRHEL,
	"scientific": postgres.PlatformRHEL,
	"fedora":     postgres.PlatformFedora,
	"amzn":       postgres.PlatformAmazon,
	"amazon":     postgres.PlatformAmazon,
	"debian":     postgres.PlatformDebian,
	"ubuntu":     postgres.PlatformDebian,
	"raspbian":   postgres.PlatformDebian,
	"linuxmint":  postgres.PlatformDebian,
}

// ParseOSRelease parses os-release content. ID decides the family; when it is
// unknown the ID_LIKE entries are tried in order.
func ParseOSRelease(content string) Platform {
	values := make(map[string]string)
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		values[key] = strings.Trim(value, `"'`)
	}

	id := strings.ToLower(values["ID"])
	p := Platform{
		Family:     postgres.PlatformOther,
		Name:       id,
		Version:    values["VERSION_ID"],
		PrettyName: values["PRETTY_NAME"],
	}
	if id == "amzn" {
		p.Name = "amazon"
	}

	if family, ok := familyByID[id]; ok {
		p.Family = family
		return p
	}
	for _, like := range strings.Fields(strings.ToLower(values["ID_LIKE"])) {
		if family, ok := familyByID[like]; ok {
			p.Family = family
			break
		}
	}
	return p
}

// DetectPlatform reads os-release through runner, so it works for local and
// remote hosts alike.
func DetectPlatform(ctx context.Context, runner execx.Runner) (Platform, error) {
	res, err := runner.Run(ctx, execx.Invocation{Program: "cat", Args: []string{OSReleasePath}})
	if err != nil {
		return Platform{}, fmt.Errorf("failed to read %s: %w", OSReleasePath, err)
	}
	if !res.Success() {
		return Platform{}, fmt.Errorf("failed to read %s: exit status %d: %s",
			OSReleasePath, res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return ParseOSRelease(res.Stdout), nil
}
