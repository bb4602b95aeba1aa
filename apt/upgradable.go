package apt

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
)

// Package is one upgradable APT package.
type Package struct {
	Name      string
	Origin    string
	Candidate string
	Arch      string
	Current   string
}

// String formats the package the way the list view shows it.
func (p Package) String() string {
	return fmt.Sprintf("%s %s -> %s", p.Name, p.Current, p.Candidate)
}

// ParseUpgradable parses "apt list --upgradable" output:
//
//	firefox/pika 120.0-1 amd64 [upgradable from: 119.0-1]
//
// Lines that do not look like a package entry ("Listing...", warnings)
// are skipped. The result is sorted by name.
func ParseUpgradable(r io.Reader) ([]Package, error) {
	var pkgs []Package
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if p, ok := parseUpgradableLine(scanner.Text()); ok {
			pkgs = append(pkgs, p)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read package list: %w", err)
	}
	sort.Slice(pkgs, func(i, j int) bool {
		if pkgs[i].Name != pkgs[j].Name {
			return pkgs[i].Name < pkgs[j].Name
		}
		return pkgs[i].Arch < pkgs[j].Arch
	})
	return pkgs, nil
}

func parseUpgradableLine(line string) (Package, bool) {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return Package{}, false
	}
	name, origin, ok := strings.Cut(fields[0], "/")
	if !ok || name == "" {
		return Package{}, false
	}

	p := Package{
		Name:      name,
		Origin:    origin,
		Candidate: fields[1],
		Arch:      fields[2],
	}

	rest := strings.Join(fields[3:], " ")
	if _, from, ok := strings.Cut(rest, "upgradable from:"); ok {
		p.Current = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(from), "]"))
	}
	return p, true
}

// ListUpgradable runs "apt list --upgradable". It does not need root, but
// only reflects the last package list refresh.
func ListUpgradable(ctx context.Context) ([]Package, error) {
	cmd := exec.CommandContext(ctx, "apt", "list", "--upgradable")
	cmd.Env = append(os.Environ(), "LC_ALL=C")
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("apt list --upgradable: %w", commandError(err))
	}
	return ParseUpgradable(strings.NewReader(string(out)))
}

// Names returns the package names in pkgs.
func Names(pkgs []Package) []string {
	names := make([]string, 0, len(pkgs))
	for _, p := range pkgs {
		names = append(names, p.Name)
	}
	return names
}
