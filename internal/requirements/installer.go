package requirements

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Installer installs the packages declared by a manifest into target.
// It returns the combined installer output and an error when the
// installation did not complete successfully.
type Installer interface {
	Name() string
	Install(ctx context.Context, manifest, target string) ([]byte, error)
}

// DefaultInstallerArgs installs every manifest specifier with npm under target.
var DefaultInstallerArgs = []string{"npm", "install", "--no-save", "--no-package-lock", "--prefix", "{target}", "{packages}"}

const (
	targetPlaceholder   = "{target}"
	manifestPlaceholder = "{manifest}"
	packagesPlaceholder = "{packages}"
)

// CommandInstaller runs a package manager on the host.
type CommandInstaller struct {
	// Args is the argv template; see ExpandArgs.
	Args []string
	// Env is appended to the current environment.
	Env []string
}

func NewCommandInstaller(args []string) *CommandInstaller {
	if len(args) == 0 {
		args = DefaultInstallerArgs
	}
	return &CommandInstaller{Args: args}
}

func (i *CommandInstaller) Name() string {
	return "command"
}

func (i *CommandInstaller) Install(ctx context.Context, manifest, target string) ([]byte, error) {
	packages, err := ReadManifest(manifest)
	if err != nil {
		return nil, err
	}
	if len(packages) == 0 && usesPackages(i.Args) {
		return nil, nil
	}

	args := ExpandArgs(i.Args, manifest, target, packages)
	if len(args) == 0 {
		return nil, fmt.Errorf("empty installer command")
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Env = append(os.Environ(), i.Env...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("%s: %w", strings.Join(args, " "), err)
	}
	return out, nil
}

// ExpandArgs substitutes {target} and {manifest} inside every argument and
// replaces a standalone {packages} argument with the manifest specifiers.
func ExpandArgs(template []string, manifest, target string, packages []string) []string {
	args := make([]string, 0, len(template)+len(packages))
	for _, a := range template {
		if a == packagesPlaceholder {
			args = append(args, packages...)
			continue
		}
		a = strings.ReplaceAll(a, targetPlaceholder, target)
		a = strings.ReplaceAll(a, manifestPlaceholder, manifest)
		args = append(args, a)
	}
	return args
}

func usesPackages(template []string) bool {
	for _, a := range template {
		if a == packagesPlaceholder {
			return true
		}
	}
	return false
}

// ReadManifest returns the dependency specifiers of a manifest, one per
// line. Blank lines and comments are skipped.
func ReadManifest(path string) ([]string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseManifest(content), nil
}

func parseManifest(content []byte) []string {
	var packages []string
	sc := bufio.NewScanner(bytes.NewReader(content))
	for sc.Scan() {
		line := sc.Text()
		if idx := strings.Index(line, "#"); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line != "" {
			packages = append(packages, line)
		}
	}
	return packages
}
