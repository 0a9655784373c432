package cli

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/wagiedev/codex-relay/internal/errors"
)

const (
	// BinaryName is the executable searched for in PATH.
	BinaryName = "codex"

	// MinimumVersion is the oldest codex release known to speak the app-server protocol.
	MinimumVersion = "0.46.0"

	// VersionCheckTimeout is the timeout for the --version probe.
	VersionCheckTimeout = 2 * time.Second
)

var versionPattern = regexp.MustCompile(`([0-9]+\.[0-9]+\.[0-9]+)`)

// Config holds configuration for agent discovery.
type Config struct {
	// AgentPath is an explicit binary path that skips PATH search.
	AgentPath string

	// SkipVersionCheck skips the --version probe.
	SkipVersionCheck bool

	// Logger is an optional logger for discovery operations.
	Logger *slog.Logger
}

// Discoverer locates the agent binary.
type Discoverer interface {
	// Discover returns the path of the agent binary or an AgentNotFoundError.
	Discover(ctx context.Context) (string, error)
}

type discoverer struct {
	cfg *Config
	log *slog.Logger
}

var _ Discoverer = (*discoverer)(nil)

// NewDiscoverer creates a new discoverer with the given configuration.
func NewDiscoverer(cfg *Config) Discoverer {
	if cfg == nil {
		cfg = &Config{}
	}

	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	return &discoverer{
		cfg: cfg,
		log: log.With("component", "discovery"),
	}
}

// Discover locates the agent binary and probes its version.
func (d *discoverer) Discover(ctx context.Context) (string, error) {
	agentPath, err := d.find()
	if err != nil {
		d.log.Error("Failed to find agent binary", "error", err)

		return "", err
	}

	d.log.Debug("Found agent binary", "path", agentPath)

	d.checkVersion(ctx, agentPath)

	return agentPath, nil
}

func (d *discoverer) find() (string, error) {
	if d.cfg.AgentPath != "" {
		if _, err := os.Stat(d.cfg.AgentPath); err == nil {
			return d.cfg.AgentPath, nil
		}

		return "", &errors.AgentNotFoundError{SearchedPaths: []string{d.cfg.AgentPath}}
	}

	searched := make([]string, 0, 4)

	if path, err := exec.LookPath(BinaryName); err == nil {
		return path, nil
	}

	searched = append(searched, "$PATH")

	for _, path := range commonPaths() {
		searched = append(searched, path)

		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}

	d.log.Warn("Agent binary not found", "searched_paths", searched)

	return "", &errors.AgentNotFoundError{SearchedPaths: searched}
}

func commonPaths() []string {
	paths := []string{
		filepath.Join("/usr/local/bin", BinaryName),
		filepath.Join("/usr/bin", BinaryName),
	}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".local", "bin", BinaryName))
	}

	return paths
}

// checkVersion logs a warning when the binary is older than MinimumVersion.
// Probe failures are ignored.
func (d *discoverer) checkVersion(ctx context.Context, agentPath string) {
	if d.cfg.SkipVersionCheck || os.Getenv("CODEX_RELAY_SKIP_VERSION_CHECK") != "" {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, VersionCheckTimeout)
	defer cancel()

	//nolint:gosec // G204: the path comes from discovery
	output, err := exec.CommandContext(ctx, agentPath, "--version").Output()
	if err != nil {
		d.log.Debug("Version probe failed", "error", err)

		return
	}

	version, ok := ParseVersion(string(output))
	if !ok {
		d.log.Debug("Could not parse agent version", "output", strings.TrimSpace(string(output)))

		return
	}

	if compareVersions(version, MinimumVersion) < 0 {
		d.log.Warn("Agent version is older than supported",
			"version", version,
			"minimum_required", MinimumVersion,
		)

		return
	}

	d.log.Debug("Agent version check passed", "version", version)
}

// ParseVersion extracts the first X.Y.Z triple from --version output,
// e.g. "codex-cli 0.47.0".
func ParseVersion(output string) (string, bool) {
	match := versionPattern.FindStringSubmatch(output)
	if match == nil {
		return "", false
	}

	return match[1], true
}

// compareVersions compares two semantic versions.
// Returns -1 if a < b, 0 if a == b, 1 if a > b.
func compareVersions(a, b string) int {
	aParts := strings.Split(a, ".")
	bParts := strings.Split(b, ".")

	for i := range 3 {
		aNum := 0
		bNum := 0

		if i < len(aParts) {
			aNum, _ = strconv.Atoi(aParts[i])
		}

		if i < len(bParts) {
			bNum, _ = strconv.Atoi(bParts[i])
		}

		if aNum < bNum {
			return -1
		}

		if aNum > bNum {
			return 1
		}
	}

	return 0
}
