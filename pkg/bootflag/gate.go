// Package bootflag manages the sentinel file the service manager
// checks before auto-starting scylla on first boot.
package bootflag

import (
	"fmt"
	"os"

	"github.com/hashicorp/go-hclog"
)

// DefaultSentinelPath is where the machine image's service unit looks
// for the start-suppression marker.
const DefaultSentinelPath = "/etc/scylla/ami_disabled"

// Gate controls whether scylla starts automatically on first boot. The
// sentinel file's existence is the entire signal: present means the
// service manager must not start the service.
type Gate struct {
	path   string
	logger hclog.Logger
}

// NewGate creates a gate around the sentinel file at path.
func NewGate(path string, logger hclog.Logger) *Gate {
	return &Gate{path: path, logger: logger}
}

// Path returns the sentinel file location.
func (g *Gate) Path() string {
	return g.path
}

// Apply reconciles the sentinel with the operator's wish. An explicit
// false creates the sentinel; true or no stated preference removes it.
// Both directions are idempotent.
func (g *Gate) Apply(startOnFirstBoot *bool) error {
	if startOnFirstBoot != nil && !*startOnFirstBoot {
		if err := os.WriteFile(g.path, nil, 0o644); err != nil {
			return fmt.Errorf("failed to create sentinel %s: %w", g.path, err)
		}
		g.logger.Info("scylla will not start automatically on first boot", "sentinel", g.path)
		return nil
	}

	if err := os.Remove(g.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove sentinel %s: %w", g.path, err)
	}
	return nil
}
