// Package configure sequences the first-boot configuration of a
// ScyllaDB machine image: instance metadata is fetched once, merged
// into the shipped scylla.yaml, and the optional post-configuration
// script and start policy are applied.
package configure

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/natefinch/atomic"

	"github.com/slivne/scylla-machine-image/pkg/bootflag"
	"github.com/slivne/scylla-machine-image/pkg/metadata"
	"github.com/slivne/scylla-machine-image/pkg/script"
	"github.com/slivne/scylla-machine-image/pkg/scyllayaml"
	"github.com/slivne/scylla-machine-image/pkg/userdata"
)

// DefaultScyllaYAMLPath is where the machine image ships scylla.yaml.
const DefaultScyllaYAMLPath = "/etc/scylla/scylla.yaml"

// Options selects the paths and endpoints of one configuration run.
// Zero values fall back to the production defaults.
type Options struct {
	// MetadataURL is the instance metadata service base URL.
	MetadataURL string
	// ScyllaYAMLPath is the configuration file to rewrite.
	ScyllaYAMLPath string
	// SentinelPath is the first-boot start suppression marker.
	SentinelPath string
}

// Configurator owns one first-boot configuration run. Its operations
// are independently invocable so the boot sequence can call them at
// different points; the fetched override document is shared between
// them.
type Configurator struct {
	opts   Options
	meta   *metadata.Client
	runner *script.Runner
	gate   *bootflag.Gate
	logger hclog.Logger

	overrides *userdata.Spec
}

// New creates a configurator. Unset options take production defaults.
func New(opts Options, logger hclog.Logger) *Configurator {
	if opts.MetadataURL == "" {
		opts.MetadataURL = metadata.DefaultBaseURL
	}
	if opts.ScyllaYAMLPath == "" {
		opts.ScyllaYAMLPath = DefaultScyllaYAMLPath
	}
	if opts.SentinelPath == "" {
		opts.SentinelPath = bootflag.DefaultSentinelPath
	}

	return &Configurator{
		opts:   opts,
		meta:   metadata.NewClient(opts.MetadataURL, logger.Named("metadata")),
		runner: script.NewRunner(logger.Named("script")),
		gate:   bootflag.NewGate(opts.SentinelPath, logger.Named("bootflag")),
		logger: logger,
	}
}

// ConfigureYAML fetches instance metadata and writes the final
// scylla.yaml. The shipped template is preserved next to it as
// scylla.yaml.example before the first mutation.
func (c *Configurator) ConfigureYAML(ctx context.Context) error {
	spec, err := c.userData(ctx)
	if err != nil {
		return err
	}

	privateIPv4, err := c.meta.PrivateIPv4(ctx)
	if err != nil {
		return fmt.Errorf("failed to detect private address: %w", err)
	}

	doc, err := scyllayaml.Load(c.opts.ScyllaYAMLPath)
	if err != nil {
		return err
	}

	if err := c.backupExample(); err != nil {
		return err
	}

	if err := scyllayaml.Merge(doc, privateIPv4, spec.ScyllaYAML); err != nil {
		return fmt.Errorf("failed to merge configuration: %w", err)
	}

	if err := doc.Save(c.opts.ScyllaYAMLPath); err != nil {
		return err
	}

	c.logger.Info("wrote scylla.yaml", "path", c.opts.ScyllaYAMLPath, "listen_address", privateIPv4)
	return nil
}

// RunPostConfigurationScript executes the operator's script, if the
// override document supplied one, bounded by the override timeout.
func (c *Configurator) RunPostConfigurationScript(ctx context.Context) error {
	spec, err := c.userData(ctx)
	if err != nil {
		return err
	}

	encoded, ok := spec.Script()
	if !ok {
		c.logger.Debug("no post-configuration script supplied")
		return nil
	}

	return c.runner.Run(ctx, encoded, spec.ScriptTimeout(script.DefaultTimeout))
}

// ApplyStartPolicy reconciles the first-boot start sentinel with the
// override document.
func (c *Configurator) ApplyStartPolicy(ctx context.Context) error {
	spec, err := c.userData(ctx)
	if err != nil {
		return err
	}

	return c.gate.Apply(spec.StartScyllaOnFirstBoot)
}

// userData fetches and parses the override document once per run.
func (c *Configurator) userData(ctx context.Context) (*userdata.Spec, error) {
	if c.overrides != nil {
		return c.overrides, nil
	}

	raw, err := c.meta.UserData(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user data: %w", err)
	}
	if raw == nil {
		c.logger.Debug("instance has no user data, using defaults")
	}

	spec, err := userdata.Parse(raw)
	if err != nil {
		return nil, err
	}

	c.overrides = spec
	return spec, nil
}

// backupExample preserves the pristine template as scylla.yaml.example.
// An existing backup is left alone so re-runs never overwrite it with
// an already-merged file.
func (c *Configurator) backupExample() error {
	examplePath := c.opts.ScyllaYAMLPath + ".example"
	if _, err := os.Stat(examplePath); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to check %s: %w", examplePath, err)
	}

	data, err := os.ReadFile(c.opts.ScyllaYAMLPath)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", c.opts.ScyllaYAMLPath, err)
	}
	if err := atomic.WriteFile(examplePath, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write %s: %w", examplePath, err)
	}
	return nil
}
