// Package main provides the scylla-configure CLI that prepares a
// ScyllaDB machine image on its first boot.
package main

import (
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/slivne/scylla-machine-image/pkg/bootflag"
	"github.com/slivne/scylla-machine-image/pkg/configure"
	"github.com/slivne/scylla-machine-image/pkg/metadata"
)

// version is set via -ldflags during build
var version = "dev"

func main() {
	rootCmd := newRootCmd()

	// Cobra handles error printing
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// rootFlags holds the persistent flags shared by every subcommand.
type rootFlags struct {
	metadataURL    string
	scyllaYAMLPath string
	sentinelPath   string
	logLevel       string
}

// newRootCmd creates the root command for scylla-configure
func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:   "scylla-configure",
		Short: "First-boot configuration for ScyllaDB machine images",
		Long: `scylla-configure prepares a ScyllaDB node on the first boot of a cloud VM.

It reads the instance's private address and the operator's optional
override document from the instance metadata service, merges them with
the shipped scylla.yaml, and optionally runs a post-configuration
script and suppresses the automatic service start.`,
		Version: version,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.metadataURL, "metadata-url", metadata.DefaultBaseURL,
		"Base URL of the instance metadata service")
	pf.StringVar(&flags.scyllaYAMLPath, "scylla-yaml", configure.DefaultScyllaYAMLPath,
		"Path of the scylla.yaml file to configure")
	pf.StringVar(&flags.sentinelPath, "sentinel", bootflag.DefaultSentinelPath,
		"Path of the first-boot start suppression marker")
	pf.StringVar(&flags.logLevel, "log-level", "info",
		"Log level (trace, debug, info, warn, error)")

	rootCmd.AddCommand(
		newRunCmd(flags),
		newConfigureCmd(flags),
		newRunScriptCmd(flags),
		newStartPolicyCmd(flags),
	)

	return rootCmd
}

// newRunCmd creates the run subcommand
func newRunCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the full first-boot sequence",
		Long: `Write the final scylla.yaml, execute the post-configuration script and
apply the first-boot start policy, in that order.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := newConfigurator(flags)
			ctx := cmd.Context()

			if err := c.ConfigureYAML(ctx); err != nil {
				return err
			}
			if err := c.RunPostConfigurationScript(ctx); err != nil {
				return err
			}
			return c.ApplyStartPolicy(ctx)
		},
	}
}

// newConfigureCmd creates the configure subcommand
func newConfigureCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "configure",
		Short: "Write the final scylla.yaml",
		Long:  `Fetch instance metadata, merge it with the shipped scylla.yaml and persist the result.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return newConfigurator(flags).ConfigureYAML(cmd.Context())
		},
	}
}

// newRunScriptCmd creates the run-script subcommand
func newRunScriptCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run-script",
		Short: "Run the operator's post-configuration script",
		Long: `Execute the post-configuration script from the override document, if one
was supplied, bounded by its configured timeout.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return newConfigurator(flags).RunPostConfigurationScript(cmd.Context())
		},
	}
}

// newStartPolicyCmd creates the start-policy subcommand
func newStartPolicyCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "start-policy",
		Short: "Apply the first-boot start policy",
		Long: `Create or remove the sentinel file that tells the service manager whether
to start scylla automatically on first boot.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return newConfigurator(flags).ApplyStartPolicy(cmd.Context())
		},
	}
}

// newConfigurator builds the configurator and its logger from flags.
func newConfigurator(flags *rootFlags) *configure.Configurator {
	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "scylla-configure",
		Level: hclog.LevelFromString(flags.logLevel),
	})

	return configure.New(configure.Options{
		MetadataURL:    flags.metadataURL,
		ScyllaYAMLPath: flags.scyllaYAMLPath,
		SentinelPath:   flags.sentinelPath,
	}, logger)
}
