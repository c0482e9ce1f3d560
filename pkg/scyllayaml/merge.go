package scyllayaml

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

const (
	// ClusterNamePrefix prefixes auto-generated cluster names.
	ClusterNamePrefix = "scylladb-cluster-"

	// DefaultRPCAddress makes the CQL transport listen on all interfaces.
	DefaultRPCAddress = "0.0.0.0"

	// DefaultEndpointSnitch is the cloud-aware snitch used on EC2.
	DefaultEndpointSnitch = "org.apache.cassandra.locator.Ec2Snitch"
)

// mergeRule decides the final value of one top-level scylla.yaml key.
// An operator override always wins; fallback supplies the value when no
// override is present.
type mergeRule struct {
	key      string
	fallback func(doc *Document, privateIPv4 string) error
}

// mergeRules is evaluated in order. Keys not listed here are only
// touched when the override document names them, in which case the
// override value replaces the template value wholesale.
var mergeRules = []mergeRule{
	{key: "cluster_name", fallback: generatedClusterName},
	{key: "listen_address", fallback: setPrivateIPv4("listen_address")},
	{key: "broadcast_rpc_address", fallback: setPrivateIPv4("broadcast_rpc_address")},
	{key: "rpc_address", fallback: setFixed("rpc_address", DefaultRPCAddress)},
	{key: "seed_provider", fallback: patchSeedAddress},
	{key: "endpoint_snitch", fallback: setFixed("endpoint_snitch", DefaultEndpointSnitch)},
	{key: "experimental", fallback: setFixed("experimental", false)},
	{key: "auto_bootstrap", fallback: setFixed("auto_bootstrap", true)},
}

// requiredKeys must be present and non-null after a successful merge.
var requiredKeys = []string{
	"cluster_name",
	"listen_address",
	"broadcast_rpc_address",
	"rpc_address",
	"endpoint_snitch",
	"seed_provider",
}

// Merge produces the final node configuration from the template held in
// doc, the detected private IPv4 of the instance and the scylla_yaml
// section of the operator override document (nil when absent).
func Merge(doc *Document, privateIPv4 string, overrides map[string]any) error {
	handled := make(map[string]bool, len(mergeRules))
	for _, rule := range mergeRules {
		handled[rule.key] = true
		if value, ok := overrides[rule.key]; ok {
			if err := doc.Set(rule.key, value); err != nil {
				return err
			}
			continue
		}
		if err := rule.fallback(doc, privateIPv4); err != nil {
			return err
		}
	}

	// Any override key without a rule replaces the template value
	// verbatim. Sorted so repeated runs produce identical output.
	extra := make([]string, 0, len(overrides))
	for key := range overrides {
		if !handled[key] {
			extra = append(extra, key)
		}
	}
	sort.Strings(extra)
	for _, key := range extra {
		if err := doc.Set(key, overrides[key]); err != nil {
			return err
		}
	}

	return validate(doc)
}

// validate checks that every key the service cannot start without made
// it into the merged document.
func validate(doc *Document) error {
	for _, key := range requiredKeys {
		n, ok := doc.Get(key)
		if !ok || n.Tag == "!!null" {
			return fmt.Errorf("merged configuration is missing %s", key)
		}
	}
	return nil
}

// generatedClusterName assigns a fresh unique cluster name.
func generatedClusterName(doc *Document, _ string) error {
	return doc.Set("cluster_name", ClusterNamePrefix+uuid.New().String())
}

func setPrivateIPv4(key string) func(*Document, string) error {
	return func(doc *Document, privateIPv4 string) error {
		return doc.Set(key, privateIPv4)
	}
}

func setFixed(key string, value any) func(*Document, string) error {
	return func(doc *Document, _ string) error {
		return doc.Set(key, value)
	}
}

// patchSeedAddress points the seed of the template's existing seed
// provider at the detected address. The provider entry itself is kept
// as shipped; only the seeds parameter changes.
func patchSeedAddress(doc *Document, privateIPv4 string) error {
	providers, ok := doc.Get("seed_provider")
	if !ok || providers.Kind != yaml.SequenceNode || len(providers.Content) == 0 {
		return errors.New("template scylla.yaml has no seed_provider entry")
	}

	params := mappingValue(providers.Content[0], "parameters")
	if params == nil || params.Kind != yaml.SequenceNode || len(params.Content) == 0 {
		return errors.New("template seed_provider has no parameters")
	}

	seeds := mappingValue(params.Content[0], "seeds")
	if seeds == nil {
		return errors.New("template seed_provider has no seeds parameter")
	}

	seeds.SetString(privateIPv4)
	return nil
}
