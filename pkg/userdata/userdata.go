// Package userdata parses the operator override document delivered
// through the instance user data.
package userdata

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/hashicorp/go-multierror"
)

// Spec is the operator override document. Every field is optional;
// pointer fields and the nil map record whether a field was present at
// all, so absent and zero values stay distinguishable.
type Spec struct {
	ScyllaYAML                     map[string]any `json:"scylla_yaml"`
	PostConfigurationScript        *string        `json:"post_configuration_script"`
	PostConfigurationScriptTimeout *int64         `json:"post_configuration_script_timeout"`
	StartScyllaOnFirstBoot         *bool          `json:"start_scylla_on_first_boot"`
}

// Parse decodes and validates raw user data. Empty or absent input
// yields a spec with every field absent. Malformed JSON is an error;
// individually invalid fields are reported together.
func Parse(raw []byte) (*Spec, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return &Spec{}, nil
	}

	var spec Spec
	if err := json.Unmarshal(raw, &spec); err != nil {
		return nil, fmt.Errorf("malformed user data: %w", err)
	}

	normalizeNumbers(spec.ScyllaYAML)

	if err := spec.validate(); err != nil {
		return nil, fmt.Errorf("invalid user data: %w", err)
	}

	return &spec, nil
}

// Script returns the base64-encoded post-configuration script, if one
// was supplied.
func (s *Spec) Script() (string, bool) {
	if s.PostConfigurationScript == nil || *s.PostConfigurationScript == "" {
		return "", false
	}
	return *s.PostConfigurationScript, true
}

// ScriptTimeout returns the script deadline, falling back when the
// operator did not supply one.
func (s *Spec) ScriptTimeout(fallback time.Duration) time.Duration {
	if s.PostConfigurationScriptTimeout == nil {
		return fallback
	}
	return time.Duration(*s.PostConfigurationScriptTimeout) * time.Second
}

// validate rejects field values the configurator could only fail on
// later. All findings are reported in one error.
func (s *Spec) validate() error {
	var merr *multierror.Error

	if s.PostConfigurationScript != nil && *s.PostConfigurationScript != "" {
		if _, err := base64.StdEncoding.DecodeString(*s.PostConfigurationScript); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("post_configuration_script is not valid base64: %w", err))
		}
	}

	if s.PostConfigurationScriptTimeout != nil && *s.PostConfigurationScriptTimeout <= 0 {
		merr = multierror.Append(merr, fmt.Errorf(
			"post_configuration_script_timeout must be positive, got %d", *s.PostConfigurationScriptTimeout))
	}

	return merr.ErrorOrNil()
}

// normalizeNumbers rewrites integral JSON numbers as integers so that
// values like port numbers serialize to YAML without a fraction.
func normalizeNumbers(m map[string]any) {
	for key, value := range m {
		m[key] = normalizeValue(value)
	}
}

func normalizeValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		normalizeNumbers(v)
		return v
	case []any:
		for i, e := range v {
			v[i] = normalizeValue(e)
		}
		return v
	case float64:
		if v == math.Trunc(v) && v >= math.MinInt64 && v <= math.MaxInt64 {
			return int64(v)
		}
		return v
	default:
		return value
	}
}
