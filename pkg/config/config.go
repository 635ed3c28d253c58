package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dnsroot/ksrsign/pkg/ksrerr"
)

// defaultKSKPolicyTTL and defaultKSKPolicySignersName are the spec §6
// defaults for ksk_policy when the YAML omits them.
const (
	defaultKSKPolicyTTL         uint32 = 172800
	defaultKSKPolicySignersName        = "."
)

// strictDecode decodes data into dst, rejecting any YAML key that dst does
// not declare a field for (spec §9: "unknown keys must be rejected",
// exercised by scenario S2). This is yaml.v3's built-in mechanism for that
// contract; no additional schema-validation library is needed.
func strictDecode(data []byte, dst any) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(dst); err != nil {
		return err
	}
	return nil
}

// LoadConfig reads and strictly decodes the main ceremony configuration
// file (hsm, keys, ksk_policy, schemas, filenames).
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ksrerr.ConfigError{Field: "path", Message: "read config file", Cause: err}
	}
	return ParseConfig(data)
}

// ParseConfig strictly decodes a ceremony configuration document from YAML
// bytes.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := strictDecode(data, &cfg); err != nil {
		return nil, &ksrerr.ConfigError{Field: "config", Message: "decode", Cause: err}
	}
	if cfg.KSKPolicy.TTL == 0 {
		cfg.KSKPolicy.TTL = defaultKSKPolicyTTL
	}
	if cfg.KSKPolicy.SignersName == "" {
		cfg.KSKPolicy.SignersName = defaultKSKPolicySignersName
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the cross-field invariants Load can't express through
// zero values alone: every key referenced by a schema must be a configured
// key, and every schema slot's publish/sign/revoke must name a KSK key.
func (c *Config) Validate() error {
	for schemaName, schema := range c.Schemas {
		for slot, action := range schema {
			for _, group := range [][]string{action.Publish, action.Sign, action.Revoke} {
				for _, name := range group {
					if _, ok := c.Keys[name]; !ok {
						return &ksrerr.ConfigError{
							Field:   fmt.Sprintf("schemas.%s[%d]", schemaName, slot),
							Message: fmt.Sprintf("references undefined key %q", name),
						}
					}
				}
			}
		}
	}
	return nil
}

// LoadRequestPolicy reads and strictly decodes a ZSK-operator KSR
// acceptance policy file, applying the spec §6 defaults to any field the
// YAML leaves unset (scenario S1).
func LoadRequestPolicy(path string) (*RequestPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ksrerr.ConfigError{Field: "path", Message: "read request policy file", Cause: err}
	}
	return ParseRequestPolicy(data)
}

// ParseRequestPolicy strictly decodes a RequestPolicy document from YAML
// bytes on top of the spec §6 defaults.
func ParseRequestPolicy(data []byte) (*RequestPolicy, error) {
	policy := defaultRequestPolicy()
	if err := strictDecode(data, &policy); err != nil {
		return nil, &ksrerr.ConfigError{Field: "request_policy", Message: "decode", Cause: err}
	}
	return &policy, nil
}

// LoadResponsePolicy reads and strictly decodes the SKR acceptance policy
// file.
func LoadResponsePolicy(path string) (*ResponsePolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ksrerr.ConfigError{Field: "path", Message: "read response policy file", Cause: err}
	}
	return ParseResponsePolicy(data)
}

// ParseResponsePolicy strictly decodes a ResponsePolicy document from YAML
// bytes on top of its defaults.
func ParseResponsePolicy(data []byte) (*ResponsePolicy, error) {
	policy := defaultResponsePolicy()
	if err := strictDecode(data, &policy); err != nil {
		return nil, &ksrerr.ConfigError{Field: "response_policy", Message: "decode", Cause: err}
	}
	return &policy, nil
}
