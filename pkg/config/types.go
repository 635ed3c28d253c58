// Package config loads the ceremony's YAML inputs: the main key/schema
// configuration, and the two policy files (request and response) that are
// loaded from their own files per the CLI's --request_policy/
// --response_policy flags (spec §6).
package config

import "time"

// Config is the top-level ceremony configuration: HSM init parameters, the
// configured KSK key set, the KSK operator's own signature policy, the
// per-slot signing schemas, and the ceremony's file names.
type Config struct {
	HSM       map[string]any          `yaml:"hsm"`
	Keys      map[string]KeyConfig    `yaml:"keys"`
	KSKPolicy KSKPolicyConfig         `yaml:"ksk_policy"`
	Schemas   map[string]SchemaConfig `yaml:"schemas"`
	Filenames FilenamesConfig         `yaml:"filenames"`
}

// KeyConfig describes one configured KSK operator key, cross-referenced
// against the Signing Oracle by Label at ceremony start. KeyFile names the
// BIND-format private key file (as produced by dnssec-keygen, and readable
// with dns.DNSKEY.ReadPrivateKey) the CLI loads and registers with the
// Signing Oracle under Label before the ceremony runs.
type KeyConfig struct {
	Description string     `yaml:"description"`
	Label       string     `yaml:"label"`
	Algorithm   string     `yaml:"algorithm"`
	KeyFile     string     `yaml:"key_file"`
	ValidFrom   time.Time  `yaml:"valid_from"`
	ValidUntil  *time.Time `yaml:"valid_until,omitempty"`
	RSASize     int        `yaml:"rsa_size,omitempty"`
	RSAExponent int        `yaml:"rsa_exponent,omitempty"`
	KeyTag      uint16     `yaml:"key_tag"`
	DSSHA256    string     `yaml:"ds_sha256,omitempty"`
}

// KSKPolicyConfig is the KSK operator's own SignaturePolicy, as configured
// rather than as observed from a ZSK operator's KSR.
type KSKPolicyConfig struct {
	TTL                  uint32      `yaml:"ttl"`
	SignersName          string      `yaml:"signers_name"`
	PublishSafety        ISODuration `yaml:"publish_safety"`
	RetireSafety         ISODuration `yaml:"retire_safety"`
	MaxSignatureValidity ISODuration `yaml:"max_signature_validity"`
	MinSignatureValidity ISODuration `yaml:"min_signature_validity"`
	MaxValidityOverlap   ISODuration `yaml:"max_validity_overlap"`
	MinValidityOverlap   ISODuration `yaml:"min_validity_overlap"`
}

// SchemaConfig is a named, per-slot publish/sign/revoke plan: a mapping of
// slot index (1..N) to the key names that slot publishes, signs with, and
// revokes.
type SchemaConfig map[int]SchemaSlotConfig

// SchemaSlotConfig is one slot's publish/sign/revoke key-name lists. Each
// field accepts either a single key name or a list in the source YAML;
// StringOrList normalizes the singleton case during decode.
type SchemaSlotConfig struct {
	Publish StringOrList `yaml:"publish"`
	Sign    StringOrList `yaml:"sign"`
	Revoke  StringOrList `yaml:"revoke,omitempty"`
}

// FilenamesConfig names the ceremony's input/output files.
type FilenamesConfig struct {
	InputKSR          string `yaml:"input_ksr"`
	OutputSKR         string `yaml:"output_skr"`
	PreviousSKR       string `yaml:"previous_skr,omitempty"`
	OutputTrustAnchor string `yaml:"output_trustanchor,omitempty"`
}
