package config

import (
	"strings"
	"testing"
	"time"
)

func TestParseISODuration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: "P79D", want: 79 * 24 * time.Hour},
		{in: "P9D", want: 9 * 24 * time.Hour},
		{in: "PT1H", want: time.Hour},
		{in: "P1DT12H", want: 24*time.Hour + 12*time.Hour},
		{in: "", wantErr: true},
		{in: "notaduration", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseISODuration(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Duration != tt.want {
				t.Errorf("ParseISODuration(%q) = %v, want %v", tt.in, got.Duration, tt.want)
			}
		})
	}
}

// S1: loading a request policy file with only validate_signatures set
// still yields every other spec §6 default.
func TestParseRequestPolicy_DefaultsApplied(t *testing.T) {
	policy, err := ParseRequestPolicy([]byte("validate_signatures: true\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !policy.ValidateSignatures {
		t.Error("expected validate_signatures == true")
	}
	if policy.NumBundles != 9 {
		t.Errorf("expected default num_bundles == 9, got %d", policy.NumBundles)
	}
	if len(policy.RSAApprovedExponents) != 1 || policy.RSAApprovedExponents[0] != 65537 {
		t.Errorf("expected default rsa_approved_exponents == [65537], got %v", policy.RSAApprovedExponents)
	}
	if policy.MinCycleInceptionLength.Duration != 79*24*time.Hour {
		t.Errorf("expected default min_cycle_inception_length == P79D, got %v", policy.MinCycleInceptionLength)
	}
}

// S2: an unrecognized field must be rejected outright.
func TestParseRequestPolicy_UnknownFieldRejected(t *testing.T) {
	_, err := ParseRequestPolicy([]byte("UNKNOWN: x\n"))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
	if !strings.Contains(err.Error(), "decode") && !strings.Contains(err.Error(), "field") {
		t.Errorf("expected decode/unknown-field error, got: %v", err)
	}
}

func TestParseConfig_UnknownFieldRejected(t *testing.T) {
	_, err := ParseConfig([]byte("not_a_real_key: 1\n"))
	if err == nil {
		t.Fatal("expected error for unknown top-level field")
	}
}

func TestParseConfig_KSKPolicyDefaults(t *testing.T) {
	doc := `
keys:
  ksk_current:
    description: current KSK
    label: KSK_CURRENT
    algorithm: RSASHA256
    valid_from: 2024-01-01T00:00:00Z
    rsa_size: 2048
    rsa_exponent: 65537
    key_tag: 12345
ksk_policy:
  publish_safety: P10D
  retire_safety: P10D
  min_signature_validity: P14D
  max_signature_validity: P21D
  min_validity_overlap: P9D
  max_validity_overlap: P11D
schemas:
  quarterly:
    1:
      publish: ksk_current
      sign: ksk_current
filenames:
  input_ksr: ksr.xml
  output_skr: skr.xml
`
	cfg, err := ParseConfig([]byte(doc))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.KSKPolicy.TTL != defaultKSKPolicyTTL {
		t.Errorf("expected default ttl %d, got %d", defaultKSKPolicyTTL, cfg.KSKPolicy.TTL)
	}
	if cfg.KSKPolicy.SignersName != "." {
		t.Errorf("expected default signers_name '.', got %q", cfg.KSKPolicy.SignersName)
	}
	schema, err := cfg.Schema("quarterly")
	if err != nil {
		t.Fatalf("unexpected error resolving schema: %v", err)
	}
	if len(schema.Actions[1].Publish) != 1 || schema.Actions[1].Publish[0] != "ksk_current" {
		t.Errorf("expected slot 1 to publish ksk_current, got %v", schema.Actions[1].Publish)
	}
}

func TestConfigValidate_UndefinedSchemaKeyRejected(t *testing.T) {
	doc := `
keys:
  ksk_current:
    description: current KSK
    label: KSK_CURRENT
    algorithm: RSASHA256
    valid_from: 2024-01-01T00:00:00Z
    key_tag: 1
ksk_policy:
  publish_safety: P10D
  retire_safety: P10D
  min_signature_validity: P14D
  max_signature_validity: P21D
  min_validity_overlap: P9D
  max_validity_overlap: P11D
schemas:
  quarterly:
    1:
      publish: ksk_unknown
      sign: ksk_unknown
filenames:
  input_ksr: ksr.xml
  output_skr: skr.xml
`
	_, err := ParseConfig([]byte(doc))
	if err == nil {
		t.Fatal("expected error for schema referencing undefined key")
	}
}
