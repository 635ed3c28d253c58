package config

// RequestPolicy is the ZSK operator's KSR acceptance policy, a frozen value
// object loaded from its own YAML file (spec §6, §9 "frozen value objects
// for policies"). Every boolean here is a per-check toggle; a disabled
// check still logs its code as a warning rather than silently vanishing
// (spec §7).
type RequestPolicy struct {
	AcceptableDomains []string `yaml:"acceptable_domains"`

	NumBundles int `yaml:"num_bundles"`

	ValidateSignatures bool `yaml:"validate_signatures"`
	KeysMatchZSKPolicy bool `yaml:"keys_match_zsk_policy"`

	// RSAExponentMatchZSKPolicy: when false, a bundle key whose exponent
	// doesn't match any configured AlgorithmPolicy is retried ignoring
	// exponent, logging a warning on success instead of failing outright.
	RSAExponentMatchZSKPolicy bool `yaml:"rsa_exponent_match_zsk_policy"`

	RSAApprovedExponents []int    `yaml:"rsa_approved_exponents"`
	RSAApprovedKeySizes  []int    `yaml:"rsa_approved_key_sizes"`
	ApprovedAlgorithms   []string `yaml:"approved_algorithms"`

	SignatureHorizonDays int `yaml:"signature_horizon_days"`

	NumKeysPerBundle              []int `yaml:"num_keys_per_bundle"`
	NumDifferentKeysInAllBundles  int   `yaml:"num_different_keys_in_all_bundles"`

	CheckCycleLength    bool `yaml:"check_cycle_length"`
	CheckBundleIntervals bool `yaml:"check_bundle_intervals"`
	CheckBundleOverlap  bool `yaml:"check_bundle_overlap"`

	MinCycleInceptionLength ISODuration `yaml:"min_cycle_inception_length"`
	MaxCycleInceptionLength ISODuration `yaml:"max_cycle_inception_length"`
	MinBundleInterval       ISODuration `yaml:"min_bundle_interval"`
	MaxBundleInterval       ISODuration `yaml:"max_bundle_interval"`

	SignatureAlgorithmsMatchZSKPolicy bool `yaml:"signature_algorithms_match_zsk_policy"`
	SignatureCheckExpireHorizon       bool `yaml:"signature_check_expire_horizon"`
	SignatureValidityMatchZSKPolicy   bool `yaml:"signature_validity_match_zsk_policy"`

	EnableUnsupportedECDSA bool `yaml:"enable_unsupported_ecdsa"`

	// DNSTTL is the TTL the Schema Engine stamps on the KSK DNSKEYs and
	// RRSIGs it produces (see EffectiveTTL); the Request Validator does not
	// read it. 0 is a sentinel meaning "fall back to ksk_policy.ttl" (spec §9's
	// preserved dns_ttl=0 open question, resolved in DESIGN.md).
	DNSTTL uint32 `yaml:"dns_ttl"`
}

// EffectiveTTL resolves the dns_ttl=0 sentinel: when DNSTTL is unset the
// KSK operator's own ksk_policy.ttl is used instead (spec §9, preserved
// for compatibility rather than made an error).
func (p RequestPolicy) EffectiveTTL(kskPolicyTTL uint32) uint32 {
	if p.DNSTTL == 0 {
		return kskPolicyTTL
	}
	return p.DNSTTL
}

// DefaultRequestPolicy returns the spec §6 defaults, for callers that run a
// ceremony without a --request_policy file (the CLI flag is optional per
// spec §6; the original tooling resolves the same defaults from its config
// object when no override file is given).
func DefaultRequestPolicy() RequestPolicy {
	return defaultRequestPolicy()
}

// defaultRequestPolicy returns the spec §6 defaults, applied before any
// YAML is decoded on top so that unset fields behave exactly as an empty
// RequestPolicy (scenario S1: loading a file with only validate_signatures
// set still yields every other default).
func defaultRequestPolicy() RequestPolicy {
	return RequestPolicy{
		NumBundles:                        9,
		ValidateSignatures:                true,
		KeysMatchZSKPolicy:                true,
		RSAExponentMatchZSKPolicy:         true,
		RSAApprovedExponents:              []int{65537},
		RSAApprovedKeySizes:               []int{2048},
		ApprovedAlgorithms:                []string{"RSASHA256"},
		SignatureHorizonDays:              180,
		NumKeysPerBundle:                  []int{2, 1, 1, 1, 1, 1, 1, 1, 2},
		NumDifferentKeysInAllBundles:      3,
		CheckCycleLength:                  true,
		CheckBundleIntervals:              true,
		CheckBundleOverlap:                true,
		MinCycleInceptionLength:           mustISODuration("P79D"),
		MaxCycleInceptionLength:           mustISODuration("P81D"),
		MinBundleInterval:                 mustISODuration("P9D"),
		MaxBundleInterval:                 mustISODuration("P11D"),
		SignatureAlgorithmsMatchZSKPolicy: true,
		SignatureCheckExpireHorizon:       true,
		SignatureValidityMatchZSKPolicy:   true,
		EnableUnsupportedECDSA:            false,
		DNSTTL:                            0,
	}
}

func mustISODuration(s string) ISODuration {
	d, err := ParseISODuration(s)
	if err != nil {
		panic(err) // unreachable: literal constants above are well-formed
	}
	return d
}

// ResponsePolicy governs the reduced check-set the Response Validator runs
// on a produced SKR before persistence (spec §4.5): bundle count, id
// uniqueness, and per-bundle RRSIG verification against the just-generated
// public DNSKEYs.
type ResponsePolicy struct {
	NumBundles         int  `yaml:"num_bundles"`
	ValidateSignatures bool `yaml:"validate_signatures"`
}

func defaultResponsePolicy() ResponsePolicy {
	return ResponsePolicy{
		NumBundles:         9,
		ValidateSignatures: true,
	}
}

// DefaultResponsePolicy returns the spec §6 defaults, for callers that run
// a ceremony without a --response_policy file.
func DefaultResponsePolicy() ResponsePolicy {
	return defaultResponsePolicy()
}
