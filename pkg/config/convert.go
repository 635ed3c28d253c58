package config

import (
	"fmt"

	"github.com/dnsroot/ksrsign/pkg/ksrerr"
	"github.com/dnsroot/ksrsign/pkg/model"
)

// KSKKey resolves one configured key entry into the shared model type,
// parsing its algorithm name against the canonical AlgorithmDNSSEC table.
func (k KeyConfig) KSKKey(name string) (model.KSKKey, error) {
	alg, err := model.ParseAlgorithmDNSSEC(k.Algorithm)
	if err != nil {
		return model.KSKKey{}, &ksrerr.ConfigError{
			Field: fmt.Sprintf("keys.%s.algorithm", name), Message: "unrecognized algorithm", Cause: err,
		}
	}
	return model.KSKKey{
		Description: k.Description,
		Label:       k.Label,
		KeyTag:      k.KeyTag,
		Algorithm:   alg,
		ValidFrom:   k.ValidFrom,
		ValidUntil:  k.ValidUntil,
		RSASize:     k.RSASize,
		RSAExponent: k.RSAExponent,
		DSSHA256:    k.DSSHA256,
	}, nil
}

// KeySet resolves every configured key, keyed by its configuration name
// (the name the schema's publish/sign/revoke lists reference), so the
// Schema Engine never has to re-parse algorithm names at signing time.
func (c *Config) KeySet() (map[string]model.KSKKey, error) {
	out := make(map[string]model.KSKKey, len(c.Keys))
	for name, kc := range c.Keys {
		kk, err := kc.KSKKey(name)
		if err != nil {
			return nil, err
		}
		out[name] = kk
	}
	return out, nil
}

// SignaturePolicy converts the ksk_policy section into the shared
// SignaturePolicy model type. Algorithms is left empty: the KSK operator's
// own policy is bounded by its configured keys, not by a separate approved
// algorithm list the way a ZSK operator's policy is.
func (p KSKPolicyConfig) SignaturePolicy() model.SignaturePolicy {
	return model.SignaturePolicy{
		PublishSafety:        p.PublishSafety.Duration,
		RetireSafety:         p.RetireSafety.Duration,
		MaxSignatureValidity: p.MaxSignatureValidity.Duration,
		MinSignatureValidity: p.MinSignatureValidity.Duration,
		MaxValidityOverlap:   p.MaxValidityOverlap.Duration,
		MinValidityOverlap:   p.MinValidityOverlap.Duration,
	}
}

// Schema converts a named schema configuration into the shared Schema
// model type.
func (c *Config) Schema(name string) (model.Schema, error) {
	sc, ok := c.Schemas[name]
	if !ok {
		return model.Schema{}, &ksrerr.ConfigError{Field: "schemas", Message: fmt.Sprintf("no schema named %q", name)}
	}
	actions := make(map[int]model.SchemaAction, len(sc))
	for slot, a := range sc {
		actions[slot] = model.SchemaAction{
			Publish: toSigningKeys(a.Publish),
			Sign:    toSigningKeys(a.Sign),
			Revoke:  toSigningKeys(a.Revoke),
		}
	}
	return model.Schema{Name: name, Actions: actions}, nil
}

func toSigningKeys(names []string) []model.SigningKey {
	out := make([]model.SigningKey, len(names))
	for i, n := range names {
		out[i] = model.SigningKey(n)
	}
	return out
}
