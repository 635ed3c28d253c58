// Package signer implements the Schema Engine & Signer (spec §4.4): it
// turns a validated Request plus a Schema into a Response by producing
// fresh KSK RRSIGs over each bundle's DNSKEY RRset, per the schema's
// per-slot publish/sign/revoke plan.
package signer

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/miekg/dns"

	"github.com/dnsroot/ksrsign/pkg/metrics"
	"github.com/dnsroot/ksrsign/pkg/model"
	"github.com/dnsroot/ksrsign/pkg/oracle"
)

// Engine signs bundles on behalf of one KSK operator.
type Engine struct {
	Oracle      oracle.SigningOracle
	KeySet      map[string]model.KSKKey // config name -> KSK
	KSKPolicy   model.SignaturePolicy   // KSK operator's own signing policy
	SignersName string                  // RRSIG signer name, e.g. "."
	TTL         uint32                  // DNSKEY TTL for KSK records this engine publishes
}

// NewEngine constructs a Schema Engine bound to oracle, the configured KSK
// set, the operator's signing policy, and the RRSIG signer name/TTL to
// stamp onto every KSK DNSKEY and RRSIG it emits.
func NewEngine(o oracle.SigningOracle, keySet map[string]model.KSKKey, kskPolicy model.SignaturePolicy, signersName string, ttl uint32) *Engine {
	return &Engine{Oracle: o, KeySet: keySet, KSKPolicy: kskPolicy, SignersName: signersName, TTL: ttl}
}

// Sign produces a Response from req according to schema, running the
// Schema Engine's per-slot publish/sign/revoke plan over req.Bundles in
// order. Bundle i of req is matched to schema slot i+1 (schemas are
// 1-indexed per spec §3).
func (e *Engine) Sign(ctx context.Context, req model.Request, schema model.Schema) (model.Response, error) {
	resp := model.Response{
		ID:        req.ID,
		Serial:    req.Serial,
		Domain:    req.Domain,
		Timestamp: req.Timestamp,
		KSKPolicy: e.KSKPolicy,
		Bundles:   make([]model.Bundle, len(req.Bundles)),
	}

	for i, bundle := range req.Bundles {
		action, ok := schema.Actions[i+1]
		if !ok {
			return model.Response{}, fmt.Errorf("signer: schema %q has no action for slot %d", schema.Name, i+1)
		}
		signed, err := e.signBundle(ctx, bundle, action)
		if err != nil {
			return model.Response{}, fmt.Errorf("signer: bundle %s (slot %d): %w", bundle.ID, i+1, err)
		}
		resp.Bundles[i] = signed
		metrics.BundlesProcessed.Set(float64(i + 1))
	}

	return resp, nil
}

// signBundle implements spec §4.4 steps 2-4 for a single bundle: build the
// output DNSKEY RRset (ZSK keys carried forward plus KSK DNSKEYs per
// publish/revoke), sign it with every key named in action.Sign, and emit a
// bundle carrying the merged key set and the union of ZSK and KSK
// signatures.
func (e *Engine) signBundle(ctx context.Context, bundle model.Bundle, action model.SchemaAction) (model.Bundle, error) {
	publishSet := make(map[string]bool, len(action.Publish))
	for _, name := range action.Publish {
		publishSet[string(name)] = true
	}
	revokeSet := make(map[string]bool, len(action.Revoke))
	for _, name := range action.Revoke {
		revokeSet[string(name)] = true
	}

	// A key appears in the output RRset if it is named in publish or
	// revoke; sign-only keys are handled separately below (spec §4.4 step
	// 2: "for each name in publish ∪ sign ∪ revoke", with an exception for
	// keys appearing only in sign).
	dnskeySet := make(map[string]bool, len(publishSet)+len(revokeSet))
	for name := range publishSet {
		dnskeySet[name] = true
	}
	for name := range revokeSet {
		dnskeySet[name] = true
	}

	keys := make([]model.Key, 0, len(bundle.Keys)+len(dnskeySet))
	keys = append(keys, bundle.Keys...) // ZSK keys carried forward unchanged

	kskKeys := make(map[string]model.Key, len(dnskeySet))
	for name := range dnskeySet {
		ksk, ok := e.KeySet[name]
		if !ok {
			return model.Bundle{}, fmt.Errorf("no configured KSK named %q", name)
		}
		descriptor, err := e.Oracle.Describe(ctx, ksk.Label)
		if err != nil {
			return model.Bundle{}, fmt.Errorf("describing KSK %q (label %q): %w", name, ksk.Label, err)
		}

		flags := model.FlagZone | model.FlagSEP
		if revokeSet[name] {
			flags |= model.FlagRevoke
		}
		key := model.Key{
			KeyIdentifier: name,
			KeyTag:        descriptor.KeyTag,
			Algorithm:     ksk.Algorithm,
			Flags:         flags,
			Protocol:      3,
			TTL:           e.TTL,
			PublicKey:     descriptor.PublicKeyWire,
		}
		if revokeSet[name] {
			// The REVOKE bit is part of the RDATA, so the revoked record has
			// its own key tag, distinct from the oracle's unrevoked one.
			tag, err := model.CalculateKeyTag(key)
			if err != nil {
				return model.Bundle{}, fmt.Errorf("key tag for revoked KSK %q: %w", name, err)
			}
			key.KeyTag = tag
		}
		kskKeys[name] = key
		keys = append(keys, key)
	}

	out := bundle
	out.Keys = keys

	signatures := make([]model.Signature, 0, len(bundle.Signatures)+len(action.Sign))
	signatures = append(signatures, bundle.Signatures...) // ZSK proof-of-possession sigs carried forward

	rrset := model.BuildDNSKEYRRset(out, e.SignersName)

	for _, name := range action.Sign {
		key, ok := kskKeys[string(name)]
		if !ok {
			// name is in action.Sign but neither Publish nor Revoke: a
			// sign-only key, not carried in the output DNSKEY RRset, so
			// fall back to the configured KSK directly.
			ksk, ok := e.KeySet[string(name)]
			if !ok {
				return model.Bundle{}, fmt.Errorf("no configured KSK named %q to sign with", name)
			}
			descriptor, err := e.Oracle.Describe(ctx, ksk.Label)
			if err != nil {
				return model.Bundle{}, fmt.Errorf("describing signing KSK %q (label %q): %w", name, ksk.Label, err)
			}
			flags := model.FlagZone | model.FlagSEP
			if revokeSet[string(name)] {
				flags |= model.FlagRevoke
			}
			key = model.Key{
				KeyIdentifier: string(name),
				KeyTag:        descriptor.KeyTag,
				Algorithm:     ksk.Algorithm,
				Flags:         flags,
				Protocol:      3,
				TTL:           e.TTL,
				PublicKey:     descriptor.PublicKeyWire,
			}
		}

		sig, err := e.signRRset(ctx, rrset, key, bundle, string(name))
		if err != nil {
			return model.Bundle{}, fmt.Errorf("signing with KSK %q: %w", name, err)
		}
		signatures = append(signatures, sig)
	}

	out.Signatures = signatures
	if err := out.Validate(); err != nil {
		return model.Bundle{}, err
	}
	return out, nil
}

// signRRset invokes the oracle for the named key over rrset and returns
// the resulting RRSIG as a model.Signature, whose inception and expiration
// are the bundle's own, unchanged.
func (e *Engine) signRRset(ctx context.Context, rrset []dns.RR, signingKey model.Key, bundle model.Bundle, label string) (model.Signature, error) {
	ksk, ok := e.KeySet[label]
	if !ok {
		return model.Signature{}, fmt.Errorf("no configured KSK named %q", label)
	}

	pub, err := publicKeyFromKey(signingKey)
	if err != nil {
		return model.Signature{}, err
	}
	adapter := newOracleSigner(ctx, e.Oracle, ksk.Label, ksk.Algorithm, pub)

	rrsig := &dns.RRSIG{
		Hdr: dns.RR_Header{
			Name:   dns.Fqdn(e.SignersName),
			Rrtype: dns.TypeRRSIG,
			Class:  dns.ClassINET,
			Ttl:    e.TTL,
		},
		TypeCovered: model.TypeCoveredDNSKEY,
		Algorithm:   uint8(ksk.Algorithm),
		Labels:      uint8(dns.CountLabel(dns.Fqdn(e.SignersName))),
		OrigTtl:     e.TTL,
		Expiration:  uint32(bundle.Expiration.Unix()),
		Inception:   uint32(bundle.Inception.Unix()),
		KeyTag:      signingKey.KeyTag,
		SignerName:  dns.Fqdn(e.SignersName),
	}

	if err := rrsig.Sign(adapter, rrset); err != nil {
		return model.Signature{}, fmt.Errorf("rrsig sign: %w", err)
	}

	sigBytes, err := base64.StdEncoding.DecodeString(rrsig.Signature)
	if err != nil {
		return model.Signature{}, fmt.Errorf("decode signature produced by RRSIG.Sign: %w", err)
	}

	return model.Signature{
		KeyIdentifier:       label,
		KeyTag:              rrsig.KeyTag,
		Algorithm:           model.AlgorithmDNSSEC(rrsig.Algorithm),
		TypeCovered:         rrsig.TypeCovered,
		Labels:              rrsig.Labels,
		OriginalTTL:         rrsig.OrigTtl,
		SignatureInception:  bundle.Inception,
		SignatureExpiration: bundle.Expiration,
		SignerName:          e.SignersName,
		SignatureData:       sigBytes,
	}, nil
}
