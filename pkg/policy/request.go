// Package policy implements the Request Validator and Response Validator
// (spec §4.2, §4.5): the header/bundles/policy check groups run against an
// incoming KSR, and the reduced check-set run against a produced SKR before
// it is written to disk.
package policy

import (
	"encoding/base64"
	"log/slog"
	"time"

	"github.com/dnsroot/ksrsign/pkg/config"
	"github.com/dnsroot/ksrsign/pkg/ksrerr"
	"github.com/dnsroot/ksrsign/pkg/metrics"
	"github.com/dnsroot/ksrsign/pkg/model"
)

// ValidateRequest runs the three check groups — header, bundles, policy —
// in that fixed order against req, halting on the first violation (spec
// §4.2 "Ordering is fixed... Each phase halts the ceremony on first
// violation"). logger receives one line per check, passed or warned,
// exactly as the driver's audit log requires (spec §7).
func ValidateRequest(req model.Request, p config.RequestPolicy, logger *slog.Logger) error {
	if err := checkHeader(req, p, logger); err != nil {
		return err
	}
	if err := checkBundles(req, p, logger); err != nil {
		return err
	}
	if err := checkPolicyGroup(req, p, logger); err != nil {
		return err
	}
	return nil
}

// check runs fn when enabled, logging a pass/fail line; when disabled it
// logs a warning and reports no violation, per spec §4.2's toggle
// semantics ("disabled checks log a warning and return").
func check(logger *slog.Logger, code ksrerr.Code, enabled bool, fn func() error) error {
	if !enabled {
		logger.Warn("check disabled", "code", string(code))
		metrics.ChecksTotal.WithLabelValues(string(code), "disabled").Inc()
		return nil
	}
	if err := fn(); err != nil {
		logger.Error("check failed", "code", string(code), "error", err)
		metrics.ChecksTotal.WithLabelValues(string(code), "fail").Inc()
		return err
	}
	logger.Info("check passed", "code", string(code))
	metrics.ChecksTotal.WithLabelValues(string(code), "pass").Inc()
	return nil
}

func checkHeader(req model.Request, p config.RequestPolicy, logger *slog.Logger) error {
	return check(logger, ksrerr.CodeDomain, true, func() error {
		for _, d := range p.AcceptableDomains {
			if d == req.Domain {
				return nil
			}
		}
		return ksrerr.NewViolation(ksrerr.CodeDomain, "domain %q not in acceptable_domains %v", req.Domain, p.AcceptableDomains)
	})
}

func checkBundles(req model.Request, p config.RequestPolicy, logger *slog.Logger) error {
	if err := check(logger, ksrerr.CodeBundleUnique, true, func() error {
		return checkBundleUnique(req.Bundles)
	}); err != nil {
		return err
	}

	if err := check(logger, ksrerr.CodeBundleKeys, p.KeysMatchZSKPolicy, func() error {
		return checkBundleKeys(req, p, logger)
	}); err != nil {
		return err
	}

	if err := check(logger, ksrerr.CodeBundlePOP, p.ValidateSignatures, func() error {
		return checkBundlePOP(req.Domain, req.Bundles)
	}); err != nil {
		return err
	}

	if err := check(logger, ksrerr.CodeBundleCount, true, func() error {
		if len(req.Bundles) != p.NumBundles {
			return ksrerr.NewViolation(ksrerr.CodeBundleCount, "expected %d bundles, got %d", p.NumBundles, len(req.Bundles))
		}
		return nil
	}); err != nil {
		return err
	}

	if err := check(logger, ksrerr.CodeBundleCycleLength, p.CheckCycleLength, func() error {
		return checkCycleLength(req.Bundles, p)
	}); err != nil {
		return err
	}

	if err := check(logger, ksrerr.CodeBundleIntervals, p.CheckBundleIntervals, func() error {
		return checkBundleIntervals(req.Bundles, p)
	}); err != nil {
		return err
	}

	if err := check(logger, ksrerr.CodeBundleOverlap, p.CheckBundleOverlap, func() error {
		return checkBundleOverlap(req.Bundles, req.ZSKPolicy)
	}); err != nil {
		return err
	}

	if err := check(logger, ksrerr.CodeBundleCardinality, true, func() error {
		return checkBundleCardinality(req.Bundles, p)
	}); err != nil {
		return err
	}

	return nil
}

func checkBundleUnique(bundles []model.Bundle) error {
	seen := make(map[string]bool, len(bundles))
	for _, b := range bundles {
		if seen[b.ID] {
			return ksrerr.NewViolation(ksrerr.CodeBundleUnique, "duplicate bundle id %q", b.ID)
		}
		seen[b.ID] = true
	}
	return nil
}

// checkBundleKeys implements KSR-BUNDLE-KEYS: cross-bundle key identity,
// algorithm/size/exponent matching against the stated ZSK policy, the ZONE
// flag requirement, and key-tag correctness.
func checkBundleKeys(req model.Request, p config.RequestPolicy, logger *slog.Logger) error {
	seen := make(map[string]model.Key)
	for _, b := range req.Bundles {
		for _, k := range b.Keys {
			if prior, ok := seen[k.KeyIdentifier]; ok {
				if !prior.Equal(k) {
					return ksrerr.NewViolation(ksrerr.CodeBundleKeys,
						"key %q differs across bundles", k.KeyIdentifier)
				}
				continue
			}
			seen[k.KeyIdentifier] = k

			if k.Flags != model.FlagZone {
				return ksrerr.NewViolation(ksrerr.CodeBundleKeys,
					"key %q flags=%d, expected ZONE(256); KSKs do not belong in a KSR", k.KeyIdentifier, k.Flags)
			}

			tag, err := model.CalculateKeyTag(k)
			if err != nil {
				return ksrerr.NewViolation(ksrerr.CodeBundleKeys, "key %q: %v", k.KeyIdentifier, err)
			}
			if tag != k.KeyTag {
				return ksrerr.NewViolation(ksrerr.CodeBundleKeys,
					"key %q key_tag %d does not match computed tag %d", k.KeyIdentifier, k.KeyTag, tag)
			}

			if err := matchesZSKAlgorithmPolicy(k, req.ZSKPolicy, p, logger); err != nil {
				return err
			}
		}
	}
	return nil
}

// matchesZSKAlgorithmPolicy checks k's algorithm/size/exponent against
// req's stated AlgorithmPolicy set, retrying with the exponent ignored
// when p.RSAExponentMatchZSKPolicy is false (spec §4.2).
func matchesZSKAlgorithmPolicy(k model.Key, zskPolicy model.SignaturePolicy, p config.RequestPolicy, logger *slog.Logger) error {
	if k.Algorithm.IsRSA() {
		rsa, err := model.DecodeRSAPublicKey(k.PublicKey)
		if err != nil {
			return ksrerr.NewViolation(ksrerr.CodeBundleKeys, "key %q: %v", k.KeyIdentifier, err)
		}
		for _, ap := range zskPolicy.Algorithms {
			pol, ok := ap.(model.AlgorithmPolicyRSA)
			if !ok || pol.Algorithm() != k.Algorithm {
				continue
			}
			if pol.Bits == rsa.Bits && pol.Exponent == rsa.Exponent {
				return nil
			}
		}
		if !p.RSAExponentMatchZSKPolicy {
			for _, ap := range zskPolicy.Algorithms {
				pol, ok := ap.(model.AlgorithmPolicyRSA)
				if !ok || pol.Algorithm() != k.Algorithm {
					continue
				}
				if pol.Bits == rsa.Bits {
					logger.Warn("key exponent does not match zsk policy, accepted because rsa_exponent_match_zsk_policy=false",
						"code", string(ksrerr.CodeBundleKeys), "key", k.KeyIdentifier, "exponent", rsa.Exponent)
					return nil
				}
			}
		}
		return ksrerr.NewViolation(ksrerr.CodeBundleKeys,
			"key %q (RSA bits=%d exp=%d) matches no zsk_policy algorithm", k.KeyIdentifier, rsa.Bits, rsa.Exponent)
	}

	if k.Algorithm.IsECDSA() {
		raw, err := base64.StdEncoding.DecodeString(k.PublicKey)
		if err != nil {
			return ksrerr.NewViolation(ksrerr.CodeBundleKeys, "key %q: %v", k.KeyIdentifier, err)
		}
		bits, err := model.GetECDSAPubkeySize(model.ECDSAPublicKeyWithoutPrefix(raw))
		if err != nil {
			return ksrerr.NewViolation(ksrerr.CodeBundleKeys, "key %q: %v", k.KeyIdentifier, err)
		}
		for _, ap := range zskPolicy.Algorithms {
			pol, ok := ap.(model.AlgorithmPolicyECDSA)
			if ok && pol.Algorithm() == k.Algorithm && pol.Bits == bits {
				return nil
			}
		}
		return ksrerr.NewViolation(ksrerr.CodeBundleKeys,
			"key %q (ECDSA bits=%d) matches no zsk_policy algorithm", k.KeyIdentifier, bits)
	}

	return ksrerr.NewViolation(ksrerr.CodeBundleKeys, "key %q has unsupported algorithm %s", k.KeyIdentifier, k.Algorithm)
}

// checkBundlePOP implements KSR-BUNDLE-POP: every signature verifies
// against its named key over the bundle's DNSKEY RRset, and every key in
// the bundle has been used by at least one signature. Signature
// inception/expiration are deliberately not checked (pure proof of
// possession).
func checkBundlePOP(ownerName string, bundles []model.Bundle) error {
	for _, b := range bundles {
		signedBy := make(map[string]bool, len(b.Keys))
		for _, sig := range b.Signatures {
			signer, ok := b.KeyByIdentifier(sig.KeyIdentifier)
			if !ok {
				return ksrerr.NewViolation(ksrerr.CodeBundlePOP,
					"bundle %s: signature by unknown key %q", b.ID, sig.KeyIdentifier)
			}
			if err := model.VerifySignature(b, ownerName, sig, signer); err != nil {
				return ksrerr.NewViolation(ksrerr.CodeBundlePOP,
					"bundle %s: signature by %q does not verify: %v", b.ID, sig.KeyIdentifier, err)
			}
			signedBy[sig.KeyIdentifier] = true
		}
		for _, k := range b.Keys {
			if !signedBy[k.KeyIdentifier] {
				return ksrerr.NewViolation(ksrerr.CodeBundlePOP,
					"bundle %s: key %q has no proof-of-possession signature", b.ID, k.KeyIdentifier)
			}
		}
	}
	return nil
}

func checkCycleLength(bundles []model.Bundle, p config.RequestPolicy) error {
	if len(bundles) == 0 {
		return nil
	}
	span := bundles[len(bundles)-1].Inception.Sub(bundles[0].Inception)
	if span < p.MinCycleInceptionLength.Duration || span > p.MaxCycleInceptionLength.Duration {
		return ksrerr.NewViolation(ksrerr.CodeBundleCycleLength,
			"cycle length %s outside [%s, %s]", span, p.MinCycleInceptionLength, p.MaxCycleInceptionLength)
	}
	return nil
}

func checkBundleIntervals(bundles []model.Bundle, p config.RequestPolicy) error {
	for i := 1; i < len(bundles); i++ {
		interval := bundles[i].Inception.Sub(bundles[i-1].Inception)
		if interval < p.MinBundleInterval.Duration || interval > p.MaxBundleInterval.Duration {
			return ksrerr.NewViolation(ksrerr.CodeBundleIntervals,
				"interval between bundle %d and %d is %s, outside [%s, %s]",
				i-1, i, interval, p.MinBundleInterval, p.MaxBundleInterval)
		}
	}
	return nil
}

func checkBundleOverlap(bundles []model.Bundle, zskPolicy model.SignaturePolicy) error {
	for i := 1; i < len(bundles); i++ {
		overlap := bundles[i-1].Expiration.Sub(bundles[i].Inception)
		if overlap < zskPolicy.MinValidityOverlap || overlap > zskPolicy.MaxValidityOverlap {
			return ksrerr.NewViolation(ksrerr.CodeBundleOverlap,
				"overlap between bundle %d and %d is %s, outside [%s, %s]",
				i-1, i, overlap, zskPolicy.MinValidityOverlap, zskPolicy.MaxValidityOverlap)
		}
	}
	return nil
}

func checkBundleCardinality(bundles []model.Bundle, p config.RequestPolicy) error {
	if len(p.NumKeysPerBundle) > 0 {
		if len(p.NumKeysPerBundle) != len(bundles) {
			return ksrerr.NewViolation(ksrerr.CodeBundleCardinality,
				"num_keys_per_bundle has %d entries but request has %d bundles", len(p.NumKeysPerBundle), len(bundles))
		}
		for i, b := range bundles {
			if len(b.Keys) != p.NumKeysPerBundle[i] {
				return ksrerr.NewViolation(ksrerr.CodeBundleCardinality,
					"bundle %d has %d keys, expected %d", i, len(b.Keys), p.NumKeysPerBundle[i])
			}
		}
	}

	distinct := make(map[string]bool)
	for _, b := range bundles {
		for _, k := range b.Keys {
			distinct[k.KeyIdentifier] = true
		}
	}
	if p.NumDifferentKeysInAllBundles > 0 && len(distinct) != p.NumDifferentKeysInAllBundles {
		return ksrerr.NewViolation(ksrerr.CodeBundleCardinality,
			"request has %d distinct keys across all bundles, expected %d", len(distinct), p.NumDifferentKeysInAllBundles)
	}
	return nil
}

func checkPolicyGroup(req model.Request, p config.RequestPolicy, logger *slog.Logger) error {
	if err := check(logger, ksrerr.CodePolicyAlg, p.SignatureAlgorithmsMatchZSKPolicy, func() error {
		return checkPolicyAlg(req.ZSKPolicy, p)
	}); err != nil {
		return err
	}

	if err := check(logger, ksrerr.CodePolicySigHorizon, p.SignatureCheckExpireHorizon, func() error {
		return checkSigHorizon(req.Bundles, p)
	}); err != nil {
		return err
	}

	if err := check(logger, ksrerr.CodePolicyKeys, true, func() error {
		return checkPolicyKeys(req.ZSKPolicy, p)
	}); err != nil {
		return err
	}

	if err := check(logger, ksrerr.CodePolicySigValidity, p.SignatureValidityMatchZSKPolicy, func() error {
		return checkSigValidity(req.Bundles, req.ZSKPolicy)
	}); err != nil {
		return err
	}

	return nil
}

func checkPolicyAlg(zskPolicy model.SignaturePolicy, p config.RequestPolicy) error {
	approved := make(map[string]bool, len(p.ApprovedAlgorithms))
	for _, a := range p.ApprovedAlgorithms {
		approved[a] = true
	}
	for _, ap := range zskPolicy.Algorithms {
		name := ap.Algorithm().String()
		if ap.Algorithm().IsECDSA() && !p.EnableUnsupportedECDSA {
			return ksrerr.NewViolation(ksrerr.CodePolicyAlg,
				"algorithm %s is ECDSA and enable_unsupported_ecdsa is false", name)
		}
		if !approved[name] {
			return ksrerr.NewViolation(ksrerr.CodePolicyAlg, "algorithm %s not in approved_algorithms %v", name, p.ApprovedAlgorithms)
		}
	}
	return nil
}

func checkSigHorizon(bundles []model.Bundle, p config.RequestPolicy) error {
	horizon := time.Duration(p.SignatureHorizonDays) * 24 * time.Hour
	cutoff := time.Now().Add(horizon)
	for _, b := range bundles {
		for _, sig := range b.Signatures {
			if sig.SignatureExpiration.After(cutoff) {
				return ksrerr.NewViolation(ksrerr.CodePolicySigHorizon,
					"bundle %s: signature by %q expires %s, beyond horizon %s",
					b.ID, sig.KeyIdentifier, sig.SignatureExpiration, cutoff)
			}
		}
	}
	return nil
}

func checkPolicyKeys(zskPolicy model.SignaturePolicy, p config.RequestPolicy) error {
	approvedSize := make(map[int]bool, len(p.RSAApprovedKeySizes))
	for _, s := range p.RSAApprovedKeySizes {
		approvedSize[s] = true
	}
	approvedExp := make(map[int]bool, len(p.RSAApprovedExponents))
	for _, e := range p.RSAApprovedExponents {
		approvedExp[e] = true
	}
	for _, ap := range zskPolicy.Algorithms {
		rsa, ok := ap.(model.AlgorithmPolicyRSA)
		if !ok {
			continue
		}
		if !approvedSize[rsa.Bits] {
			return ksrerr.NewViolation(ksrerr.CodePolicyKeys, "RSA size %d not in rsa_approved_key_sizes %v", rsa.Bits, p.RSAApprovedKeySizes)
		}
		if !approvedExp[rsa.Exponent] {
			return ksrerr.NewViolation(ksrerr.CodePolicyKeys, "RSA exponent %d not in rsa_approved_exponents %v", rsa.Exponent, p.RSAApprovedExponents)
		}
	}
	return nil
}

func checkSigValidity(bundles []model.Bundle, zskPolicy model.SignaturePolicy) error {
	for _, b := range bundles {
		for _, sig := range b.Signatures {
			validity := sig.SignatureExpiration.Sub(sig.SignatureInception)
			if validity < zskPolicy.MinSignatureValidity || validity > zskPolicy.MaxSignatureValidity {
				return ksrerr.NewViolation(ksrerr.CodePolicySigValidity,
					"bundle %s: signature by %q has validity %s, outside [%s, %s]",
					b.ID, sig.KeyIdentifier, validity, zskPolicy.MinSignatureValidity, zskPolicy.MaxSignatureValidity)
			}
		}
	}
	return nil
}
