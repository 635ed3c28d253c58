// Package chain implements the Chain Validator (spec §4.3) as its own
// component, separate from the Request and Response Validators: it uses the
// shared data model, configuration, the KSR-id ledger and the signing
// oracle, and does not import pkg/policy — this resolves the circular
// dependency the original tooling had between its KSR and SKR modules
// (spec §9).
package chain

import (
	"context"
	"log/slog"
	"time"

	"github.com/dnsroot/ksrsign/pkg/config"
	"github.com/dnsroot/ksrsign/pkg/ksrerr"
	"github.com/dnsroot/ksrsign/pkg/ledger"
	"github.com/dnsroot/ksrsign/pkg/metrics"
	"github.com/dnsroot/ksrsign/pkg/model"
	"github.com/dnsroot/ksrsign/pkg/oracle"
)

// Validator runs the Chain Validator's checks against a current request, a
// prior response, and the cross-ceremony KSR-id ledger.
type Validator struct {
	Ledger *ledger.Ledger
	Oracle oracle.SigningOracle
	// KeyLabels resolves a KSK's config-name KeyIdentifier (as carried in
	// a Response's Bundle.Keys) to its HSM label, for KSR-PREVIOUS.
	KeyLabels map[string]string
}

func check(logger *slog.Logger, code ksrerr.Code, fn func() error) error {
	if err := fn(); err != nil {
		logger.Error("check failed", "code", string(code), "error", err)
		metrics.ChecksTotal.WithLabelValues(string(code), "fail").Inc()
		return err
	}
	logger.Info("check passed", "code", string(code))
	metrics.ChecksTotal.WithLabelValues(string(code), "pass").Inc()
	return nil
}

// Validate runs every Chain Validator check in spec §4.3 order against a
// new request and its chain predecessor. previous may be nil for the very
// first ceremony in a chain, in which case only KSR-ID is checked.
func (v *Validator) Validate(ctx context.Context, current model.Request, previous *model.Response, p config.RequestPolicy, logger *slog.Logger) error {
	if err := check(logger, ksrerr.CodeID, func() error {
		return v.checkID(current)
	}); err != nil {
		return err
	}

	if previous == nil {
		return nil
	}

	if err := check(logger, ksrerr.CodeChainKeys, func() error {
		return checkChainKeys(previous.Bundles, current.Bundles)
	}); err != nil {
		return err
	}

	if err := check(logger, ksrerr.CodeChainOverlap, func() error {
		return checkChainOverlap(previous.Bundles, current.Bundles, current.ZSKPolicy)
	}); err != nil {
		return err
	}

	if err := check(logger, ksrerr.CodeChainPublishSafety, func() error {
		return checkPublishSafety(previous.Bundles, current.Bundles, current.ZSKPolicy.PublishSafety)
	}); err != nil {
		return err
	}

	if err := check(logger, ksrerr.CodeChainRetireSafety, func() error {
		return checkRetireSafety(previous.Bundles, current.Bundles, current.ZSKPolicy.RetireSafety)
	}); err != nil {
		return err
	}

	if err := check(logger, ksrerr.CodePrevious, func() error {
		return v.checkPreviousInOracle(ctx, *previous)
	}); err != nil {
		return err
	}

	return nil
}

// checkID implements the cross-ceremony half of KSR-ID: current.ID must
// never have been accepted before.
func (v *Validator) checkID(current model.Request) error {
	seen, err := v.Ledger.Seen(current.ID)
	if err != nil {
		return err
	}
	if seen {
		return ksrerr.NewViolation(ksrerr.CodeID, "request id %q was already accepted by a prior ceremony", current.ID)
	}
	return nil
}

// Accept records current's id as accepted, to be called only once the
// ceremony has fully succeeded (spec §4.4: "partial output is never
// written" — an id must not be recorded for output that was never
// produced).
func (v *Validator) Accept(id string, acceptedAt time.Time) error {
	return v.Ledger.Record(id, acceptedAt)
}

func checkChainKeys(previousBundles, currentBundles []model.Bundle) error {
	if len(previousBundles) == 0 || len(currentBundles) == 0 {
		return ksrerr.NewViolation(ksrerr.CodeChainKeys, "chain requires at least one bundle on each side")
	}
	last := previousBundles[len(previousBundles)-1]
	first := currentBundles[0]

	lastKeys := make(map[string]model.Key, len(last.Keys))
	for _, k := range last.Keys {
		lastKeys[k.KeyIdentifier] = k
	}
	firstKeys := make(map[string]model.Key, len(first.Keys))
	for _, k := range first.Keys {
		firstKeys[k.KeyIdentifier] = k
	}

	if len(lastKeys) != len(firstKeys) {
		return ksrerr.NewViolation(ksrerr.CodeChainKeys,
			"previous chain's last bundle has %d keys, current's first bundle has %d", len(lastKeys), len(firstKeys))
	}
	for id, k := range lastKeys {
		other, ok := firstKeys[id]
		if !ok {
			return ksrerr.NewViolation(ksrerr.CodeChainKeys, "key %q present in previous chain is missing from current", id)
		}
		if !k.Equal(other) {
			return ksrerr.NewViolation(ksrerr.CodeChainKeys, "key %q differs between previous chain and current", id)
		}
	}
	return nil
}

func checkChainOverlap(previousBundles, currentBundles []model.Bundle, zskPolicy model.SignaturePolicy) error {
	if len(previousBundles) == 0 || len(currentBundles) == 0 {
		return nil
	}
	last := previousBundles[len(previousBundles)-1]
	first := currentBundles[0]
	overlap := last.Expiration.Sub(first.Inception)
	if overlap < zskPolicy.MinValidityOverlap || overlap > zskPolicy.MaxValidityOverlap {
		return ksrerr.NewViolation(ksrerr.CodeChainOverlap,
			"chain overlap %s outside [%s, %s]", overlap, zskPolicy.MinValidityOverlap, zskPolicy.MaxValidityOverlap)
	}
	return nil
}

// checkPublishSafety implements KSR-CHAIN-PUBLISH-SAFETY: any key newly
// introduced in current's first bundle must have first appeared (in the
// previous chain's retained bundles) at least publishSafety before its
// inception in the current KSR.
func checkPublishSafety(previousBundles, currentBundles []model.Bundle, publishSafety time.Duration) error {
	if len(currentBundles) == 0 {
		return nil
	}
	first := currentBundles[0]
	firstAppearance := make(map[string]time.Time)
	for _, b := range previousBundles {
		for _, k := range b.Keys {
			if _, ok := firstAppearance[k.KeyIdentifier]; !ok {
				firstAppearance[k.KeyIdentifier] = b.Inception
			}
		}
	}
	for _, k := range first.Keys {
		appeared, ok := firstAppearance[k.KeyIdentifier]
		if !ok {
			// No prior history for this key: nothing to check it against.
			continue
		}
		if first.Inception.Sub(appeared) < publishSafety {
			return ksrerr.NewViolation(ksrerr.CodeChainPublishSafety,
				"key %q first published %s before current inception, less than publish_safety %s",
				k.KeyIdentifier, first.Inception.Sub(appeared), publishSafety)
		}
	}
	return nil
}

// checkRetireSafety implements KSR-CHAIN-RETIRE-SAFETY: any key present in
// the previous chain's last bundle but absent from current's first bundle
// must remain past its expiration by at least retireSafety before the
// current chain picks up.
func checkRetireSafety(previousBundles, currentBundles []model.Bundle, retireSafety time.Duration) error {
	if len(previousBundles) == 0 || len(currentBundles) == 0 {
		return nil
	}
	last := previousBundles[len(previousBundles)-1]
	first := currentBundles[0]

	firstKeys := make(map[string]bool, len(first.Keys))
	for _, k := range first.Keys {
		firstKeys[k.KeyIdentifier] = true
	}

	for _, k := range last.Keys {
		if firstKeys[k.KeyIdentifier] {
			continue
		}
		margin := first.Inception.Sub(last.Expiration)
		if margin < retireSafety {
			return ksrerr.NewViolation(ksrerr.CodeChainRetireSafety,
				"key %q retired with only %s past its last expiration, less than retire_safety %s",
				k.KeyIdentifier, margin, retireSafety)
		}
	}
	return nil
}

// checkPreviousInOracle implements KSR-PREVIOUS: every key that signed a
// bundle in the previous response must be locatable in the signing oracle
// by label.
func (v *Validator) checkPreviousInOracle(ctx context.Context, previous model.Response) error {
	signers := make(map[string]bool)
	for _, b := range previous.Bundles {
		for _, sig := range b.Signatures {
			signers[sig.KeyIdentifier] = true
		}
	}
	for id := range signers {
		label, ok := v.KeyLabels[id]
		if !ok {
			return ksrerr.NewViolation(ksrerr.CodePrevious, "signing key %q has no configured HSM label", id)
		}
		if _, err := v.Oracle.Locate(ctx, label); err != nil {
			return ksrerr.NewViolation(ksrerr.CodePrevious, "signing key %q (label %q) not found in oracle: %v", id, label, err)
		}
	}
	return nil
}
