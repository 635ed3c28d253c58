package chain

import (
	"context"
	"crypto"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/dnsroot/ksrsign/pkg/config"
	"github.com/dnsroot/ksrsign/pkg/ledger"
	"github.com/dnsroot/ksrsign/pkg/model"
	"github.com/dnsroot/ksrsign/pkg/oracle"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.db")
	l, err := ledger.Open(path)
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

type noopSigner struct{}

func (noopSigner) Public() crypto.PublicKey                                       { return nil }
func (noopSigner) Sign(rand io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) { return nil, nil }

func zskPolicy(overlapMin, overlapMax, publishSafety, retireSafety time.Duration) model.SignaturePolicy {
	return model.SignaturePolicy{
		MinValidityOverlap: overlapMin,
		MaxValidityOverlap: overlapMax,
		PublishSafety:      publishSafety,
		RetireSafety:        retireSafety,
	}
}

func key(id string) model.Key {
	return model.Key{KeyIdentifier: id, KeyTag: 1, Algorithm: model.RSASHA256, Flags: model.FlagZone, Protocol: 3, TTL: 3600, PublicKey: "AwEAAag="}
}

func TestValidate_FirstCeremonySkipsChainChecks(t *testing.T) {
	l := openTestLedger(t)
	v := &Validator{Ledger: l, Oracle: oracle.NewSoftwareOracle(), KeyLabels: map[string]string{}}

	req := model.Request{ID: "ksr-1"}
	if err := v.Validate(context.Background(), req, nil, config.RequestPolicy{}, testLogger()); err != nil {
		t.Fatalf("expected no error for first ceremony, got %v", err)
	}
}

func TestValidate_RejectsAlreadySeenID(t *testing.T) {
	l := openTestLedger(t)
	if err := l.Record("ksr-1", time.Now().UTC()); err != nil {
		t.Fatalf("Record: %v", err)
	}
	v := &Validator{Ledger: l, Oracle: oracle.NewSoftwareOracle(), KeyLabels: map[string]string{}}

	req := model.Request{ID: "ksr-1"}
	err := v.Validate(context.Background(), req, nil, config.RequestPolicy{}, testLogger())
	if err == nil {
		t.Fatalf("expected KSR-ID rejection for a previously accepted id")
	}
}

func TestCheckChainKeys_MismatchedKeySet(t *testing.T) {
	previous := []model.Bundle{{Keys: []model.Key{key("zsk1")}}}
	current := []model.Bundle{{Keys: []model.Key{key("zsk2")}}}
	if err := checkChainKeys(previous, current); err == nil {
		t.Fatalf("expected chain-keys mismatch error")
	}
}

func TestCheckChainKeys_MatchingKeySet(t *testing.T) {
	previous := []model.Bundle{{Keys: []model.Key{key("zsk1")}}}
	current := []model.Bundle{{Keys: []model.Key{key("zsk1")}}}
	if err := checkChainKeys(previous, current); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestCheckChainOverlap_OutsideWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	previous := []model.Bundle{{Expiration: now.Add(5 * 24 * time.Hour)}}
	current := []model.Bundle{{Inception: now}}
	// overlap = 5 days, outside [9,11] day window
	err := checkChainOverlap(previous, current, zskPolicy(9*24*time.Hour, 11*24*time.Hour, 0, 0))
	if err == nil {
		t.Fatalf("expected overlap violation")
	}
}

func TestCheckChainOverlap_WithinWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	previous := []model.Bundle{{Expiration: now.Add(10 * 24 * time.Hour)}}
	current := []model.Bundle{{Inception: now}}
	err := checkChainOverlap(previous, current, zskPolicy(9*24*time.Hour, 11*24*time.Hour, 0, 0))
	if err != nil {
		t.Fatalf("expected no violation, got %v", err)
	}
}

func TestCheckPublishSafety_TooRecentIntroduction(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	previous := []model.Bundle{{Inception: now.Add(-1 * 24 * time.Hour), Keys: []model.Key{key("ksk_new")}}}
	current := []model.Bundle{{Inception: now, Keys: []model.Key{key("ksk_new")}}}
	err := checkPublishSafety(previous, current, 10*24*time.Hour)
	if err == nil {
		t.Fatalf("expected publish-safety violation: key appeared only 1 day before current inception")
	}
}

func TestCheckPublishSafety_SufficientLeadTime(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	previous := []model.Bundle{{Inception: now.Add(-20 * 24 * time.Hour), Keys: []model.Key{key("ksk_new")}}}
	current := []model.Bundle{{Inception: now, Keys: []model.Key{key("ksk_new")}}}
	err := checkPublishSafety(previous, current, 10*24*time.Hour)
	if err != nil {
		t.Fatalf("expected no violation, got %v", err)
	}
}

func TestCheckPublishSafety_NoPriorHistoryIsIgnored(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	previous := []model.Bundle{{Inception: now.Add(-1 * time.Hour), Keys: []model.Key{key("other")}}}
	current := []model.Bundle{{Inception: now, Keys: []model.Key{key("brand_new")}}}
	err := checkPublishSafety(previous, current, 10*24*time.Hour)
	if err != nil {
		t.Fatalf("key with no prior history should not be checked, got %v", err)
	}
}

func TestCheckRetireSafety_RetiredTooSoon(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	previous := []model.Bundle{{Expiration: now.Add(-1 * 24 * time.Hour), Keys: []model.Key{key("old_zsk")}}}
	current := []model.Bundle{{Inception: now, Keys: []model.Key{key("new_zsk")}}}
	err := checkRetireSafety(previous, current, 10*24*time.Hour)
	if err == nil {
		t.Fatalf("expected retire-safety violation")
	}
}

func TestCheckRetireSafety_KeyStillPresentIsSkipped(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	previous := []model.Bundle{{Expiration: now.Add(-1 * time.Hour), Keys: []model.Key{key("zsk1")}}}
	current := []model.Bundle{{Inception: now, Keys: []model.Key{key("zsk1")}}}
	err := checkRetireSafety(previous, current, 10*24*time.Hour)
	if err != nil {
		t.Fatalf("key still carried forward should never trip retire-safety, got %v", err)
	}
}

func TestCheckPreviousInOracle_MissingLabel(t *testing.T) {
	o := oracle.NewSoftwareOracle()
	v := &Validator{Oracle: o, KeyLabels: map[string]string{}}
	previous := model.Response{Bundles: []model.Bundle{{Signatures: []model.Signature{{KeyIdentifier: "ksk_current"}}}}}
	if err := v.checkPreviousInOracle(context.Background(), previous); err == nil {
		t.Fatalf("expected CodePrevious violation for unlabeled signer")
	}
}

func TestCheckPreviousInOracle_Located(t *testing.T) {
	o := oracle.NewSoftwareOracle()
	o.Register(oracle.KeyDescriptor{Label: "hsm-ksk-1", Algorithm: model.RSASHA256}, noopSigner{}, func(crypto.Signer, []byte) ([]byte, error) {
		return nil, nil
	})
	v := &Validator{Oracle: o, KeyLabels: map[string]string{"ksk_current": "hsm-ksk-1"}}
	previous := model.Response{Bundles: []model.Bundle{{Signatures: []model.Signature{{KeyIdentifier: "ksk_current"}}}}}
	if err := v.checkPreviousInOracle(context.Background(), previous); err != nil {
		t.Fatalf("expected signer to resolve via oracle, got %v", err)
	}
}

func TestAccept_RoundTripsThroughLedger(t *testing.T) {
	l := openTestLedger(t)
	v := &Validator{Ledger: l, Oracle: oracle.NewSoftwareOracle(), KeyLabels: map[string]string{}}
	now := time.Now().UTC().Truncate(time.Second)
	if err := v.Accept("ksr-42", now); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	seen, err := l.Seen("ksr-42")
	if err != nil || !seen {
		t.Fatalf("expected ksr-42 to be recorded, seen=%v err=%v", seen, err)
	}
}
