package signer

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"testing"
	"time"

	"github.com/dnsroot/ksrsign/pkg/model"
	"github.com/dnsroot/ksrsign/pkg/oracle"
)

func rsaSignFunc(signer crypto.Signer, digest []byte) ([]byte, error) {
	return signer.Sign(rand.Reader, digest, crypto.SHA256)
}

// registerRSAKey generates an RSA keypair, computes its real key tag, and
// registers it with the oracle under label.
func registerRSAKey(t *testing.T, o *oracle.SoftwareOracle, label string, bits int) string {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	wire, err := model.EncodeRSAPublicKey(model.RSAPublicKey{Exponent: priv.E, N: priv.N.Bytes()})
	if err != nil {
		t.Fatalf("encode public key: %v", err)
	}
	keyTag, err := model.CalculateKeyTag(model.Key{
		Flags: model.FlagZone | model.FlagSEP, Protocol: 3, Algorithm: model.RSASHA256, PublicKey: wire,
	})
	if err != nil {
		t.Fatalf("calculate key tag: %v", err)
	}
	o.Register(oracle.KeyDescriptor{
		Label:         label,
		Algorithm:     model.RSASHA256,
		PublicKeyWire: wire,
		KeyTag:        keyTag,
	}, priv, rsaSignFunc)
	return wire
}

func TestEngineSign_ProducesVerifiableRRSIG(t *testing.T) {
	o := oracle.NewSoftwareOracle()
	zskWire := func() string {
		priv, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			t.Fatalf("generate zsk key: %v", err)
		}
		wire, err := model.EncodeRSAPublicKey(model.RSAPublicKey{Exponent: priv.E, N: priv.N.Bytes()})
		if err != nil {
			t.Fatalf("encode zsk public key: %v", err)
		}
		return wire
	}()
	registerRSAKey(t, o, "ksk-hsm-label", 2048)

	engine := NewEngine(o, map[string]model.KSKKey{
		"ksk_current": {Description: "current KSK", Label: "ksk-hsm-label", Algorithm: model.RSASHA256},
	}, model.SignaturePolicy{}, ".", 172800)

	inception := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	expiration := inception.Add(21 * 24 * time.Hour)
	req := model.Request{
		ID:     "req-1",
		Domain: ".",
		Bundles: []model.Bundle{{
			ID:         "bundle-1",
			Inception:  inception,
			Expiration: expiration,
			Keys: []model.Key{{
				KeyIdentifier: "zsk-1", Algorithm: model.RSASHA256, Flags: model.FlagZone, Protocol: 3, PublicKey: zskWire,
			}},
		}},
	}
	schema := model.Schema{
		Name: "test",
		Actions: map[int]model.SchemaAction{
			1: {Publish: []model.SigningKey{"ksk_current"}, Sign: []model.SigningKey{"ksk_current"}},
		},
	}

	resp, err := engine.Sign(context.Background(), req, schema)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if len(resp.Bundles) != 1 {
		t.Fatalf("expected 1 bundle, got %d", len(resp.Bundles))
	}
	out := resp.Bundles[0]
	if len(out.Keys) != 2 {
		t.Fatalf("expected 2 keys (1 zsk + 1 ksk), got %d", len(out.Keys))
	}
	if len(out.Signatures) != 1 {
		t.Fatalf("expected 1 signature, got %d", len(out.Signatures))
	}

	kskKey, ok := out.KeyByIdentifier("ksk_current")
	if !ok {
		t.Fatalf("ksk_current missing from output bundle")
	}
	if !kskKey.IsSEP() {
		t.Fatalf("expected published KSK to carry the SEP flag")
	}
	if err := model.VerifySignature(out, ".", out.Signatures[0], kskKey); err != nil {
		t.Fatalf("VerifySignature: %v", err)
	}
}

// TestEngineSign_RevokeOnlyKeyEntersRRset exercises a slot where a key is
// named only in action.Revoke, never in action.Publish (e.g. the bundle
// immediately after a KSK's replacement is published elsewhere and this
// slot only carries its revocation). The key must still appear in the
// output DNSKEY RRset with the REVOKE flag set.
func TestEngineSign_RevokeOnlyKeyEntersRRset(t *testing.T) {
	o := oracle.NewSoftwareOracle()
	registerRSAKey(t, o, "ksk-current-label", 2048)

	engine := NewEngine(o, map[string]model.KSKKey{
		"ksk_current": {Description: "retiring KSK", Label: "ksk-current-label", Algorithm: model.RSASHA256},
	}, model.SignaturePolicy{}, ".", 172800)

	inception := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	expiration := inception.Add(21 * 24 * time.Hour)
	req := model.Request{
		ID:     "req-1",
		Domain: ".",
		Bundles: []model.Bundle{{
			ID:         "bundle-1",
			Inception:  inception,
			Expiration: expiration,
		}},
	}
	schema := model.Schema{
		Name: "test",
		Actions: map[int]model.SchemaAction{
			1: {Revoke: []model.SigningKey{"ksk_current"}, Sign: []model.SigningKey{"ksk_current"}},
		},
	}

	resp, err := engine.Sign(context.Background(), req, schema)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	out := resp.Bundles[0]

	kskKey, ok := out.KeyByIdentifier("ksk_current")
	if !ok {
		t.Fatalf("revoke-only ksk_current missing from output bundle")
	}
	if kskKey.Flags&model.FlagRevoke == 0 {
		t.Fatalf("expected REVOKE flag on revoke-only key, got flags %d", kskKey.Flags)
	}
	if len(out.Signatures) != 1 {
		t.Fatalf("expected 1 signature, got %d", len(out.Signatures))
	}
	if err := model.VerifySignature(out, ".", out.Signatures[0], kskKey); err != nil {
		t.Fatalf("VerifySignature: %v", err)
	}
}

func TestPublicKeyFromKey_RSARoundTrip(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	wire, err := model.EncodeRSAPublicKey(model.RSAPublicKey{Exponent: priv.E, N: priv.N.Bytes()})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	pub, err := publicKeyFromKey(model.Key{Algorithm: model.RSASHA256, PublicKey: wire})
	if err != nil {
		t.Fatalf("publicKeyFromKey: %v", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		t.Fatalf("expected *rsa.PublicKey, got %T", pub)
	}
	if rsaPub.E != priv.E || rsaPub.N.Cmp(priv.N) != 0 {
		t.Fatalf("reconstructed public key does not match original")
	}

	digest := sha256.Sum256([]byte("hello"))
	sig, err := priv.Sign(rand.Reader, digest[:], crypto.SHA256)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := rsa.VerifyPKCS1v15(rsaPub, crypto.SHA256, digest[:], sig); err != nil {
		t.Fatalf("verify with reconstructed key: %v", err)
	}
}
