package policy

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/miekg/dns"

	"github.com/dnsroot/ksrsign/pkg/config"
	"github.com/dnsroot/ksrsign/pkg/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// signBundlePOP produces a real proof-of-possession RRSIG over bundle's
// DNSKEY RRset using priv, mirroring how a ZSK operator signs a KSR bundle.
func signBundlePOP(t *testing.T, bundle model.Bundle, ownerName string, priv *rsa.PrivateKey, key model.Key) model.Signature {
	t.Helper()
	rrset := model.BuildDNSKEYRRset(bundle, ownerName)
	rrsig := &dns.RRSIG{
		Hdr:         dns.RR_Header{Name: dns.Fqdn(ownerName), Rrtype: dns.TypeRRSIG, Class: dns.ClassINET, Ttl: key.TTL},
		TypeCovered: model.TypeCoveredDNSKEY,
		Algorithm:   uint8(key.Algorithm),
		Labels:      uint8(dns.CountLabel(dns.Fqdn(ownerName))),
		OrigTtl:     key.TTL,
		Expiration:  uint32(bundle.Expiration.Unix()),
		Inception:   uint32(bundle.Inception.Unix()),
		KeyTag:      key.KeyTag,
		SignerName:  dns.Fqdn(ownerName),
	}
	if err := rrsig.Sign(rsaSigner{priv}, rrset); err != nil {
		t.Fatalf("rrsig sign: %v", err)
	}
	sigBytes, err := base64.StdEncoding.DecodeString(rrsig.Signature)
	if err != nil {
		t.Fatalf("decode signature: %v", err)
	}
	return model.Signature{
		KeyIdentifier:       key.KeyIdentifier,
		KeyTag:              key.KeyTag,
		Algorithm:           key.Algorithm,
		TypeCovered:         model.TypeCoveredDNSKEY,
		Labels:              rrsig.Labels,
		OriginalTTL:         key.TTL,
		SignatureInception:  bundle.Inception,
		SignatureExpiration: bundle.Expiration,
		SignerName:          ownerName,
		SignatureData:       sigBytes,
	}
}

type rsaSigner struct{ priv *rsa.PrivateKey }

func (s rsaSigner) Public() crypto.PublicKey { return &s.priv.PublicKey }
func (s rsaSigner) Sign(rand io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	return s.priv.Sign(rand, digest, opts)
}

func buildZSKKeyAndSigner(t *testing.T, id string) (model.Key, *rsa.PrivateKey) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	wire, err := model.EncodeRSAPublicKey(model.RSAPublicKey{Exponent: priv.E, N: priv.N.Bytes()})
	if err != nil {
		t.Fatalf("encode public key: %v", err)
	}
	key := model.Key{
		KeyIdentifier: id, Algorithm: model.RSASHA256, Flags: model.FlagZone, Protocol: 3, TTL: 3600, PublicKey: wire,
	}
	tag, err := model.CalculateKeyTag(key)
	if err != nil {
		t.Fatalf("calculate key tag: %v", err)
	}
	key.KeyTag = tag
	return key, priv
}

func defaultZSKPolicy() model.SignaturePolicy {
	return model.SignaturePolicy{
		MinSignatureValidity: 1 * time.Hour,
		MaxSignatureValidity: 365 * 24 * time.Hour,
		MinValidityOverlap:   1 * time.Hour,
		MaxValidityOverlap:   365 * 24 * time.Hour,
		Algorithms: []model.AlgorithmPolicy{
			model.AlgorithmPolicyRSA{Alg: model.RSASHA256, Bits: 2048, Exponent: 65537},
		},
	}
}

func validRequestPolicy() config.RequestPolicy {
	return config.RequestPolicy{
		AcceptableDomains:                 []string{"."},
		NumBundles:                        1,
		ValidateSignatures:                true,
		KeysMatchZSKPolicy:                true,
		RSAExponentMatchZSKPolicy:         true,
		ApprovedAlgorithms:                []string{"RSASHA256"},
		RSAApprovedKeySizes:               []int{2048},
		RSAApprovedExponents:              []int{65537},
		SignatureAlgorithmsMatchZSKPolicy: true,
	}
}

func TestValidateRequest_AcceptsWellFormedRequest(t *testing.T) {
	key, priv := buildZSKKeyAndSigner(t, "zsk-1")
	inception := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	expiration := inception.Add(21 * 24 * time.Hour)
	bundle := model.Bundle{ID: "bundle-1", Inception: inception, Expiration: expiration, Keys: []model.Key{key}}
	bundle.Signatures = []model.Signature{signBundlePOP(t, bundle, ".", priv, key)}

	req := model.Request{
		ID: "req-1", Domain: ".", ZSKPolicy: defaultZSKPolicy(),
		Bundles: []model.Bundle{bundle},
	}

	if err := ValidateRequest(req, validRequestPolicy(), discardLogger()); err != nil {
		t.Fatalf("expected request to validate, got %v", err)
	}
}

func TestValidateRequest_RejectsUnknownDomain(t *testing.T) {
	key, priv := buildZSKKeyAndSigner(t, "zsk-1")
	inception := time.Now()
	expiration := inception.Add(21 * 24 * time.Hour)
	bundle := model.Bundle{ID: "bundle-1", Inception: inception, Expiration: expiration, Keys: []model.Key{key}}
	bundle.Signatures = []model.Signature{signBundlePOP(t, bundle, "example.org.", priv, key)}

	req := model.Request{ID: "req-1", Domain: "example.org.", ZSKPolicy: defaultZSKPolicy(), Bundles: []model.Bundle{bundle}}
	err := ValidateRequest(req, validRequestPolicy(), discardLogger())
	if err == nil {
		t.Fatalf("expected domain rejection")
	}
}

func TestValidateRequest_RejectsWrongBundleCount(t *testing.T) {
	key, priv := buildZSKKeyAndSigner(t, "zsk-1")
	inception := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	expiration := inception.Add(21 * 24 * time.Hour)
	bundle := model.Bundle{ID: "bundle-1", Inception: inception, Expiration: expiration, Keys: []model.Key{key}}
	bundle.Signatures = []model.Signature{signBundlePOP(t, bundle, ".", priv, key)}

	p := validRequestPolicy()
	p.NumBundles = 9
	req := model.Request{ID: "req-1", Domain: ".", ZSKPolicy: defaultZSKPolicy(), Bundles: []model.Bundle{bundle}}
	if err := ValidateRequest(req, p, discardLogger()); err == nil {
		t.Fatalf("expected bundle count rejection")
	}
}

func TestValidateRequest_RejectsBrokenKeyTag(t *testing.T) {
	key, priv := buildZSKKeyAndSigner(t, "zsk-1")
	key.KeyTag++ // corrupt the stated key tag
	inception := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	expiration := inception.Add(21 * 24 * time.Hour)
	bundle := model.Bundle{ID: "bundle-1", Inception: inception, Expiration: expiration, Keys: []model.Key{key}}
	bundle.Signatures = []model.Signature{signBundlePOP(t, bundle, ".", priv, key)}

	req := model.Request{ID: "req-1", Domain: ".", ZSKPolicy: defaultZSKPolicy(), Bundles: []model.Bundle{bundle}}
	if err := ValidateRequest(req, validRequestPolicy(), discardLogger()); err == nil {
		t.Fatalf("expected key-tag mismatch rejection")
	}
}

func TestValidateRequest_RejectsInvalidPOPSignature(t *testing.T) {
	key, _ := buildZSKKeyAndSigner(t, "zsk-1")
	_, otherPriv := buildZSKKeyAndSigner(t, "zsk-1") // wrong private key for this public key
	inception := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	expiration := inception.Add(21 * 24 * time.Hour)
	bundle := model.Bundle{ID: "bundle-1", Inception: inception, Expiration: expiration, Keys: []model.Key{key}}
	bundle.Signatures = []model.Signature{signBundlePOP(t, bundle, ".", otherPriv, key)}

	req := model.Request{ID: "req-1", Domain: ".", ZSKPolicy: defaultZSKPolicy(), Bundles: []model.Bundle{bundle}}
	if err := ValidateRequest(req, validRequestPolicy(), discardLogger()); err == nil {
		t.Fatalf("expected proof-of-possession rejection")
	}
}
