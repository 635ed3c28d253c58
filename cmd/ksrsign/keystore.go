package main

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/miekg/dns"

	"github.com/dnsroot/ksrsign/pkg/config"
	"github.com/dnsroot/ksrsign/pkg/model"
	"github.com/dnsroot/ksrsign/pkg/oracle"
)

// loadKeys reads every configured key's BIND-format private key file (the
// format dnssec-keygen produces, and dns.DNSKEY.ReadPrivateKey parses) and
// registers it with o under its configured label. pkg/config/types.go
// documents the contract: "KeyConfig... cross-referenced against the
// Signing Oracle by Label at ceremony start" — this is where that
// cross-referencing happens, run once before the ceremony begins.
func loadKeys(o *oracle.SoftwareOracle, keys map[string]config.KeyConfig, signersName string) error {
	for name, kc := range keys {
		if kc.KeyFile == "" {
			return fmt.Errorf("keystore: key %q has no key_file configured", name)
		}
		alg, err := model.ParseAlgorithmDNSSEC(kc.Algorithm)
		if err != nil {
			return fmt.Errorf("keystore: key %q: %w", name, err)
		}

		f, err := os.Open(kc.KeyFile)
		if err != nil {
			return fmt.Errorf("keystore: open key file for %q: %w", name, err)
		}

		dnskey := &dns.DNSKEY{
			Hdr:       dns.RR_Header{Name: dns.Fqdn(signersName), Rrtype: dns.TypeDNSKEY, Class: dns.ClassINET},
			Flags:     model.FlagZone | model.FlagSEP,
			Protocol:  3,
			Algorithm: uint8(alg),
		}
		priv, err := dnskey.ReadPrivateKey(f, kc.KeyFile)
		f.Close()
		if err != nil {
			return fmt.Errorf("keystore: read private key for %q: %w", name, err)
		}

		descriptor, signer, signFunc, err := describeKey(priv, alg, kc.Label)
		if err != nil {
			return fmt.Errorf("keystore: key %q: %w", name, err)
		}
		o.Register(descriptor, signer, signFunc)
	}
	return nil
}

// describeKey builds the oracle descriptor and signing adapter for a
// loaded private key, picking the wire-format encoding and signature shape
// (PKCS#1 v1.5 for RSA, raw r||s for ECDSA per RFC 6605) its algorithm
// requires.
func describeKey(priv crypto.PrivateKey, alg model.AlgorithmDNSSEC, label string) (oracle.KeyDescriptor, crypto.Signer, func(crypto.Signer, []byte) ([]byte, error), error) {
	switch key := priv.(type) {
	case *rsa.PrivateKey:
		wire, err := model.EncodeRSAPublicKey(model.RSAPublicKey{Exponent: key.E, N: key.N.Bytes()})
		if err != nil {
			return oracle.KeyDescriptor{}, nil, nil, err
		}
		tag, err := model.CalculateKeyTag(model.Key{Flags: model.FlagZone | model.FlagSEP, Protocol: 3, Algorithm: alg, PublicKey: wire})
		if err != nil {
			return oracle.KeyDescriptor{}, nil, nil, err
		}
		return oracle.KeyDescriptor{Label: label, Algorithm: alg, PublicKeyWire: wire, KeyTag: tag}, key, rsaSignFunc(alg), nil

	case *ecdsa.PrivateKey:
		size := (key.Curve.Params().BitSize + 7) / 8
		raw := make([]byte, 2*size)
		key.X.FillBytes(raw[:size])
		key.Y.FillBytes(raw[size:])
		wire := base64.StdEncoding.EncodeToString(raw)
		tag, err := model.CalculateKeyTag(model.Key{Flags: model.FlagZone | model.FlagSEP, Protocol: 3, Algorithm: alg, PublicKey: wire})
		if err != nil {
			return oracle.KeyDescriptor{}, nil, nil, err
		}
		return oracle.KeyDescriptor{Label: label, Algorithm: alg, PublicKeyWire: wire, KeyTag: tag}, key, ecdsaSignFunc, nil

	default:
		return oracle.KeyDescriptor{}, nil, nil, fmt.Errorf("unsupported private key type %T", priv)
	}
}

// rsaSignFunc returns a PKCS#1 v1.5 signing function using the hash that
// alg names (SHA-1, SHA-256 or SHA-512).
func rsaSignFunc(alg model.AlgorithmDNSSEC) func(crypto.Signer, []byte) ([]byte, error) {
	hash := crypto.SHA256
	switch alg {
	case model.RSASHA1:
		hash = crypto.SHA1
	case model.RSASHA512:
		hash = crypto.SHA512
	}
	return func(signer crypto.Signer, digest []byte) ([]byte, error) {
		return signer.Sign(rand.Reader, digest, hash)
	}
}

// ecdsaSignFunc produces the raw r||s signature RFC 6605 requires, each
// coordinate padded to the curve's byte size, rather than the ASN.1 DER
// encoding crypto.Signer's default Sign path would return.
func ecdsaSignFunc(signer crypto.Signer, digest []byte) ([]byte, error) {
	key, ok := signer.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("ecdsaSignFunc: signer is %T, not *ecdsa.PrivateKey", signer)
	}
	r, s, err := ecdsa.Sign(rand.Reader, key, digest)
	if err != nil {
		return nil, err
	}
	size := (key.Curve.Params().BitSize + 7) / 8
	out := make([]byte, 2*size)
	r.FillBytes(out[:size])
	s.FillBytes(out[size:])
	return out, nil
}
