package signer

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"math/big"

	"github.com/dnsroot/ksrsign/pkg/model"
)

// publicKeyFromKey reconstructs a crypto.PublicKey from a DNSSEC DNSKEY's
// wire-format public key field, so an oracle-backed crypto.Signer can
// advertise a Public() that miekg/dns's RRSIG.Sign uses to pick the
// signing algorithm and hash.
func publicKeyFromKey(k model.Key) (crypto.PublicKey, error) {
	switch {
	case k.Algorithm.IsRSA():
		rsaKey, err := model.DecodeRSAPublicKey(k.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("signer: decode RSA public key: %w", err)
		}
		return &rsa.PublicKey{
			N: new(big.Int).SetBytes(rsaKey.N),
			E: rsaKey.Exponent,
		}, nil

	case k.Algorithm.IsECDSA():
		raw, err := base64.StdEncoding.DecodeString(k.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("signer: decode ECDSA public key: %w", err)
		}
		raw = model.ECDSAPublicKeyWithoutPrefix(raw)
		bits, err := model.GetECDSAPubkeySize(raw)
		if err != nil {
			return nil, fmt.Errorf("signer: %w", err)
		}
		var curve elliptic.Curve
		switch bits {
		case 256:
			curve = elliptic.P256()
		case 384:
			curve = elliptic.P384()
		default:
			return nil, fmt.Errorf("signer: unsupported ECDSA curve size %d bits", bits)
		}
		half := len(raw) / 2
		return &ecdsa.PublicKey{
			Curve: curve,
			X:     new(big.Int).SetBytes(raw[:half]),
			Y:     new(big.Int).SetBytes(raw[half:]),
		}, nil

	default:
		return nil, fmt.Errorf("signer: unsupported algorithm %s", k.Algorithm)
	}
}
