// Package oracle defines the Signing Oracle capability set (spec §4.6):
// list_keys / locate / sign, abstracted so a ceremony never touches
// private-key material directly. HSM-backed oracles are out of scope here
// (no PKCS#11 binding appears anywhere in the retrieval pack); SoftwareOracle
// is the pure-software implementation used by tests and by operators who
// keep KSK material in an ordinary keystore rather than an HSM.
package oracle

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"sync"

	"github.com/dnsroot/ksrsign/pkg/model"
)

// ErrKeyNotFound mirrors the teacher's store.ErrKeyNotFound sentinel: a
// requested label has no matching key in the oracle.
var ErrKeyNotFound = errors.New("oracle: key not found")

// ErrSignFailed wraps any underlying signing failure (wrong algorithm,
// backend I/O, malformed input).
var ErrSignFailed = errors.New("oracle: signing failed")

// KeyDescriptor is one entry of ListKeys' result set.
type KeyDescriptor struct {
	Label         string
	Algorithm     model.AlgorithmDNSSEC
	PublicKeyWire string // base64 DNSKEY public-key field
	KeyTag        uint16
}

// KeyHandle is an opaque reference returned by Locate; callers pass it back
// unexamined to Sign.
type KeyHandle struct {
	Label     string
	Algorithm model.AlgorithmDNSSEC
}

// SigningOracle is the abstract capability set every ceremony driver talks
// to — HSM-backed or software-backed, the Schema Engine never knows which.
type SigningOracle interface {
	ListKeys(ctx context.Context) ([]KeyDescriptor, error)
	Locate(ctx context.Context, label string) (KeyHandle, error)
	Describe(ctx context.Context, label string) (KeyDescriptor, error)
	Sign(ctx context.Context, label string, algorithm model.AlgorithmDNSSEC, data []byte) ([]byte, error)
}

// SoftwareOracle is a pure in-memory SigningOracle backed by crypto.Signer
// values, the software-key analogue of the teacher's dnssec.KeyManager.
// Every key lives for the process lifetime only; there is no persistence,
// because a ceremony's signing keys are loaded fresh from a keystore at
// startup and discarded at exit (spec §5: "single process handles one
// ceremony end-to-end").
type SoftwareOracle struct {
	mu   sync.RWMutex
	keys map[string]softwareKey
}

type softwareKey struct {
	descriptor KeyDescriptor
	signer     crypto.Signer
	signFunc   func(signer crypto.Signer, data []byte) ([]byte, error)
}

// NewSoftwareOracle creates an empty oracle; keys are registered with
// Register before the ceremony starts.
func NewSoftwareOracle() *SoftwareOracle {
	return &SoftwareOracle{keys: make(map[string]softwareKey)}
}

// Register adds a key to the oracle under label, using signFunc to produce
// the wire-format signature bytes RRSIG.Sign expects for its algorithm
// (RSA PKCS#1 v1.5 with the algorithm's hash, or raw ECDSA r‖s, per spec
// §4.6).
func (o *SoftwareOracle) Register(descriptor KeyDescriptor, signer crypto.Signer, signFunc func(crypto.Signer, []byte) ([]byte, error)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.keys[descriptor.Label] = softwareKey{descriptor: descriptor, signer: signer, signFunc: signFunc}
}

func (o *SoftwareOracle) ListKeys(ctx context.Context) ([]KeyDescriptor, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]KeyDescriptor, 0, len(o.keys))
	for _, k := range o.keys {
		out = append(out, k.descriptor)
	}
	return out, nil
}

func (o *SoftwareOracle) Locate(ctx context.Context, label string) (KeyHandle, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	k, ok := o.keys[label]
	if !ok {
		return KeyHandle{}, fmt.Errorf("%w: label %q", ErrKeyNotFound, label)
	}
	return KeyHandle{Label: label, Algorithm: k.descriptor.Algorithm}, nil
}

// Describe returns the full key descriptor for label, including its
// public-key wire bytes, used by the Schema Engine to build output DNSKEY
// records for keys it doesn't itself hold private material for.
func (o *SoftwareOracle) Describe(ctx context.Context, label string) (KeyDescriptor, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	k, ok := o.keys[label]
	if !ok {
		return KeyDescriptor{}, fmt.Errorf("%w: label %q", ErrKeyNotFound, label)
	}
	return k.descriptor, nil
}

func (o *SoftwareOracle) Sign(ctx context.Context, label string, algorithm model.AlgorithmDNSSEC, data []byte) ([]byte, error) {
	o.mu.RLock()
	k, ok := o.keys[label]
	o.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: label %q", ErrKeyNotFound, label)
	}
	if k.descriptor.Algorithm != algorithm {
		return nil, fmt.Errorf("%w: label %q registered for %s, asked to sign as %s", ErrSignFailed, label, k.descriptor.Algorithm, algorithm)
	}
	sig, err := k.signFunc(k.signer, data)
	if err != nil {
		return nil, fmt.Errorf("%w: label %q: %v", ErrSignFailed, label, err)
	}
	return sig, nil
}
