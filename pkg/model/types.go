package model

import (
	"bytes"
	"fmt"
	"sort"
	"time"
)

// SignaturePolicy describes the validity-period and algorithm constraints
// a set of keys/signatures must respect — used both for the ZSK operator's
// stated policy (carried in a Request) and for the KSK operator's own
// signing policy (KSKPolicy.SignaturePolicy).
type SignaturePolicy struct {
	PublishSafety        time.Duration
	RetireSafety          time.Duration
	MaxSignatureValidity time.Duration
	MinSignatureValidity time.Duration
	MaxValidityOverlap   time.Duration
	MinValidityOverlap   time.Duration
	Algorithms           []AlgorithmPolicy
}

// Validate checks the min<=max invariant for each duration pair.
func (p SignaturePolicy) Validate() error {
	if p.MinSignatureValidity > p.MaxSignatureValidity {
		return fmt.Errorf("model: min_signature_validity > max_signature_validity")
	}
	if p.MinValidityOverlap > p.MaxValidityOverlap {
		return fmt.Errorf("model: min_validity_overlap > max_validity_overlap")
	}
	return nil
}

// Key is a single DNSKEY record as carried in a Bundle.
type Key struct {
	KeyIdentifier string // stable label, unique within the bundle set it's drawn from
	KeyTag        uint16
	Algorithm     AlgorithmDNSSEC
	Flags         uint16
	Protocol      uint8 // always 3
	TTL           uint32
	PublicKey     string // base64
}

// Equal reports whether two keys are byte-identical in every field that
// matters for the "same key reused across bundles" invariant.
func (k Key) Equal(other Key) bool {
	return k.KeyIdentifier == other.KeyIdentifier &&
		k.KeyTag == other.KeyTag &&
		k.Algorithm == other.Algorithm &&
		k.Flags == other.Flags &&
		k.Protocol == other.Protocol &&
		k.PublicKey == other.PublicKey
}

// IsSEP reports whether the SEP (KSK) flag bit is set.
func (k Key) IsSEP() bool { return k.Flags&FlagSEP != 0 }

// IsRevoked reports whether the RFC 5011 REVOKE bit is set.
func (k Key) IsRevoked() bool { return k.Flags&FlagRevoke != 0 }

// Signature is a single RRSIG record over a bundle's DNSKEY RRset.
type Signature struct {
	KeyIdentifier       string
	KeyTag              uint16
	Algorithm           AlgorithmDNSSEC
	TypeCovered         uint16 // always DNSKEY (48)
	Labels              uint8
	OriginalTTL         uint32
	SignatureInception  time.Time
	SignatureExpiration time.Time
	SignerName          string
	SignatureData       []byte
}

// TypeCoveredDNSKEY is the RRSIG TypeCovered value for DNSKEY RRsets.
const TypeCoveredDNSKEY uint16 = 48

// Validate checks inception <= expiration.
func (s Signature) Validate() error {
	if s.SignatureInception.After(s.SignatureExpiration) {
		return fmt.Errorf("model: signature inception after expiration")
	}
	return nil
}

// Bundle is one time-slot of a ceremony: a set of keys and the signatures
// that accompany them (ZSK proof-of-possession signatures in a Request,
// plus KSK signatures once a Request has been turned into a Response).
type Bundle struct {
	ID         string
	Inception  time.Time
	Expiration time.Time
	Keys       []Key
	Signatures []Signature
}

// Validate checks the Bundle-local invariants: inception <= expiration and
// every signature names a key that is actually present in the bundle.
func (b Bundle) Validate() error {
	if b.Inception.After(b.Expiration) {
		return fmt.Errorf("model: bundle %s: inception after expiration", b.ID)
	}
	known := make(map[string]bool, len(b.Keys))
	for _, k := range b.Keys {
		known[k.KeyIdentifier] = true
	}
	for _, s := range b.Signatures {
		if !known[s.KeyIdentifier] {
			return fmt.Errorf("model: bundle %s: signature by unknown key %s", b.ID, s.KeyIdentifier)
		}
	}
	return nil
}

// KeyByIdentifier returns the key in the bundle with the given identifier.
func (b Bundle) KeyByIdentifier(id string) (Key, bool) {
	for _, k := range b.Keys {
		if k.KeyIdentifier == id {
			return k, true
		}
	}
	return Key{}, false
}

// SignaturesByKey returns every signature in the bundle made by the named key.
func (b Bundle) SignaturesByKey(id string) []Signature {
	var out []Signature
	for _, s := range b.Signatures {
		if s.KeyIdentifier == id {
			out = append(out, s)
		}
	}
	return out
}

// SortedKeys returns a copy of b.Keys in canonical RFC 4034 §6.3 RRset
// order: ascending by the RDATA treated as a left-justified unsigned byte
// sequence. Keys whose RDATA fails to decode sort last and stably among
// themselves, so a single malformed key can't hide others from signing.
func (b Bundle) SortedKeys() []Key {
	out := make([]Key, len(b.Keys))
	copy(out, b.Keys)
	rdata := make(map[string][]byte, len(out))
	for _, k := range out {
		if r, err := keyRDATA(k); err == nil {
			rdata[k.KeyIdentifier] = r
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		ri, oki := rdata[out[i].KeyIdentifier]
		rj, okj := rdata[out[j].KeyIdentifier]
		if !oki || !okj {
			return oki && !okj
		}
		return bytes.Compare(ri, rj) < 0
	})
	return out
}

// Summary renders a one-line human-readable description of the bundle,
// mirroring the original tooling's pre-validation log dump of loaded
// bundles (format_bundles_for_humans).
func (b Bundle) Summary() string {
	return fmt.Sprintf("bundle %s: %d keys, %d signatures, inception=%s expiration=%s",
		b.ID, len(b.Keys), len(b.Signatures),
		b.Inception.Format(time.RFC3339), b.Expiration.Format(time.RFC3339))
}

// Request is a parsed Key Signing Request (KSR).
type Request struct {
	ID        string
	Serial    string
	Domain    string
	Timestamp time.Time
	ZSKPolicy SignaturePolicy
	Bundles   []Bundle // ordered by Inception ascending
}

// Response is a parsed/produced Signed Key Response (SKR). It has the same
// shape as Request but carries the KSK operator's own SignaturePolicy, and
// its bundles additionally carry KSK signatures once signed.
type Response struct {
	ID        string
	Serial    string
	Domain    string
	Timestamp time.Time
	KSKPolicy SignaturePolicy
	Bundles   []Bundle
}

// SigningKey names a configured KSK by its "keys:" section name (e.g.
// "ksk_current"), not by its HSM label.
type SigningKey string

// SchemaAction lists, for one bundle slot, which configured KSKs to
// publish, sign with, and revoke.
type SchemaAction struct {
	Publish []SigningKey
	Sign    []SigningKey
	Revoke  []SigningKey
}

// Schema is a named, per-slot publish/sign/revoke plan used by the Schema
// Engine & Signer.
type Schema struct {
	Name    string
	Actions map[int]SchemaAction // slot index 1..N
}

// KSKKey is a configured KSK operator key: the static description loaded
// from configuration and cross-referenced against the Signing Oracle by
// Label. Lifecycle: loaded once at ceremony start, immutable thereafter.
type KSKKey struct {
	Description string
	Label       string // HSM CKA_LABEL
	KeyTag      uint16
	Algorithm   AlgorithmDNSSEC
	ValidFrom   time.Time
	ValidUntil  *time.Time
	RSASize     int
	RSAExponent int
	DSSHA256    string
}

// ActiveAt reports whether the key is within its configured validity window.
func (k KSKKey) ActiveAt(t time.Time) bool {
	if t.Before(k.ValidFrom) {
		return false
	}
	if k.ValidUntil != nil && t.After(*k.ValidUntil) {
		return false
	}
	return true
}
