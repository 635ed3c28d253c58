package model

import (
	"encoding/base64"
	"fmt"

	"github.com/miekg/dns"
)

// ToDNSKEY converts a Key into a miekg/dns wire-format record, owned by
// ownerName (the zone the bundle belongs to, e.g. "."). This is the seam
// between our domain model and the RRSIG.Sign/RRSIG.Verify machinery in
// github.com/miekg/dns, which does the actual RFC 4034 canonicalization
// and cryptography.
func ToDNSKEY(k Key, ownerName string) *dns.DNSKEY {
	return &dns.DNSKEY{
		Hdr: dns.RR_Header{
			Name:   dns.Fqdn(ownerName),
			Rrtype: dns.TypeDNSKEY,
			Class:  dns.ClassINET,
			Ttl:    k.TTL,
		},
		Flags:     k.Flags,
		Protocol:  k.Protocol,
		Algorithm: uint8(k.Algorithm),
		PublicKey: k.PublicKey,
	}
}

// KeyFromDNSKEY converts a miekg/dns DNSKEY record back into a Key,
// computing its key tag via dns.DNSKEY.KeyTag() (the wire-format
// equivalent of CalculateKeyTag, used when building keys straight off an
// HSM public key rather than off parsed XML).
func KeyFromDNSKEY(id string, rr *dns.DNSKEY) Key {
	return Key{
		KeyIdentifier: id,
		KeyTag:        rr.KeyTag(),
		Algorithm:     AlgorithmDNSSEC(rr.Algorithm),
		Flags:         rr.Flags,
		Protocol:      rr.Protocol,
		TTL:           rr.Hdr.Ttl,
		PublicKey:     rr.PublicKey,
	}
}

// ToRRSIG converts a Signature into a miekg/dns wire-format record over
// ownerName, suitable for passing to RRSIG.Verify.
func ToRRSIG(s Signature, ownerName string) *dns.RRSIG {
	return &dns.RRSIG{
		Hdr: dns.RR_Header{
			Name:   dns.Fqdn(ownerName),
			Rrtype: dns.TypeRRSIG,
			Class:  dns.ClassINET,
			Ttl:    s.OriginalTTL,
		},
		TypeCovered: s.TypeCovered,
		Algorithm:   uint8(s.Algorithm),
		Labels:      s.Labels,
		OrigTtl:     s.OriginalTTL,
		Expiration:  uint32(s.SignatureExpiration.Unix()),
		Inception:   uint32(s.SignatureInception.Unix()),
		KeyTag:      s.KeyTag,
		SignerName:  dns.Fqdn(s.SignerName),
		Signature:   base64.StdEncoding.EncodeToString(s.SignatureData),
	}
}

// BuildDNSKEYRRset converts a Bundle's canonically-sorted keys into wire
// records owned by ownerName, ready to pass to RRSIG.Sign/RRSIG.Verify.
func BuildDNSKEYRRset(b Bundle, ownerName string) []dns.RR {
	sorted := b.SortedKeys()
	rrset := make([]dns.RR, len(sorted))
	for i, k := range sorted {
		rrset[i] = ToDNSKEY(k, ownerName)
	}
	return rrset
}

// VerifySignature checks that sig is a valid RRSIG over the bundle's
// DNSKEY RRset, made by signingKey. Inception/expiration are NOT checked
// here — callers that care about temporal validity (policy checks, not
// proof-of-possession) must do so separately, per spec semantics where POP
// verification ignores the signature's stated validity window.
func VerifySignature(b Bundle, ownerName string, sig Signature, signingKey Key) error {
	rrset := BuildDNSKEYRRset(b, ownerName)
	rrsig := ToRRSIG(sig, ownerName)
	dnskey := ToDNSKEY(signingKey, ownerName)
	if err := rrsig.Verify(dnskey, rrset); err != nil {
		return fmt.Errorf("model: signature verification failed: %w", err)
	}
	return nil
}
