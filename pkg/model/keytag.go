package model

import (
	"encoding/base64"
	"encoding/binary"
)

// CalculateKeyTag computes the RFC 4034 Appendix B key tag for a DNSKEY
// record. The RDATA is serialized as:
//
//	flags(16) || protocol(8) || algorithm(8) || public_key
//
// The tag is the ones-complement-style sum of the RDATA treated as a
// sequence of 16-bit big-endian words, folded to 16 bits. This formula is
// applied to every algorithm: the separate rule RFC 4034 gives for
// algorithm 1 (RSA/MD5, not supported by this system) is not implemented.
func CalculateKeyTag(k Key) (uint16, error) {
	rdata, err := keyRDATA(k)
	if err != nil {
		return 0, err
	}
	return keyTagFromRDATA(rdata), nil
}

// keyRDATA serializes a DNSKEY's RDATA: flags(16) || protocol(8) ||
// algorithm(8) || public_key, as used both by key-tag computation and by
// canonical RRset ordering.
func keyRDATA(k Key) ([]byte, error) {
	pubkey, err := base64.StdEncoding.DecodeString(k.PublicKey)
	if err != nil {
		return nil, err
	}

	rdata := make([]byte, 4, 4+len(pubkey))
	binary.BigEndian.PutUint16(rdata[0:2], k.Flags)
	rdata[2] = k.Protocol
	rdata[3] = byte(k.Algorithm)
	rdata = append(rdata, pubkey...)
	return rdata, nil
}

func keyTagFromRDATA(rdata []byte) uint16 {
	var sum uint32
	for i, b := range rdata {
		if i%2 == 0 {
			sum += uint32(b) << 8
		} else {
			sum += uint32(b)
		}
	}
	sum += sum >> 16
	return uint16(sum & 0xFFFF)
}
