// Package xmlcodec (de)serializes KSR/SKR documents to and from the
// canonical DNSSEC root KSR XML schema (spec §6). XML parsing is deliberately
// kept thin and built on stdlib encoding/xml rather than a third-party
// library: the schema is small (two root elements, flat nesting), none of
// the pack's examples touch XML at all, and encoding/xml's struct-tag
// mapping already expresses it directly with no hand-rolled parsing.
package xmlcodec

import (
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"time"

	"github.com/dnsroot/ksrsign/pkg/config"
	"github.com/dnsroot/ksrsign/pkg/ksrerr"
	"github.com/dnsroot/ksrsign/pkg/model"
)

const timeLayout = "2006-01-02T15:04:05Z07:00"

// xmlDocument is the shared shape of both KeySigningRequest and
// SignedKeyResponse root elements; only the element name and which policy
// block ("ZSK"/"KSK") is present differs between them.
type xmlDocument struct {
	XMLName   xml.Name        `xml:""`
	ID        string          `xml:"id,attr"`
	Serial    string          `xml:"serial,attr"`
	Domain    string          `xml:"domain,attr"`
	Timestamp string          `xml:"timestamp,attr"`
	Zone      *xmlPolicyBlock `xml:"SignaturePolicy>ZSK,omitempty"`
	KSK       *xmlPolicyBlock `xml:"SignaturePolicy>KSK,omitempty"`
	Bundles   []xmlBundle     `xml:"Bundle"`
}

type xmlPolicyBlock struct {
	PublishSafety        string           `xml:"PublishSafety"`
	RetireSafety         string           `xml:"RetireSafety"`
	MaxSignatureValidity string           `xml:"MaxSignatureValidity"`
	MinSignatureValidity string           `xml:"MinSignatureValidity"`
	MaxValidityOverlap   string           `xml:"MaxValidityOverlap"`
	MinValidityOverlap   string           `xml:"MinValidityOverlap"`
	Algorithms           []xmlAlgorithm   `xml:"Algorithm"`
}

type xmlAlgorithm struct {
	Algorithm uint8      `xml:"algorithm,attr"`
	RSA       *xmlRSA    `xml:"RSA,omitempty"`
	ECDSA     *xmlECDSA  `xml:"ECDSA,omitempty"`
}

type xmlRSA struct {
	Size     int `xml:"size,attr"`
	Exponent int `xml:"exponent,attr"`
}

type xmlECDSA struct {
	Size int `xml:"size,attr"`
}

type xmlBundle struct {
	ID         string      `xml:"id,attr"`
	Inception  string      `xml:"Inception"`
	Expiration string      `xml:"Expiration"`
	Keys       []xmlKey    `xml:"Key"`
	Signatures []xmlSig    `xml:"Signature"`
}

type xmlKey struct {
	KeyIdentifier string `xml:"keyIdentifier,attr"`
	KeyTag        uint16 `xml:"KeyTag"`
	Algorithm     uint8  `xml:"Algorithm"`
	Flags         uint16 `xml:"Flags"`
	Protocol      uint8  `xml:"Protocol"`
	TTL           uint32 `xml:"TTL"`
	PublicKey     string `xml:"PublicKey"`
}

type xmlSig struct {
	KeyIdentifier       string `xml:"keyIdentifier,attr"`
	TTL                 uint32 `xml:"TTL"`
	TypeCovered         string `xml:"TypeCovered"`
	Algorithm           uint8  `xml:"Algorithm"`
	Labels              uint8  `xml:"Labels"`
	OriginalTTL         uint32 `xml:"OriginalTTL"`
	SignatureExpiration string `xml:"SignatureExpiration"`
	SignatureInception  string `xml:"SignatureInception"`
	KeyTag              uint16 `xml:"KeyTag"`
	SignerName          string `xml:"SignerName"`
	SignatureData       string `xml:"SignatureData"`
}

func codecErr(context string, err error) error {
	return &ksrerr.CodecError{Context: context, Cause: err}
}

// DecodeRequest parses a KeySigningRequest document.
func DecodeRequest(r io.Reader) (model.Request, error) {
	var doc xmlDocument
	dec := xml.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return model.Request{}, codecErr("decode KeySigningRequest", err)
	}
	if doc.XMLName.Local != "KeySigningRequest" {
		return model.Request{}, codecErr("decode KeySigningRequest", fmt.Errorf("unexpected root element %q", doc.XMLName.Local))
	}
	ts, err := parseTime(doc.Timestamp)
	if err != nil {
		return model.Request{}, codecErr("KeySigningRequest timestamp", err)
	}
	zskPolicy, err := decodePolicy(doc.Zone)
	if err != nil {
		return model.Request{}, codecErr("ZSK SignaturePolicy", err)
	}
	bundles, err := decodeBundles(doc.Bundles)
	if err != nil {
		return model.Request{}, err
	}
	return model.Request{
		ID:        doc.ID,
		Serial:    doc.Serial,
		Domain:    doc.Domain,
		Timestamp: ts,
		ZSKPolicy: zskPolicy,
		Bundles:   bundles,
	}, nil
}

// DecodeResponse parses a SignedKeyResponse document (used to load the
// previous ceremony's output for chain validation).
func DecodeResponse(r io.Reader) (model.Response, error) {
	var doc xmlDocument
	dec := xml.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return model.Response{}, codecErr("decode SignedKeyResponse", err)
	}
	if doc.XMLName.Local != "SignedKeyResponse" {
		return model.Response{}, codecErr("decode SignedKeyResponse", fmt.Errorf("unexpected root element %q", doc.XMLName.Local))
	}
	ts, err := parseTime(doc.Timestamp)
	if err != nil {
		return model.Response{}, codecErr("SignedKeyResponse timestamp", err)
	}
	kskPolicy, err := decodePolicy(doc.KSK)
	if err != nil {
		return model.Response{}, codecErr("KSK SignaturePolicy", err)
	}
	bundles, err := decodeBundles(doc.Bundles)
	if err != nil {
		return model.Response{}, err
	}
	return model.Response{
		ID:        doc.ID,
		Serial:    doc.Serial,
		Domain:    doc.Domain,
		Timestamp: ts,
		KSKPolicy: kskPolicy,
		Bundles:   bundles,
	}, nil
}

// EncodeResponse writes resp as a SignedKeyResponse document.
func EncodeResponse(w io.Writer, resp model.Response) error {
	doc := xmlDocument{
		XMLName:   xml.Name{Local: "SignedKeyResponse"},
		ID:        resp.ID,
		Serial:    resp.Serial,
		Domain:    resp.Domain,
		Timestamp: resp.Timestamp.UTC().Format(timeLayout),
		KSK:       encodePolicy(resp.KSKPolicy),
		Bundles:   encodeBundles(resp.Bundles),
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return codecErr("encode SignedKeyResponse", err)
	}
	_, err := w.Write([]byte("\n"))
	return err
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func decodePolicy(block *xmlPolicyBlock) (model.SignaturePolicy, error) {
	if block == nil {
		return model.SignaturePolicy{}, nil
	}
	publishSafety, err := config.ParseISODuration(block.PublishSafety)
	if err != nil {
		return model.SignaturePolicy{}, fmt.Errorf("PublishSafety: %w", err)
	}
	retireSafety, err := config.ParseISODuration(block.RetireSafety)
	if err != nil {
		return model.SignaturePolicy{}, fmt.Errorf("RetireSafety: %w", err)
	}
	maxSigValidity, err := config.ParseISODuration(block.MaxSignatureValidity)
	if err != nil {
		return model.SignaturePolicy{}, fmt.Errorf("MaxSignatureValidity: %w", err)
	}
	minSigValidity, err := config.ParseISODuration(block.MinSignatureValidity)
	if err != nil {
		return model.SignaturePolicy{}, fmt.Errorf("MinSignatureValidity: %w", err)
	}
	maxOverlap, err := config.ParseISODuration(block.MaxValidityOverlap)
	if err != nil {
		return model.SignaturePolicy{}, fmt.Errorf("MaxValidityOverlap: %w", err)
	}
	minOverlap, err := config.ParseISODuration(block.MinValidityOverlap)
	if err != nil {
		return model.SignaturePolicy{}, fmt.Errorf("MinValidityOverlap: %w", err)
	}

	algorithms := make([]model.AlgorithmPolicy, 0, len(block.Algorithms))
	for _, a := range block.Algorithms {
		alg := model.AlgorithmDNSSEC(a.Algorithm)
		switch {
		case a.RSA != nil:
			algorithms = append(algorithms, model.AlgorithmPolicyRSA{Alg: alg, Bits: a.RSA.Size, Exponent: a.RSA.Exponent})
		case a.ECDSA != nil:
			algorithms = append(algorithms, model.AlgorithmPolicyECDSA{Alg: alg, Bits: a.ECDSA.Size})
		default:
			return model.SignaturePolicy{}, fmt.Errorf("algorithm %d has neither RSA nor ECDSA element", a.Algorithm)
		}
	}

	return model.SignaturePolicy{
		PublishSafety:        publishSafety.Duration,
		RetireSafety:         retireSafety.Duration,
		MaxSignatureValidity: maxSigValidity.Duration,
		MinSignatureValidity: minSigValidity.Duration,
		MaxValidityOverlap:   maxOverlap.Duration,
		MinValidityOverlap:   minOverlap.Duration,
		Algorithms:           algorithms,
	}, nil
}

// formatISODuration renders d in the all-seconds ISO-8601 duration form
// (e.g. "PT172800S"), which config.ParseISODuration accepts and round-trips
// exactly, unlike time.Duration.String()'s "48h0m0s" form.
func formatISODuration(d time.Duration) string {
	return fmt.Sprintf("PT%dS", int64(d.Seconds()))
}

func encodePolicy(p model.SignaturePolicy) *xmlPolicyBlock {
	block := &xmlPolicyBlock{
		PublishSafety:        formatISODuration(p.PublishSafety),
		RetireSafety:         formatISODuration(p.RetireSafety),
		MaxSignatureValidity: formatISODuration(p.MaxSignatureValidity),
		MinSignatureValidity: formatISODuration(p.MinSignatureValidity),
		MaxValidityOverlap:   formatISODuration(p.MaxValidityOverlap),
		MinValidityOverlap:   formatISODuration(p.MinValidityOverlap),
	}
	for _, a := range p.Algorithms {
		entry := xmlAlgorithm{Algorithm: uint8(a.Algorithm())}
		switch v := a.(type) {
		case model.AlgorithmPolicyRSA:
			entry.RSA = &xmlRSA{Size: v.Bits, Exponent: v.Exponent}
		case model.AlgorithmPolicyECDSA:
			entry.ECDSA = &xmlECDSA{Size: v.Bits}
		}
		block.Algorithms = append(block.Algorithms, entry)
	}
	return block
}

func decodeBundles(in []xmlBundle) ([]model.Bundle, error) {
	out := make([]model.Bundle, len(in))
	for i, b := range in {
		inception, err := parseTime(b.Inception)
		if err != nil {
			return nil, codecErr(fmt.Sprintf("bundle %s Inception", b.ID), err)
		}
		expiration, err := parseTime(b.Expiration)
		if err != nil {
			return nil, codecErr(fmt.Sprintf("bundle %s Expiration", b.ID), err)
		}
		keys := make([]model.Key, len(b.Keys))
		for j, k := range b.Keys {
			keys[j] = model.Key{
				KeyIdentifier: k.KeyIdentifier,
				KeyTag:        k.KeyTag,
				Algorithm:     model.AlgorithmDNSSEC(k.Algorithm),
				Flags:         k.Flags,
				Protocol:      k.Protocol,
				TTL:           k.TTL,
				PublicKey:     k.PublicKey,
			}
		}
		sigs := make([]model.Signature, len(b.Signatures))
		for j, s := range b.Signatures {
			sigInception, err := parseTime(s.SignatureInception)
			if err != nil {
				return nil, codecErr(fmt.Sprintf("bundle %s signature %s SignatureInception", b.ID, s.KeyIdentifier), err)
			}
			sigExpiration, err := parseTime(s.SignatureExpiration)
			if err != nil {
				return nil, codecErr(fmt.Sprintf("bundle %s signature %s SignatureExpiration", b.ID, s.KeyIdentifier), err)
			}
			sigData, err := base64.StdEncoding.DecodeString(s.SignatureData)
			if err != nil {
				return nil, codecErr(fmt.Sprintf("bundle %s signature %s SignatureData", b.ID, s.KeyIdentifier), err)
			}
			sigs[j] = model.Signature{
				KeyIdentifier:       s.KeyIdentifier,
				KeyTag:              s.KeyTag,
				Algorithm:           model.AlgorithmDNSSEC(s.Algorithm),
				TypeCovered:         model.TypeCoveredDNSKEY,
				Labels:              s.Labels,
				OriginalTTL:         s.OriginalTTL,
				SignatureInception:  sigInception,
				SignatureExpiration: sigExpiration,
				SignerName:          s.SignerName,
				SignatureData:       sigData,
			}
		}
		out[i] = model.Bundle{ID: b.ID, Inception: inception, Expiration: expiration, Keys: keys, Signatures: sigs}
	}
	return out, nil
}

func encodeBundles(in []model.Bundle) []xmlBundle {
	out := make([]xmlBundle, len(in))
	for i, b := range in {
		keys := make([]xmlKey, len(b.Keys))
		for j, k := range b.Keys {
			keys[j] = xmlKey{
				KeyIdentifier: k.KeyIdentifier,
				KeyTag:        k.KeyTag,
				Algorithm:     uint8(k.Algorithm),
				Flags:         k.Flags,
				Protocol:      k.Protocol,
				TTL:           k.TTL,
				PublicKey:     k.PublicKey,
			}
		}
		sigs := make([]xmlSig, len(b.Signatures))
		for j, s := range b.Signatures {
			sigs[j] = xmlSig{
				KeyIdentifier:       s.KeyIdentifier,
				TTL:                 s.OriginalTTL,
				TypeCovered:         "DNSKEY",
				Algorithm:           uint8(s.Algorithm),
				Labels:              s.Labels,
				OriginalTTL:         s.OriginalTTL,
				SignatureExpiration: s.SignatureExpiration.UTC().Format(timeLayout),
				SignatureInception:  s.SignatureInception.UTC().Format(timeLayout),
				KeyTag:              s.KeyTag,
				SignerName:          s.SignerName,
				SignatureData:       base64.StdEncoding.EncodeToString(s.SignatureData),
			}
		}
		out[i] = xmlBundle{
			ID:         b.ID,
			Inception:  b.Inception.UTC().Format(timeLayout),
			Expiration: b.Expiration.UTC().Format(timeLayout),
			Keys:       keys,
			Signatures: sigs,
		}
	}
	return out
}
