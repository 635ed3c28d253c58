package signer

import (
	"context"
	"crypto"
	"io"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/dnsroot/ksrsign/pkg/metrics"
	"github.com/dnsroot/ksrsign/pkg/model"
	"github.com/dnsroot/ksrsign/pkg/oracle"
)

// oracleSigner adapts a SigningOracle label to the crypto.Signer interface
// miekg/dns's RRSIG.Sign expects, so the Schema Engine never has to know
// whether a key lives in an HSM or in memory. Sign's digest parameter is
// already the algorithm's hash of the signed data (as crypto.Signer
// requires); the oracle returns the matching PKCS#1 v1.5 or raw r‖s
// signature bytes, which RRSIG.Sign then base64-encodes into the RRSIG
// record unchanged.
type oracleSigner struct {
	ctx       context.Context
	oracle    oracle.SigningOracle
	label     string
	algorithm model.AlgorithmDNSSEC
	public    crypto.PublicKey
}

func newOracleSigner(ctx context.Context, o oracle.SigningOracle, label string, algorithm model.AlgorithmDNSSEC, public crypto.PublicKey) *oracleSigner {
	return &oracleSigner{ctx: ctx, oracle: o, label: label, algorithm: algorithm, public: public}
}

func (s *oracleSigner) Public() crypto.PublicKey { return s.public }

// Sign delegates to the oracle, retrying any failed call up to three
// attempts in all with backoff (oracle backends may be HSMs reachable only
// over a network) and recording call latency. Failures are not classified:
// a missing key or algorithm mismatch is retried like an I/O error.
func (s *oracleSigner) Sign(rand io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	start := time.Now()
	defer func() { metrics.OracleSignSeconds.Observe(time.Since(start).Seconds()) }()

	var sig []byte
	err := retry.Do(
		func() error {
			out, err := s.oracle.Sign(s.ctx, s.label, s.algorithm, digest)
			if err != nil {
				return err
			}
			sig = out
			return nil
		},
		retry.Context(s.ctx),
		retry.Attempts(3),
		retry.Delay(100*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
	)
	if err != nil {
		return nil, err
	}
	return sig, nil
}
