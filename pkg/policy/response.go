package policy

import (
	"log/slog"

	"github.com/dnsroot/ksrsign/pkg/config"
	"github.com/dnsroot/ksrsign/pkg/ksrerr"
	"github.com/dnsroot/ksrsign/pkg/model"
)

// ValidateResponse runs the Response Validator's reduced check-set (spec
// §4.5) against a produced SKR before it is persisted: bundle count,
// per-bundle RRSIG verification against the just-generated public DNSKEYs,
// and bundle id uniqueness. validate_signatures is on by default and must
// pass for a freshly produced SKR — unlike the Request Validator, this
// check is not meant to ever be disabled in production use, but the toggle
// is honored for test symmetry.
func ValidateResponse(resp model.Response, p config.ResponsePolicy, logger *slog.Logger) error {
	if err := check(logger, ksrerr.CodeBundleCount, true, func() error {
		if len(resp.Bundles) != p.NumBundles {
			return ksrerr.NewViolation(ksrerr.CodeBundleCount, "expected %d bundles, got %d", p.NumBundles, len(resp.Bundles))
		}
		return nil
	}); err != nil {
		return err
	}

	if err := check(logger, ksrerr.CodeBundleUnique, true, func() error {
		return checkBundleUnique(resp.Bundles)
	}); err != nil {
		return err
	}

	if err := check(logger, ksrerr.CodeBundlePOP, p.ValidateSignatures, func() error {
		return checkBundlePOP(resp.Domain, resp.Bundles)
	}); err != nil {
		return err
	}

	return nil
}
