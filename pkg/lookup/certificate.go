package lookup

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"time"
)

// CertificateValidator checks the certificate published for an endpoint.
// A failure is reported to callers as ErrCertificateInvalid.
type CertificateValidator interface {
	ValidateCertificate(ctx context.Context, cert *x509.Certificate) error
}

// ExpiryValidator rejects certificates outside their validity period.
// Endpoints without a certificate pass.
type ExpiryValidator struct {
	// Now defaults to time.Now
	Now func() time.Time
}

// ValidateCertificate implements CertificateValidator
func (v ExpiryValidator) ValidateCertificate(_ context.Context, cert *x509.Certificate) error {
	if cert == nil {
		return nil
	}
	return checkValidity(cert, now(v.Now))
}

func checkValidity(cert *x509.Certificate, at time.Time) error {
	if at.Before(cert.NotBefore) {
		return fmt.Errorf("%w: %q not valid before %s", ErrCertificateInvalid, cert.Subject.CommonName, cert.NotBefore.Format(time.RFC3339))
	}
	if at.After(cert.NotAfter) {
		return fmt.Errorf("%w: %q expired at %s", ErrCertificateInvalid, cert.Subject.CommonName, cert.NotAfter.Format(time.RFC3339))
	}
	return nil
}

func now(f func() time.Time) time.Time {
	if f == nil {
		return time.Now()
	}
	return f()
}

// ChainValidator verifies endpoint certificates against the network's access
// point roots and, when a RevocationChecker is set, their revocation status.
type ChainValidator struct {
	Roots         *x509.CertPool
	Intermediates *x509.CertPool
	Revocation    RevocationChecker
	Now           func() time.Time
}

// ValidateCertificate implements CertificateValidator
func (v *ChainValidator) ValidateCertificate(ctx context.Context, cert *x509.Certificate) error {
	if cert == nil {
		return nil
	}
	at := now(v.Now)
	if err := checkValidity(cert, at); err != nil {
		return err
	}

	chains, err := cert.Verify(x509.VerifyOptions{
		Roots:         v.Roots,
		Intermediates: v.Intermediates,
		CurrentTime:   at,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCertificateInvalid, err)
	}

	if v.Revocation == nil || len(chains) == 0 || len(chains[0]) < 2 {
		return nil
	}
	if err := v.Revocation.CheckRevocation(ctx, cert, chains[0][1]); err != nil {
		if errors.Is(err, ErrCertificateInvalid) {
			return err
		}
		return fmt.Errorf("%w: revocation check: %v", ErrCertificateInvalid, err)
	}
	return nil
}
