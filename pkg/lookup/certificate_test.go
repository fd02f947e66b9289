package lookup

import (
	"context"
	"crypto/x509"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type revocationFunc func(ctx context.Context, cert, issuer *x509.Certificate) error

func (f revocationFunc) CheckRevocation(ctx context.Context, cert, issuer *x509.Certificate) error {
	return f(ctx, cert, issuer)
}

func TestExpiryValidator(t *testing.T) {
	ctx := context.Background()
	v := ExpiryValidator{}

	assert.NoError(t, v.ValidateCertificate(ctx, nil))
	assert.NoError(t, v.ValidateCertificate(ctx, validCert(t)))

	err := v.ValidateCertificate(ctx, expiredCert(t))
	assert.True(t, errors.Is(err, ErrCertificateInvalid))
	assert.Contains(t, err.Error(), "expired")

	future := ExpiryValidator{Now: func() time.Time { return time.Now().Add(-2 * time.Hour) }}
	err = future.ValidateCertificate(ctx, validCert(t))
	assert.True(t, errors.Is(err, ErrCertificateInvalid))
	assert.Contains(t, err.Error(), "not valid before")
}

func TestChainValidator(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	ca := newTestCert(t, "Test AP CA", now.Add(-time.Hour), now.Add(48*time.Hour), true, nil)
	leaf := newTestCert(t, "APP_1000000006", now.Add(-time.Hour), now.Add(24*time.Hour), false, ca)
	stranger := newTestCert(t, "Other CA", now.Add(-time.Hour), now.Add(48*time.Hour), true, nil)

	roots := x509.NewCertPool()
	roots.AddCert(ca.cert)

	t.Run("trusted", func(t *testing.T) {
		v := &ChainValidator{Roots: roots}
		assert.NoError(t, v.ValidateCertificate(ctx, leaf.cert))
	})

	t.Run("untrusted issuer", func(t *testing.T) {
		v := &ChainValidator{Roots: roots}
		other := newTestCert(t, "APP_OTHER", now.Add(-time.Hour), now.Add(24*time.Hour), false, stranger)
		assert.True(t, errors.Is(v.ValidateCertificate(ctx, other.cert), ErrCertificateInvalid))
	})

	t.Run("revoked", func(t *testing.T) {
		var gotIssuer *x509.Certificate
		v := &ChainValidator{
			Roots: roots,
			Revocation: revocationFunc(func(_ context.Context, _, issuer *x509.Certificate) error {
				gotIssuer = issuer
				return ErrCertificateRevoked
			}),
		}
		err := v.ValidateCertificate(ctx, leaf.cert)
		assert.True(t, errors.Is(err, ErrCertificateInvalid))
		require.NotNil(t, gotIssuer)
		assert.Equal(t, "Test AP CA", gotIssuer.Subject.CommonName)
	})

	t.Run("expired", func(t *testing.T) {
		v := &ChainValidator{Roots: roots, Now: func() time.Time { return now.Add(30 * time.Hour) }}
		assert.True(t, errors.Is(v.ValidateCertificate(ctx, leaf.cert), ErrCertificateInvalid))
	})
}

func TestOCSPCheckerWithoutResponder(t *testing.T) {
	now := time.Now()
	ca := newTestCert(t, "Test AP CA", now.Add(-time.Hour), now.Add(48*time.Hour), true, nil)
	leaf := newTestCert(t, "APP_1000000006", now.Add(-time.Hour), now.Add(24*time.Hour), false, ca)

	lenient := NewOCSPChecker(OCSPConfig{})
	assert.NoError(t, lenient.CheckRevocation(context.Background(), leaf.cert, ca.cert))

	strict := NewOCSPChecker(OCSPConfig{Strict: true, CRLFallback: true})
	assert.Error(t, strict.CheckRevocation(context.Background(), leaf.cert, ca.cert))

	assert.Error(t, lenient.CheckRevocation(context.Background(), leaf.cert, nil))
}
