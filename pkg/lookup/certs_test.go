package lookup

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testCert struct {
	cert *x509.Certificate
	key  *ecdsa.PrivateKey
}

// newTestCert issues a certificate valid in [notBefore, notAfter]. It is
// self-signed when parent is nil.
func newTestCert(t *testing.T, cn string, notBefore, notAfter time.Time, isCA bool, parent *testCert) *testCert {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	require.NoError(t, err)
	serial.Add(serial, big.NewInt(1))

	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: cn, Organization: []string{"Test AP"}},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  isCA,
		SubjectKeyId:          serial.Bytes(),
	}
	if isCA {
		tmpl.KeyUsage |= x509.KeyUsageCertSign
	}

	signer, signerCert := key, tmpl
	if parent != nil {
		signer, signerCert = parent.key, parent.cert
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, signerCert, &key.PublicKey, signer)
	require.NoError(t, err)

	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return &testCert{cert: cert, key: key}
}

func validCert(t *testing.T) *x509.Certificate {
	now := time.Now()
	return newTestCert(t, "APP_1000000006", now.Add(-time.Hour), now.Add(24*time.Hour), false, nil).cert
}

func expiredCert(t *testing.T) *x509.Certificate {
	now := time.Now()
	return newTestCert(t, "APP_EXPIRED", now.Add(-48*time.Hour), now.Add(-24*time.Hour), false, nil).cert
}
