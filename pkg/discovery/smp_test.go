package discovery

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rdehuyss/oxalis/pkg/identifier"
)

func mustURL(t *testing.T, s string) *url.URL {
	t.Helper()
	u, err := url.Parse(s)
	require.NoError(t, err)
	return u
}

// apCertificate returns a base64 DER certificate as an SMP publishes it.
func apCertificate(t *testing.T) string {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(42),
		Subject:      pkix.Name{CommonName: "PNO000104"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(der)
}

// fakeSMP serves SMP documents keyed by decoded request path.
type fakeSMP struct {
	*httptest.Server
	docs     map[string]string
	statuses map[string]int
	requests atomic.Int32
}

func newFakeSMP(t *testing.T) *fakeSMP {
	f := &fakeSMP{docs: map[string]string{}, statuses: map[string]int{}}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.requests.Add(1)
		if status, ok := f.statuses[r.URL.Path]; ok {
			w.WriteHeader(status)
			return
		}
		doc, ok := f.docs[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(doc))
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeSMP) url(t *testing.T) *url.URL { return mustURL(t, f.URL) }

func groupPath(p identifier.ParticipantIdentifier) string {
	return "/" + p.URI()
}

func metadataPath(p identifier.ParticipantIdentifier, d identifier.DocumentTypeIdentifier) string {
	return groupPath(p) + "/services/" + d.URI()
}

func (f *fakeSMP) publishGroup(p identifier.ParticipantIdentifier, docs ...identifier.DocumentTypeIdentifier) {
	var refs strings.Builder
	for _, d := range docs {
		fmt.Fprintf(&refs, `<ServiceMetadataReference href="%s/%s/services/%s"/>`,
			f.URL, url.PathEscape(p.URI()), url.PathEscape(d.URI()))
	}
	f.docs[groupPath(p)] = fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<ServiceGroup xmlns="http://busdox.org/serviceMetadata/publishing/1.0/" xmlns:ids="http://busdox.org/transport/identifiers/1.0/">
  <ids:ParticipantIdentifier scheme="%s">%s</ids:ParticipantIdentifier>
  <ServiceMetadataReferenceCollection>%s</ServiceMetadataReferenceCollection>
</ServiceGroup>`, p.Scheme(), p.Value(), refs.String())
}

type smpEndpoint struct {
	profile, address, cert string
	activation, expiration string
}

func (f *fakeSMP) publishMetadata(p identifier.ParticipantIdentifier, d identifier.DocumentTypeIdentifier, proc identifier.ProcessIdentifier, endpoints ...smpEndpoint) {
	var eps strings.Builder
	for _, ep := range endpoints {
		fmt.Fprintf(&eps, `
            <Endpoint transportProfile="%s">
              <wsa:EndpointReference><wsa:Address>%s</wsa:Address></wsa:EndpointReference>
              <RequireBusinessLevelSignature>false</RequireBusinessLevelSignature>`, ep.profile, ep.address)
		if ep.activation != "" {
			fmt.Fprintf(&eps, `<ServiceActivationDate>%s</ServiceActivationDate>`, ep.activation)
		}
		if ep.expiration != "" {
			fmt.Fprintf(&eps, `<ServiceExpirationDate>%s</ServiceExpirationDate>`, ep.expiration)
		}
		fmt.Fprintf(&eps, `
              <Certificate>%s</Certificate>
              <ServiceDescription>test endpoint</ServiceDescription>
              <TechnicalContactUrl>https://support.example.com</TechnicalContactUrl>
            </Endpoint>`, ep.cert)
	}
	f.docs[metadataPath(p, d)] = fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<SignedServiceMetadata xmlns="http://busdox.org/serviceMetadata/publishing/1.0/"
    xmlns:ids="http://busdox.org/transport/identifiers/1.0/"
    xmlns:wsa="http://www.w3.org/2005/08/addressing">
  <ServiceMetadata>
    <ServiceInformation>
      <ids:ParticipantIdentifier scheme="%s">%s</ids:ParticipantIdentifier>
      <ids:DocumentIdentifier scheme="%s">%s</ids:DocumentIdentifier>
      <ProcessList>
        <Process>
          <ids:ProcessIdentifier scheme="%s">%s</ids:ProcessIdentifier>
          <ServiceEndpointList>%s
          </ServiceEndpointList>
        </Process>
      </ProcessList>
    </ServiceInformation>
  </ServiceMetadata>
  <Signature xmlns="http://www.w3.org/2000/09/xmldsig#"/>
</SignedServiceMetadata>`, p.Scheme(), p.Value(), d.Scheme(), d.Value(), proc.Scheme(), proc.Value(), eps.String())
}

func (f *fakeSMP) publishRedirect(p identifier.ParticipantIdentifier, d identifier.DocumentTypeIdentifier, target string) {
	f.docs[metadataPath(p, d)] = fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<SignedServiceMetadata xmlns="http://busdox.org/serviceMetadata/publishing/1.0/">
  <ServiceMetadata>
    <Redirect href="%s"><CertificateUID>CN=other smp</CertificateUID></Redirect>
  </ServiceMetadata>
</SignedServiceMetadata>`, target)
}

var (
	invoice     = identifier.MustDocumentType(identifier.AcronymInvoice)
	order       = identifier.MustDocumentType(identifier.AcronymOrder)
	invoiceOnly = identifier.MustProcess(identifier.AcronymInvoiceOnly)
	orderOnly   = identifier.MustProcess(identifier.AcronymOrderOnly)
)

func TestSMPServiceMetadataURL(t *testing.T) {
	smp := mustURL(t, "https://smp.example.com/")
	got := serviceMetadataURL(smp, identifier.DifiTest, invoice)
	assert.True(t, strings.HasPrefix(got, "https://smp.example.com/iso6523-actorid-upis::9908:810017902/services/busdox-docid-qns::"))
	assert.Contains(t, got, "%23%23", "fragment separators must be escaped")
	assert.NotContains(t, got, "#")
}

func TestGetServiceGroup(t *testing.T) {
	smp := newFakeSMP(t)
	smp.publishGroup(identifier.DifiTest, invoice, order)
	client := NewSMPClient(SMPClientConfig{})

	sg, err := client.GetServiceGroup(context.Background(), smp.url(t), identifier.DifiTest)
	require.NoError(t, err)
	require.Len(t, sg.DocumentTypes, 2)
	assert.True(t, sg.DocumentTypes[0].Equal(invoice))
	assert.Equal(t, identifier.AcronymInvoice, sg.DocumentTypes[0].Acronym())
	assert.True(t, sg.DocumentTypes[1].Equal(order))

	_, err = client.GetServiceGroup(context.Background(), smp.url(t), identifier.U4Test)
	assert.True(t, errors.Is(err, ErrParticipantNotFound))
}

func TestGetServiceMetadata(t *testing.T) {
	smp := newFakeSMP(t)
	cert := apCertificate(t)
	smp.publishMetadata(identifier.DifiTest, invoice, invoiceOnly, smpEndpoint{
		profile:    "busdox-transport-as2-ver1p0",
		address:    "https://ap.difi.test/as2",
		cert:       cert,
		activation: "2020-01-01T00:00:00Z",
		expiration: "2099-12-31",
	})
	client := NewSMPClient(SMPClientConfig{UserAgent: "test-agent"})

	md, err := client.GetServiceMetadata(context.Background(), smp.url(t), identifier.DifiTest, invoice)
	require.NoError(t, err)

	pm, ok := md.Process(invoiceOnly)
	require.True(t, ok)
	require.Len(t, pm.Endpoints, 1)

	ep := pm.Endpoints[0]
	assert.Equal(t, "busdox-transport-as2-ver1p0", ep.TransportProfile)
	assert.Equal(t, "https://ap.difi.test/as2", ep.EndpointURL)
	assert.Equal(t, "test endpoint", ep.Description)
	require.NotNil(t, ep.ServiceActivationDate)
	require.NotNil(t, ep.ServiceExpirationDate)
	assert.True(t, ep.Active(time.Now()))

	der, err := ep.CertificateDER()
	require.NoError(t, err)
	parsed, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	assert.Equal(t, "PNO000104", parsed.Subject.CommonName)

	_, ok = md.Process(orderOnly)
	assert.False(t, ok)

	_, err = client.GetServiceMetadata(context.Background(), smp.url(t), identifier.DifiTest, order)
	assert.True(t, errors.Is(err, ErrDocumentTypeNotFound))
}

func TestGetServiceMetadataRedirect(t *testing.T) {
	target := newFakeSMP(t)
	target.publishMetadata(identifier.DifiTest, invoice, invoiceOnly, smpEndpoint{
		profile: "peppol-transport-as4-v2_0",
		address: "https://ap.difi.test/as4",
	})

	origin := newFakeSMP(t)
	origin.publishRedirect(identifier.DifiTest, invoice, serviceMetadataURL(target.url(t), identifier.DifiTest, invoice))

	client := NewSMPClient(SMPClientConfig{})
	md, err := client.GetServiceMetadata(context.Background(), origin.url(t), identifier.DifiTest, invoice)
	require.NoError(t, err)
	pm, ok := md.Process(invoiceOnly)
	require.True(t, ok)
	assert.Equal(t, "https://ap.difi.test/as4", pm.Endpoints[0].EndpointURL)

	// a redirect to a redirect is refused
	loop := newFakeSMP(t)
	loop.publishRedirect(identifier.DifiTest, invoice, serviceMetadataURL(origin.url(t), identifier.DifiTest, invoice))
	_, err = client.GetServiceMetadata(context.Background(), loop.url(t), identifier.DifiTest, invoice)
	assert.True(t, errors.Is(err, ErrTooManyRedirects))
}

func TestSMPServerErrors(t *testing.T) {
	smp := newFakeSMP(t)
	smp.statuses[metadataPath(identifier.DifiTest, invoice)] = http.StatusServiceUnavailable
	smp.statuses[metadataPath(identifier.DifiTest, order)] = http.StatusForbidden
	client := NewSMPClient(SMPClientConfig{})

	_, err := client.GetServiceMetadata(context.Background(), smp.url(t), identifier.DifiTest, invoice)
	assert.True(t, errors.Is(err, ErrSMPUnavailable))

	_, err = client.GetServiceMetadata(context.Background(), smp.url(t), identifier.DifiTest, order)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrSMPUnavailable))
	assert.Contains(t, err.Error(), "403")
}

func TestEndpointActive(t *testing.T) {
	now := time.Now()
	past, future := now.Add(-time.Hour), now.Add(time.Hour)

	tests := []struct {
		name string
		ep   Endpoint
		want bool
	}{
		{name: "no window", ep: Endpoint{}, want: true},
		{name: "activated", ep: Endpoint{ServiceActivationDate: &past}, want: true},
		{name: "not yet active", ep: Endpoint{ServiceActivationDate: &future}, want: false},
		{name: "expired", ep: Endpoint{ServiceExpirationDate: &past}, want: false},
		{name: "within window", ep: Endpoint{ServiceActivationDate: &past, ServiceExpirationDate: &future}, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.ep.Active(now))
		})
	}
}

func TestCertificateDER(t *testing.T) {
	cert := apCertificate(t)

	wrapped := cert[:40] + "\n  " + cert[40:]
	der, err := Endpoint{Certificate: wrapped}.CertificateDER()
	require.NoError(t, err)
	_, err = x509.ParseCertificate(der)
	assert.NoError(t, err)

	pemCert := "-----BEGIN CERTIFICATE-----\n" + cert + "\n-----END CERTIFICATE-----\n"
	der, err = Endpoint{Certificate: pemCert}.CertificateDER()
	require.NoError(t, err)
	_, err = x509.ParseCertificate(der)
	assert.NoError(t, err)

	der, err = Endpoint{}.CertificateDER()
	assert.NoError(t, err)
	assert.Nil(t, der)

	_, err = Endpoint{Certificate: "not base64!"}.CertificateDER()
	assert.Error(t, err)
}
