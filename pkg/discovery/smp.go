package discovery

import (
	"context"
	"encoding/base64"
	"encoding/pem"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rdehuyss/oxalis/pkg/identifier"
)

// SMP errors
var (
	// ErrParticipantNotFound is returned when the SMP has no service group for the participant
	ErrParticipantNotFound = errors.New("participant not found in SMP")
	// ErrDocumentTypeNotFound is returned when the participant does not publish the document type
	ErrDocumentTypeNotFound = errors.New("document type not found")
	// ErrProcessNotFound is returned when the document type is published without the process
	ErrProcessNotFound = errors.New("process not found")
	// ErrSMPUnavailable is returned on transport failures and 5xx answers; it is transient
	ErrSMPUnavailable = errors.New("SMP unavailable")
	// ErrTooManyRedirects is returned when a redirected service metadata redirects again
	ErrTooManyRedirects = errors.New("too many SMP redirects")
)

const maxSMPResponse = 4 << 20

// SMPClientConfig contains configuration for the SMP client
type SMPClientConfig struct {
	// HTTPClient defaults to a client with a 30s timeout
	HTTPClient *http.Client

	// UserAgent is the User-Agent header to send
	UserAgent string

	// MaxRedirects bounds the number of SMP Redirect elements followed.
	// Defaults to 1.
	MaxRedirects int
}

// SMPClient queries OASIS/PEPPOL SMP 1.0 services over HTTP
type SMPClient struct {
	config     SMPClientConfig
	httpClient *http.Client
}

// NewSMPClient creates a new SMP client
func NewSMPClient(config SMPClientConfig) *SMPClient {
	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if config.UserAgent == "" {
		config.UserAgent = "oxalis-smp-client/1.0"
	}
	if config.MaxRedirects == 0 {
		config.MaxRedirects = 1
	}
	return &SMPClient{config: config, httpClient: client}
}

// ServiceGroup lists the document types a participant publishes
type ServiceGroup struct {
	Participant   identifier.ParticipantIdentifier
	DocumentTypes []identifier.DocumentTypeIdentifier
}

// ServiceMetadata is the endpoint information for one document type
type ServiceMetadata struct {
	Participant  identifier.ParticipantIdentifier
	DocumentType identifier.DocumentTypeIdentifier
	Processes    []ProcessMetadata
}

// ProcessMetadata represents a process within ServiceMetadata
type ProcessMetadata struct {
	Process   identifier.ProcessIdentifier
	Endpoints []Endpoint
}

// Endpoint represents a service endpoint
type Endpoint struct {
	TransportProfile string
	EndpointURL      string
	// Certificate is the base64 (or PEM) encoded X.509 certificate
	Certificate           string
	ServiceActivationDate *time.Time
	ServiceExpirationDate *time.Time
	TechnicalContactURL   string
	Description           string
}

// Active reports whether the endpoint is within its activation window at t.
func (e Endpoint) Active(t time.Time) bool {
	if e.ServiceActivationDate != nil && e.ServiceActivationDate.After(t) {
		return false
	}
	if e.ServiceExpirationDate != nil && e.ServiceExpirationDate.Before(t) {
		return false
	}
	return true
}

// CertificateDER decodes the endpoint certificate. An empty certificate gives nil.
func (e Endpoint) CertificateDER() ([]byte, error) {
	s := strings.TrimSpace(e.Certificate)
	if s == "" {
		return nil, nil
	}
	if block, _ := pem.Decode([]byte(s)); block != nil {
		return block.Bytes, nil
	}
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, s)
	der, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode endpoint certificate: %w", err)
	}
	return der, nil
}

// Process returns the metadata of process, if published.
func (m *ServiceMetadata) Process(process identifier.ProcessIdentifier) (ProcessMetadata, bool) {
	for _, p := range m.Processes {
		if p.Process.Scheme() == process.Scheme() && strings.EqualFold(p.Process.Value(), process.Value()) {
			return p, true
		}
	}
	return ProcessMetadata{}, false
}

// GetServiceGroup retrieves the ServiceGroup for a participant.
func (c *SMPClient) GetServiceGroup(ctx context.Context, smp *url.URL, participant identifier.ParticipantIdentifier) (*ServiceGroup, error) {
	body, status, err := c.doRequest(ctx, serviceGroupURL(smp, participant))
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrParticipantNotFound, participant)
	}

	var sg smpServiceGroup
	if err := xml.Unmarshal(body, &sg); err != nil {
		return nil, fmt.Errorf("parse ServiceGroup: %w", err)
	}

	result := &ServiceGroup{Participant: participant}
	for _, ref := range sg.References {
		doc, ok := documentTypeFromReference(ref.Href)
		if ok {
			result.DocumentTypes = append(result.DocumentTypes, doc)
		}
	}
	return result, nil
}

// GetServiceMetadata retrieves the ServiceMetadata of a participant and
// document type, following SMP redirects. A 404 is reported as
// ErrDocumentTypeNotFound; callers that need to tell an unknown participant
// apart query the service group.
func (c *SMPClient) GetServiceMetadata(ctx context.Context, smp *url.URL, participant identifier.ParticipantIdentifier, documentType identifier.DocumentTypeIdentifier) (*ServiceMetadata, error) {
	target := serviceMetadataURL(smp, participant, documentType)

	for redirects := 0; ; redirects++ {
		body, status, err := c.doRequest(ctx, target)
		if err != nil {
			return nil, err
		}
		if status == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrDocumentTypeNotFound, documentType)
		}

		var doc smpMetadataDocument
		if err := xml.Unmarshal(body, &doc); err != nil {
			return nil, fmt.Errorf("parse ServiceMetadata: %w", err)
		}
		md := doc.metadata()

		if md.Redirect != nil {
			if redirects >= c.config.MaxRedirects {
				return nil, ErrTooManyRedirects
			}
			next, err := url.Parse(strings.TrimSpace(md.Redirect.Href))
			if err != nil || !next.IsAbs() {
				return nil, fmt.Errorf("invalid SMP redirect %q", md.Redirect.Href)
			}
			target = next.String()
			continue
		}
		if md.ServiceInformation == nil {
			return nil, errors.New("parse ServiceMetadata: no ServiceInformation")
		}
		return md.ServiceInformation.toServiceMetadata(participant, documentType), nil
	}
}

func serviceGroupURL(smp *url.URL, participant identifier.ParticipantIdentifier) string {
	base := strings.TrimRight(smp.String(), "/")
	return base + "/" + url.PathEscape(participant.URI())
}

func serviceMetadataURL(smp *url.URL, participant identifier.ParticipantIdentifier, documentType identifier.DocumentTypeIdentifier) string {
	return serviceGroupURL(smp, participant) + "/services/" + url.PathEscape(documentType.URI())
}

// doRequest returns the body of a 200 answer, or the status of a 404.
func (c *SMPClient) doRequest(ctx context.Context, reqURL string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create SMP request: %w", err)
	}
	req.Header.Set("Accept", "application/xml, text/xml")
	req.Header.Set("User-Agent", c.config.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrSMPUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return nil, resp.StatusCode, nil
	case resp.StatusCode >= 500:
		return nil, resp.StatusCode, fmt.Errorf("%w: status %d", ErrSMPUnavailable, resp.StatusCode)
	default:
		return nil, resp.StatusCode, fmt.Errorf("SMP returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSMPResponse))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: read response: %w", ErrSMPUnavailable, err)
	}
	return body, resp.StatusCode, nil
}

// documentTypeFromReference reads the document type out of a service
// metadata reference href (.../services/<scheme::value>).
func documentTypeFromReference(href string) (identifier.DocumentTypeIdentifier, bool) {
	u, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return identifier.DocumentTypeIdentifier{}, false
	}
	path := u.EscapedPath()
	i := strings.LastIndex(path, "/services/")
	if i < 0 {
		return identifier.DocumentTypeIdentifier{}, false
	}
	raw, err := url.PathUnescape(path[i+len("/services/"):])
	if err != nil {
		return identifier.DocumentTypeIdentifier{}, false
	}
	doc, err := identifier.ParseDocumentTypeIdentifier(raw)
	if err != nil {
		return identifier.DocumentTypeIdentifier{}, false
	}
	return doc, true
}

// SMP 1.0 XML structures. Namespaces are ignored so both the BusDox and the
// OASIS BDXR flavours decode.
type smpIdentifier struct {
	Value  string `xml:",chardata"`
	Scheme string `xml:"scheme,attr"`
}

type smpServiceGroup struct {
	ParticipantIdentifier smpIdentifier `xml:"ParticipantIdentifier"`
	References            []struct {
		Href string `xml:"href,attr"`
	} `xml:"ServiceMetadataReferenceCollection>ServiceMetadataReference"`
}

// smpMetadataDocument decodes both a SignedServiceMetadata root and a bare
// ServiceMetadata root.
type smpMetadataDocument struct {
	XMLName            xml.Name
	ServiceMetadata    *smpServiceMetadata    `xml:"ServiceMetadata"`
	ServiceInformation *smpServiceInformation `xml:"ServiceInformation"`
	Redirect           *smpRedirect           `xml:"Redirect"`
}

func (d *smpMetadataDocument) metadata() smpServiceMetadata {
	if d.ServiceMetadata != nil {
		return *d.ServiceMetadata
	}
	return smpServiceMetadata{ServiceInformation: d.ServiceInformation, Redirect: d.Redirect}
}

type smpServiceMetadata struct {
	ServiceInformation *smpServiceInformation `xml:"ServiceInformation"`
	Redirect           *smpRedirect           `xml:"Redirect"`
}

type smpRedirect struct {
	Href           string `xml:"href,attr"`
	CertificateUID string `xml:"CertificateUID"`
}

type smpServiceInformation struct {
	ParticipantIdentifier smpIdentifier `xml:"ParticipantIdentifier"`
	DocumentIdentifier    smpIdentifier `xml:"DocumentIdentifier"`
	Processes             []struct {
		ProcessIdentifier smpIdentifier `xml:"ProcessIdentifier"`
		Endpoints         []struct {
			TransportProfile      string `xml:"transportProfile,attr"`
			EndpointURI           string `xml:"EndpointURI"`
			EndpointReference     string `xml:"EndpointReference>Address"`
			Certificate           string `xml:"Certificate"`
			ServiceActivationDate string `xml:"ServiceActivationDate"`
			ServiceExpirationDate string `xml:"ServiceExpirationDate"`
			TechnicalContactURL   string `xml:"TechnicalContactUrl"`
			ServiceDescription    string `xml:"ServiceDescription"`
		} `xml:"ServiceEndpointList>Endpoint"`
	} `xml:"ProcessList>Process"`
}

func (si *smpServiceInformation) toServiceMetadata(participant identifier.ParticipantIdentifier, documentType identifier.DocumentTypeIdentifier) *ServiceMetadata {
	result := &ServiceMetadata{Participant: participant, DocumentType: documentType}

	for _, p := range si.Processes {
		scheme := strings.TrimSpace(p.ProcessIdentifier.Scheme)
		if scheme == "" {
			scheme = identifier.SchemeProcess
		}
		process, err := identifier.NewProcessIdentifierWithScheme(scheme, p.ProcessIdentifier.Value)
		if err != nil {
			continue
		}

		pm := ProcessMetadata{Process: process}
		for _, ep := range p.Endpoints {
			address := strings.TrimSpace(ep.EndpointURI)
			if address == "" {
				address = strings.TrimSpace(ep.EndpointReference)
			}
			pm.Endpoints = append(pm.Endpoints, Endpoint{
				TransportProfile:      strings.TrimSpace(ep.TransportProfile),
				EndpointURL:           address,
				Certificate:           ep.Certificate,
				ServiceActivationDate: parseSMPTime(ep.ServiceActivationDate),
				ServiceExpirationDate: parseSMPTime(ep.ServiceExpirationDate),
				TechnicalContactURL:   strings.TrimSpace(ep.TechnicalContactURL),
				Description:           strings.TrimSpace(ep.ServiceDescription),
			})
		}
		result.Processes = append(result.Processes, pm)
	}
	return result
}

var smpTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02Z07:00",
	"2006-01-02",
}

// parseSMPTime parses an xs:dateTime or xs:date. Unparseable values give nil.
func parseSMPTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range smpTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
