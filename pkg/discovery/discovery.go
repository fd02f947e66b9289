package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"time"

	"github.com/rdehuyss/oxalis/pkg/identifier"
	"github.com/rdehuyss/oxalis/pkg/lookup"
)

// DefaultTransportProfiles is the order in which endpoints are preferred when
// a participant publishes several.
var DefaultTransportProfiles = []lookup.TransportProfile{
	lookup.ProfilePeppolAS4V2,
	lookup.ProfileBDXRAS4V2,
	lookup.ProfileBDXRAS4,
	lookup.ProfileAS2V2,
	lookup.ProfileAS2V1,
}

// Config configures a Directory
type Config struct {
	// Locator finds the SMP of a participant. Required unless SMPURL is set.
	Locator Locator
	// SMPURL sends every lookup to one SMP and skips the locator
	SMPURL *url.URL
	// TransportProfiles lists acceptable profiles, most preferred first
	TransportProfiles []lookup.TransportProfile
	// SMP configures the SMP HTTP client
	SMP SMPClientConfig
	// Logger defaults to slog.Default()
	Logger *slog.Logger
	// Now is the clock for the endpoint activation window
	Now func() time.Time
}

// Directory looks endpoints up in the PEPPOL network: the locator (BDXL or
// BusDox SML) names the SMP, and the SMP publishes the endpoint. Failures
// are reported with the error kinds of package lookup.
type Directory struct {
	locator  Locator
	smp      *SMPClient
	profiles []lookup.TransportProfile
	logger   *slog.Logger
	now      func() time.Time
}

var _ lookup.Directory = (*Directory)(nil)

// NewDirectory creates a network directory
func NewDirectory(cfg Config) (*Directory, error) {
	locator := cfg.Locator
	if cfg.SMPURL != nil {
		if !cfg.SMPURL.IsAbs() {
			return nil, fmt.Errorf("SMP URL %q is not absolute", cfg.SMPURL)
		}
		locator = FixedLocator{URL: cfg.SMPURL}
	}
	if locator == nil {
		return nil, errors.New("discovery: locator or SMP URL is required")
	}

	profiles := cfg.TransportProfiles
	if len(profiles) == 0 {
		profiles = DefaultTransportProfiles
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Directory{
		locator:  locator,
		smp:      NewSMPClient(cfg.SMP),
		profiles: append([]lookup.TransportProfile(nil), profiles...),
		logger:   logger.With("component", "discovery"),
		now:      now,
	}, nil
}

// Lookup implements lookup.Directory
func (d *Directory) Lookup(ctx context.Context, participant identifier.ParticipantIdentifier, documentType identifier.DocumentTypeIdentifier, process identifier.ProcessIdentifier) (*lookup.EndpointData, error) {
	smp, err := d.locate(ctx, participant)
	if err != nil {
		return nil, err
	}

	metadata, err := d.smp.GetServiceMetadata(ctx, smp, participant, documentType)
	if errors.Is(err, ErrDocumentTypeNotFound) {
		// The SMP answers 404 for both an unknown participant and an
		// unpublished document type; the service group tells them apart.
		if _, sgErr := d.smp.GetServiceGroup(ctx, smp, participant); sgErr != nil {
			return nil, classifySMPError(sgErr)
		}
	}
	if err != nil {
		return nil, classifySMPError(err)
	}

	pm, ok := metadata.Process(process)
	if !ok {
		return nil, fmt.Errorf("%w: %v: %s", lookup.ErrUnsupportedService, ErrProcessNotFound, process)
	}

	endpoint, ok := d.selectEndpoint(pm.Endpoints)
	if !ok {
		return nil, fmt.Errorf("%w: no active endpoint with an accepted transport profile", lookup.ErrUnsupportedService)
	}

	der, err := endpoint.CertificateDER()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", lookup.ErrCertificateInvalid, err)
	}
	data, err := lookup.ParseEndpointData(lookup.TransportProfile(endpoint.TransportProfile), endpoint.EndpointURL, der)
	if err != nil {
		return nil, err
	}

	d.logger.Debug("endpoint discovered",
		"participant", participant.URI(),
		"smp", smp.String(),
		"profile", endpoint.TransportProfile,
		"address", endpoint.EndpointURL)
	return data, nil
}

// ListDocumentTypes returns the document types a participant publishes.
func (d *Directory) ListDocumentTypes(ctx context.Context, participant identifier.ParticipantIdentifier) ([]identifier.DocumentTypeIdentifier, error) {
	smp, err := d.locate(ctx, participant)
	if err != nil {
		return nil, err
	}
	sg, err := d.smp.GetServiceGroup(ctx, smp, participant)
	if err != nil {
		return nil, classifySMPError(err)
	}
	return sg.DocumentTypes, nil
}

func (d *Directory) locate(ctx context.Context, participant identifier.ParticipantIdentifier) (*url.URL, error) {
	smp, err := d.locator.Locate(ctx, participant)
	switch {
	case err == nil:
		return smp, nil
	case errors.Is(err, ErrNoRecordsFound):
		return nil, fmt.Errorf("%w: %v", lookup.ErrUnknownParticipant, err)
	case errors.Is(err, ErrDNSUnavailable):
		return nil, fmt.Errorf("%w: %v", lookup.ErrResolutionTimeout, err)
	}
	return nil, fmt.Errorf("locate SMP: %w", err)
}

// selectEndpoint picks the first active endpoint in profile preference order
func (d *Directory) selectEndpoint(endpoints []Endpoint) (Endpoint, bool) {
	now := d.now()
	for _, profile := range d.profiles {
		for _, ep := range endpoints {
			if ep.TransportProfile == string(profile) && ep.Active(now) {
				return ep, true
			}
		}
	}
	return Endpoint{}, false
}

// classifySMPError maps SMP client failures onto the lookup error kinds.
func classifySMPError(err error) error {
	var dnsErr *net.DNSError
	switch {
	case errors.Is(err, ErrParticipantNotFound):
		return fmt.Errorf("%w: %v", lookup.ErrUnknownParticipant, err)
	case errors.Is(err, ErrDocumentTypeNotFound), errors.Is(err, ErrProcessNotFound):
		return fmt.Errorf("%w: %v", lookup.ErrUnsupportedService, err)
	case errors.As(err, &dnsErr) && dnsErr.IsNotFound:
		// BusDox SML: the participant host does not exist
		return fmt.Errorf("%w: %v", lookup.ErrUnknownParticipant, err)
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, ErrSMPUnavailable), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", lookup.ErrResolutionTimeout, err)
	}
	return err
}
