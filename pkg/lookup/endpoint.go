// Package lookup resolves the delivery endpoint of a participant for a given
// document type and process.
//
// A [Directory] performs the actual network lookup (BDXL and SMP, a static
// table, or a chain of both). The [Resolver] puts a bounded TTL cache,
// in-flight collapsing, a per-lookup timeout, bounded retries and certificate
// validation in front of it.
package lookup

import (
	"crypto/x509"
	"errors"
	"fmt"
	"net/url"
)

// TransportProfile identifies the wire protocol used to deliver to an endpoint.
type TransportProfile string

// Known transport profiles
const (
	ProfileAS2V1       TransportProfile = "busdox-transport-as2-ver1p0"
	ProfileAS2V2       TransportProfile = "busdox-transport-as2-ver2p0"
	ProfileBDXRAS4     TransportProfile = "bdxr-transport-ebms3-as4-v1p0"
	ProfileBDXRAS4V2   TransportProfile = "bdxr-transport-ebms3-as4-v2p0"
	ProfilePeppolAS4V2 TransportProfile = "peppol-transport-as4-v2_0"
	ProfileStart       TransportProfile = "busdox-transport-start"

	// ProfileLoopback hands documents to an in-process receiver. It is the
	// only profile that does not need a network address.
	ProfileLoopback TransportProfile = "loopback"
)

// RequiresNetwork reports whether delivery over p needs an address
func (p TransportProfile) RequiresNetwork() bool {
	return p != ProfileLoopback
}

func (p TransportProfile) String() string { return string(p) }

// ErrInvalidEndpoint is returned when endpoint data violates its invariants
var ErrInvalidEndpoint = errors.New("invalid endpoint")

// EndpointData is a resolved delivery target.
// Values handed out by this package are never shared between callers; use
// Clone before modifying one. Parsed certificates are treated as read-only and
// may be shared.
type EndpointData struct {
	TransportProfile TransportProfile
	Address          *url.URL
	Certificate      *x509.Certificate
}

// NewEndpointData validates and returns endpoint data. The address is
// mandatory for network profiles and must be absolute.
func NewEndpointData(profile TransportProfile, address *url.URL, cert *x509.Certificate) (*EndpointData, error) {
	e := &EndpointData{TransportProfile: profile, Address: address, Certificate: cert}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e.Clone(), nil
}

// ParseEndpointData is NewEndpointData for a textual address and a DER
// encoded certificate. A certificate that fails to parse is reported as
// ErrCertificateInvalid.
func ParseEndpointData(profile TransportProfile, address string, certDER []byte) (*EndpointData, error) {
	var u *url.URL
	if address != "" {
		var err error
		if u, err = url.Parse(address); err != nil {
			return nil, fmt.Errorf("%w: address: %v", ErrInvalidEndpoint, err)
		}
	}
	var cert *x509.Certificate
	if len(certDER) > 0 {
		var err error
		if cert, err = x509.ParseCertificate(certDER); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCertificateInvalid, err)
		}
	}
	return NewEndpointData(profile, u, cert)
}

// Validate checks the endpoint invariants
func (e *EndpointData) Validate() error {
	if e.TransportProfile == "" {
		return fmt.Errorf("%w: transport profile is required", ErrInvalidEndpoint)
	}
	if !e.TransportProfile.RequiresNetwork() {
		return nil
	}
	if e.Address == nil {
		return fmt.Errorf("%w: profile %s requires an address", ErrInvalidEndpoint, e.TransportProfile)
	}
	if !e.Address.IsAbs() || e.Address.Host == "" {
		return fmt.Errorf("%w: address %q is not an absolute URL", ErrInvalidEndpoint, e.Address)
	}
	return nil
}

// Clone returns a copy of e that shares nothing mutable with it
func (e *EndpointData) Clone() *EndpointData {
	if e == nil {
		return nil
	}
	c := *e
	if e.Address != nil {
		u := *e.Address
		if e.Address.User != nil {
			user := *e.Address.User
			u.User = &user
		}
		c.Address = &u
	}
	return &c
}

func (e *EndpointData) String() string {
	if e.Address == nil {
		return string(e.TransportProfile)
	}
	return fmt.Sprintf("%s %s", e.TransportProfile, e.Address)
}
