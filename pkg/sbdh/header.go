// Package sbdh extracts routing metadata from business document payloads.
//
// Two envelope formats are recognised at the root of a payload:
//
//   - the UN/CEFACT Standard Business Document Header (SBDH) as profiled by PEPPOL
//   - the OASIS eDelivery Exchange Header Envelope (XHE) 1.0
//
// [Extractor] streams the payload with encoding/xml and never buffers the
// whole document. When no envelope is present it reports "absent" rather than
// an error; [Sniffer] can then derive what it can from a bare UBL document.
package sbdh

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/rdehuyss/oxalis/pkg/identifier"
)

// Namespaces of the recognised envelopes
const (
	// NamespaceSBDH is the UN/CEFACT SBDH namespace
	NamespaceSBDH = "http://www.unece.org/cefact/namespaces/StandardBusinessDocumentHeader"
	// NamespaceXHE is the OASIS eDelivery XHE 1.0 namespace
	NamespaceXHE = "http://docs.oasis-open.org/bdxr/ns/XHE/1/ExchangeHeaderEnvelope"
)

// Business scope types carrying the document type and process
const (
	ScopeDocumentID = "DOCUMENTID"
	ScopeProcessID  = "PROCESSID"
)

// Source tells where the metadata of a header came from
type Source string

const (
	// SourceSBDH is a Standard Business Document Header
	SourceSBDH Source = "sbdh"
	// SourceXHE is an eDelivery Exchange Header Envelope
	SourceXHE Source = "xhe"
	// SourceUBL is a bare UBL document inspected by the Sniffer
	SourceUBL Source = "ubl"
)

// ErrRewind is returned when the payload stream cannot be repositioned.
// Payload streams must support seeking back to the start.
var ErrRewind = errors.New("payload stream could not be rewound")

// MalformedPayloadError reports an envelope that is present but unusable.
type MalformedPayloadError struct {
	Source Source
	Err    error
}

func (e *MalformedPayloadError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("malformed payload: %v", e.Err)
	}
	return fmt.Sprintf("malformed %s payload: %v", e.Source, e.Err)
}

func (e *MalformedPayloadError) Unwrap() error {
	return e.Err
}

// StandardBusinessHeader is the routing metadata of one document instance.
// Zero valued identifiers are unset.
type StandardBusinessHeader struct {
	Sender       identifier.ParticipantIdentifier
	Receiver     identifier.ParticipantIdentifier
	DocumentType identifier.DocumentTypeIdentifier
	Process      identifier.ProcessIdentifier
	// MessageID is a transmission identifier carried by the envelope, unset
	// when the envelope only identifies the business document.
	MessageID    identifier.MessageIdentifier
	CreationTime time.Time

	// InstanceIdentifier is the SBDH DocumentIdentification instance id. It
	// names the business document and is never used as the message id.
	InstanceIdentifier string

	// DocumentIdentifiers lists identifier values found in the payload
	// (envelope instance ids, cbc:ID and cbc:UUID of the business document).
	DocumentIdentifiers []string

	Source Source
}

// Clone returns a deep copy of h
func (h *StandardBusinessHeader) Clone() *StandardBusinessHeader {
	if h == nil {
		return nil
	}
	c := *h
	c.DocumentIdentifiers = slices.Clone(h.DocumentIdentifiers)
	return &c
}

// creationTimeLayouts are tried in order; SBDH commonly omits the zone.
var creationTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

func parseCreationTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range creationTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid creation time %q", s)
}

// scope is a business scope entry shared by SBDH and XHE
type scope struct {
	Type               string `xml:"Type"`
	InstanceIdentifier string `xml:"InstanceIdentifier"`
	Identifier         string `xml:"Identifier"`
}

// applyScopes fills document type and process from DOCUMENTID/PROCESSID scopes.
func applyScopes(h *StandardBusinessHeader, scopes []scope) error {
	for _, s := range scopes {
		switch s.Type {
		case ScopeDocumentID:
			scheme := s.Identifier
			if scheme == "" {
				scheme = identifier.SchemeDocumentType
			}
			d, err := identifier.NewDocumentTypeIdentifierWithScheme(scheme, s.InstanceIdentifier)
			if err != nil {
				return err
			}
			h.DocumentType = d
		case ScopeProcessID:
			scheme := s.Identifier
			if scheme == "" {
				scheme = identifier.SchemeProcess
			}
			p, err := identifier.NewProcessIdentifierWithScheme(scheme, s.InstanceIdentifier)
			if err != nil {
				return err
			}
			h.Process = p
		}
	}
	return nil
}

func participantOrZero(scheme, value string) (identifier.ParticipantIdentifier, error) {
	if value == "" {
		return identifier.ParticipantIdentifier{}, nil
	}
	if scheme == "" {
		scheme = identifier.SchemeParticipant
	}
	return identifier.NewParticipantIdentifierWithScheme(scheme, value)
}
