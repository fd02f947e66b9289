package sbdh

import (
	"encoding/xml"
	"errors"
	"regexp"
	"slices"
	"strings"

	"github.com/rdehuyss/oxalis/pkg/identifier"
)

// NamespaceXHEUBL is the namespace used by the UBL flavoured XHE drafts, still
// produced by some federations.
const NamespaceXHEUBL = "oasis:names:specification:ubl:schema:xsd:eDeliveryXHE-1"

var xheNamespaces = []string{"", NamespaceXHE, NamespaceXHEUBL}

var icdCode = regexp.MustCompile(`^[0-9]{4}$`)

type xheHeader struct {
	ID               string     `xml:"ID"`
	UUID             string     `xml:"UUID"`
	CreationDateTime string     `xml:"CreationDateTime"`
	FromParty        xheParty   `xml:"FromParty"`
	ToParty          []xheParty `xml:"ToParty"`
	Scopes           []scope    `xml:"BusinessScope>Scope"`
}

type xheParty struct {
	ID struct {
		SchemeID string `xml:"schemeID,attr"`
		Value    string `xml:",chardata"`
	} `xml:"PartyIdentification>ID"`
}

// participant maps an XHE party id to a participant identifier. A four digit
// schemeID is an ICD and becomes part of the ISO 6523 value.
func (p xheParty) participant() (identifier.ParticipantIdentifier, error) {
	scheme := strings.TrimSpace(p.ID.SchemeID)
	value := strings.TrimSpace(p.ID.Value)
	if value == "" {
		return identifier.ParticipantIdentifier{}, nil
	}
	if icdCode.MatchString(scheme) {
		return identifier.NewParticipantIdentifier(scheme + ":" + value)
	}
	return participantOrZero(scheme, value)
}

func isXHENamespace(space string) bool {
	return slices.Contains(xheNamespaces, space)
}

// extractXHE decodes the Header child of an XHE root and skips the payloads.
func extractXHE(dec *xml.Decoder) (*StandardBusinessHeader, error) {
	var hdr *xheHeader

	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, malformed(SourceXHE, err)
		}
		if _, ok := tok.(xml.EndElement); ok {
			break
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if start.Name.Local == "Header" && hdr == nil {
			hdr = new(xheHeader)
			if err := dec.DecodeElement(hdr, &start); err != nil {
				return nil, malformed(SourceXHE, err)
			}
			continue
		}
		if err := dec.Skip(); err != nil {
			return nil, malformed(SourceXHE, err)
		}
	}

	if hdr == nil {
		return nil, malformed(SourceXHE, errors.New("missing Header"))
	}
	h, err := hdr.toHeader()
	if err != nil {
		return nil, malformed(SourceXHE, err)
	}
	return h, nil
}

func (x *xheHeader) toHeader() (*StandardBusinessHeader, error) {
	h := &StandardBusinessHeader{Source: SourceXHE}

	var err error
	if h.Sender, err = x.FromParty.participant(); err != nil {
		return nil, err
	}
	if len(x.ToParty) > 0 {
		if h.Receiver, err = x.ToParty[0].participant(); err != nil {
			return nil, err
		}
	}
	if err := applyScopes(h, x.Scopes); err != nil {
		return nil, err
	}

	// the XHE ID identifies the envelope, not the documents it carries
	if id := strings.TrimSpace(x.ID); id != "" {
		if h.MessageID, err = newMessageID(id); err != nil {
			return nil, err
		}
	}
	if uuid := strings.TrimSpace(x.UUID); uuid != "" {
		h.DocumentIdentifiers = append(h.DocumentIdentifiers, uuid)
	}
	if h.CreationTime, err = parseCreationTime(strings.TrimSpace(x.CreationDateTime)); err != nil {
		return nil, err
	}
	return h, nil
}

func newMessageID(v string) (identifier.MessageIdentifier, error) {
	return identifier.NewMessageIdentifier(v)
}
